package handoff

import (
	"fmt"
	"strings"
	"time"

	"handoffdesk/backend/internal/config"

	"github.com/robfig/cron/v3"
)

// Schedule answers working-hours questions for one settings snapshot.
type Schedule struct {
	settings config.HandoffSettings
	loc      *time.Location
	openings []cron.Schedule
}

// NewSchedule compiles each working day's opening time into a cron schedule
// in the configured timezone.
func NewSchedule(s config.HandoffSettings) (*Schedule, error) {
	loc, err := s.Location()
	if err != nil {
		return nil, err
	}
	sched := &Schedule{settings: s, loc: loc}
	for _, day := range s.WorkingDays {
		hours, ok := s.WorkingHours[day]
		if !ok {
			continue
		}
		start := config.ClockMinutes(hours.Start)
		if start < 0 {
			return nil, fmt.Errorf("working hours: bad start %q for %s", hours.Start, day)
		}
		spec := fmt.Sprintf("CRON_TZ=%s %d %d * * %d", loc.String(), start%60, start/60, weekdayIndex(day))
		cs, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("working hours: %s: %w", day, err)
		}
		sched.openings = append(sched.openings, cs)
	}
	return sched, nil
}

func weekdayIndex(day string) int {
	for i, d := range config.Weekdays {
		if d == day {
			return i
		}
	}
	return -1
}

// IsWorkingTime reports whether t falls inside a working day's window. Both
// ends are inclusive at minute resolution.
func (s *Schedule) IsWorkingTime(t time.Time) bool {
	local := t.In(s.loc)
	day := config.Weekdays[local.Weekday()]
	if !s.worksOn(day) {
		return false
	}
	hours, ok := s.settings.WorkingHours[day]
	if !ok {
		return false
	}
	now := local.Hour()*60 + local.Minute()
	return now >= config.ClockMinutes(hours.Start) && now <= config.ClockMinutes(hours.End)
}

func (s *Schedule) worksOn(day string) bool {
	for _, d := range s.settings.WorkingDays {
		if d == day {
			return true
		}
	}
	return false
}

// NextWorkingTime returns t itself during working hours, otherwise the next
// opening. ok is false when no working day is configured.
func (s *Schedule) NextWorkingTime(t time.Time) (time.Time, bool) {
	if s.IsWorkingTime(t) {
		return t, true
	}
	var next time.Time
	for _, cs := range s.openings {
		n := cs.Next(t)
		if n.IsZero() {
			continue
		}
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next, !next.IsZero()
}

// Location is the schedule's timezone.
func (s *Schedule) Location() *time.Location { return s.loc }

// MatchesTrigger reports whether text contains one of the comma-separated
// trigger keywords, ignoring case.
func MatchesTrigger(settings config.HandoffSettings, text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range settings.Triggers() {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
