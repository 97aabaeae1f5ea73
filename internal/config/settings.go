package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Weekdays in time.Weekday order.
var Weekdays = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

var clockPattern = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// DayHours is an inclusive HH:mm window for one weekday.
type DayHours struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// HandoffSettings controls when and how conversations can be escalated to a
// human agent.
type HandoffSettings struct {
	Enabled        *bool               `yaml:"enabled" json:"isEnabled"`
	AgentAlias     string              `yaml:"agent_alias" json:"agentAlias"`
	TriggerPattern string              `yaml:"trigger_pattern" json:"triggerPattern"`
	Timezone       string              `yaml:"timezone" json:"timezone"`
	EnforceHours   bool                `yaml:"enforce_working_hours" json:"enforceWorkingHours"`
	WorkingDays    []string            `yaml:"working_days" json:"workingDays"`
	WorkingHours   map[string]DayHours `yaml:"working_hours" json:"workingHours"`
	TimeoutSeconds int                 `yaml:"timeout_duration" json:"timeoutDuration"`
}

// DefaultHandoffSettings returns the settings used when no file is configured.
func DefaultHandoffSettings() HandoffSettings {
	var s HandoffSettings
	s.ApplyDefaults()
	return s
}

// LoadHandoffSettings reads a YAML settings file from path and returns validated settings.
func LoadHandoffSettings(path string) (*HandoffSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	return ParseHandoffSettings(data)
}

// ParseHandoffSettings parses YAML bytes, fills defaults and validates.
func ParseHandoffSettings(data []byte) (*HandoffSettings, error) {
	var s HandoffSettings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("settings: parse: %w", err)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *HandoffSettings) ApplyDefaults() {
	if s.Enabled == nil {
		enabled := true
		s.Enabled = &enabled
	}
	if s.AgentAlias == "" {
		s.AgentAlias = "Agent"
	}
	if s.TriggerPattern == "" {
		s.TriggerPattern = "support,help,agent"
	}
	if s.Timezone == "" {
		s.Timezone = "Asia/Ho_Chi_Minh"
	}
	if len(s.WorkingDays) == 0 {
		s.WorkingDays = []string{"monday", "tuesday", "wednesday", "thursday", "friday"}
	}
	if s.WorkingHours == nil {
		s.WorkingHours = make(map[string]DayHours, len(s.WorkingDays))
		for _, day := range s.WorkingDays {
			s.WorkingHours[day] = DayHours{Start: "09:00", End: "18:00"}
		}
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = int(DefaultHandoffTimeout / time.Second)
	}
	for i, day := range s.WorkingDays {
		s.WorkingDays[i] = strings.ToLower(strings.TrimSpace(day))
	}
}

func (s *HandoffSettings) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func (s *HandoffSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Location resolves the configured timezone. Offsets appended to the zone name
// ("Asia/Kolkata+05:30") are ignored.
func (s *HandoffSettings) Location() (*time.Location, error) {
	name := s.Timezone
	if i := strings.IndexAny(name, "+-"); i > 0 {
		name = name[:i]
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("settings: timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// Validate checks the working-hours schedule and returns every problem found.
func (s *HandoffSettings) Validate() error {
	var errs []error

	if len(s.WorkingDays) == 0 {
		errs = append(errs, errors.New("at least one working day must be selected"))
	}
	for _, day := range s.WorkingDays {
		if !isWeekday(day) {
			errs = append(errs, fmt.Errorf("unknown working day %q", day))
			continue
		}
		hours, ok := s.WorkingHours[day]
		if !ok {
			errs = append(errs, fmt.Errorf("working hours not configured for %s", day))
			continue
		}
		if !clockPattern.MatchString(hours.Start) {
			errs = append(errs, fmt.Errorf("invalid start time format for %s: %s", day, hours.Start))
		}
		if !clockPattern.MatchString(hours.End) {
			errs = append(errs, fmt.Errorf("invalid end time format for %s: %s", day, hours.End))
		}
		if ClockMinutes(hours.Start) >= ClockMinutes(hours.End) {
			errs = append(errs, fmt.Errorf("start time must be before end time for %s", day))
		}
	}
	if _, err := s.Location(); err != nil {
		errs = append(errs, err)
	}
	if s.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("timeout duration must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("settings: %w", errors.Join(errs...))
	}
	return nil
}

// FormatWorkingSchedule renders the schedule as "Monday: 09:00 - 18:00, ...".
func (s *HandoffSettings) FormatWorkingSchedule() string {
	var parts []string
	for _, day := range s.WorkingDays {
		hours, ok := s.WorkingHours[day]
		if !ok || day == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s%s: %s - %s", strings.ToUpper(day[:1]), day[1:], hours.Start, hours.End))
	}
	return strings.Join(parts, ", ")
}

// Triggers splits the comma-separated trigger pattern into lowercase keywords.
func (s *HandoffSettings) Triggers() []string {
	var out []string
	for _, kw := range strings.Split(s.TriggerPattern, ",") {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func isWeekday(day string) bool {
	for _, d := range Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// ClockMinutes converts a validated "HH:mm" into minutes after midnight; -1 if malformed.
func ClockMinutes(clock string) int {
	var h, m int
	if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil {
		return -1
	}
	return h*60 + m
}
