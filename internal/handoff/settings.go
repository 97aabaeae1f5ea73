package handoff

import (
	"context"
	"time"

	"handoffdesk/backend/internal/config"
	apperrors "handoffdesk/backend/internal/errors"
)

// Settings returns a copy of the active handoff settings.
func (s *Service) Settings() config.HandoffSettings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return cloneSettings(s.settings)
}

func cloneSettings(in config.HandoffSettings) config.HandoffSettings {
	out := in
	if in.Enabled != nil {
		enabled := *in.Enabled
		out.Enabled = &enabled
	}
	out.WorkingDays = append([]string(nil), in.WorkingDays...)
	out.WorkingHours = make(map[string]config.DayHours, len(in.WorkingHours))
	for day, hours := range in.WorkingHours {
		out.WorkingHours[day] = hours
	}
	return out
}

// UpdateSettings validates, persists and activates new settings.
func (s *Service) UpdateSettings(ctx context.Context, next config.HandoffSettings, updatedBy string) (config.HandoffSettings, error) {
	next.ApplyDefaults()
	if err := next.Validate(); err != nil {
		return config.HandoffSettings{}, apperrors.Validation("invalid handoff settings").WithDetails(err.Error())
	}
	schedule, err := NewSchedule(next)
	if err != nil {
		return config.HandoffSettings{}, apperrors.Validation("invalid handoff settings").WithDetails(err.Error())
	}
	if err := s.store.SaveSettings(ctx, next, updatedBy); err != nil {
		return config.HandoffSettings{}, err
	}
	s.apply(next, schedule)
	s.logger.Info().Str("updatedBy", updatedBy).Bool("enabled", next.IsEnabled()).Msg("handoff settings updated")
	return s.Settings(), nil
}

// LoadStoredSettings replaces the boot settings with the last saved override,
// if one exists.
func (s *Service) LoadStoredSettings(ctx context.Context) error {
	stored, err := s.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}
	stored.ApplyDefaults()
	schedule, err := NewSchedule(*stored)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring stored handoff settings")
		return nil
	}
	s.apply(*stored, schedule)
	return nil
}

func (s *Service) apply(settings config.HandoffSettings, schedule *Schedule) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	s.settings = settings
	s.schedule = schedule
}

// CheckAvailability reports why a support request made at now would be
// refused, or nil if it would be accepted.
func (s *Service) CheckAvailability(lang string, now time.Time) *apperrors.AppError {
	s.settingsMu.RLock()
	settings, schedule := s.settings, s.schedule
	s.settingsMu.RUnlock()

	if !settings.IsEnabled() {
		return apperrors.HandoffDisabled(s.text(lang, "handoff_disabled"))
	}
	if !settings.EnforceHours || schedule.IsWorkingTime(now) {
		return nil
	}

	formatted := settings.FormatWorkingSchedule()
	details := map[string]any{"workingSchedule": formatted}
	next, ok := schedule.NextWorkingTime(now)
	if !ok {
		return apperrors.OutsideWorkingHours(s.text(lang, "outside_working_hours", formatted)).WithDetails(details)
	}
	details["nextWorkingTime"] = next.UTC()
	local := next.In(schedule.Location()).Format("15:04 02/01")
	return apperrors.OutsideWorkingHours(s.text(lang, "outside_working_hours_next", formatted, local)).WithDetails(details)
}

// IsTrigger reports whether a chat message should offer escalation.
func (s *Service) IsTrigger(text string) bool {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return MatchesTrigger(s.settings, text)
}
