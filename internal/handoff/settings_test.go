package handoff

import (
	"context"
	"testing"

	"handoffdesk/backend/internal/config"
	apperrors "handoffdesk/backend/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateSettings_PersistsAndApplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	next := f.svc.Settings()
	next.AgentAlias = "Tư vấn viên"
	next.TriggerPattern = "tư vấn, gặp người"
	updated, err := f.svc.UpdateSettings(ctx, next, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "Tư vấn viên", updated.AgentAlias)
	assert.True(t, f.svc.IsTrigger("Cho em GẶP NGƯỜI thật"))

	stored, err := f.store.GetSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Tư vấn viên", stored.AgentAlias)

	fresh, err := NewService(Options{
		Store:     f.store,
		Publisher: f.events,
		Dedup:     f.svc.dedup,
		Settings:  config.DefaultHandoffSettings(),
	})
	require.NoError(t, err)
	t.Cleanup(fresh.Close)
	require.NoError(t, fresh.LoadStoredSettings(ctx))
	assert.Equal(t, "Tư vấn viên", fresh.Settings().AgentAlias)
}

func TestUpdateSettings_RejectsInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	next := f.svc.Settings()
	next.WorkingHours["monday"] = config.DayHours{Start: "18:00", End: "09:00"}

	_, err := f.svc.UpdateSettings(context.Background(), next, "admin-1")

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	assert.Equal(t, "09:00", f.svc.Settings().WorkingHours["monday"].Start)
}

func TestSettingsReturnsCopy(t *testing.T) {
	f := newFixture(t)
	s := f.svc.Settings()
	s.WorkingHours["monday"] = config.DayHours{Start: "00:00", End: "01:00"}
	s.WorkingDays[0] = "sunday"

	again := f.svc.Settings()
	assert.Equal(t, "09:00", again.WorkingHours["monday"].Start)
	assert.Equal(t, "monday", again.WorkingDays[0])
}

func TestTimeoutFromSettings(t *testing.T) {
	settings := config.DefaultHandoffSettings()
	settings.TimeoutSeconds = 90
	svc, err := NewService(Options{Settings: settings})
	require.NoError(t, err)
	assert.Equal(t, 90_000, int(svc.Timeout().Milliseconds()))
}
