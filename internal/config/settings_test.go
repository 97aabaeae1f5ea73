package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHandoffSettings_Defaults(t *testing.T) {
	s, err := ParseHandoffSettings([]byte("{}"))
	require.NoError(t, err)

	assert.True(t, s.IsEnabled())
	assert.Equal(t, "Agent", s.AgentAlias)
	assert.Equal(t, []string{"support", "help", "agent"}, s.Triggers())
	assert.Equal(t, "Asia/Ho_Chi_Minh", s.Timezone)
	assert.Equal(t, 60*time.Second, s.Timeout())
	assert.Len(t, s.WorkingDays, 5)
	assert.Equal(t, DayHours{Start: "09:00", End: "18:00"}, s.WorkingHours["monday"])
}

func TestParseHandoffSettings_Explicit(t *testing.T) {
	data := []byte(`
enabled: false
agent_alias: "Tư vấn viên"
trigger_pattern: "Tư vấn, HUMAN"
timezone: "Asia/Kolkata+05:30"
working_days: [Saturday]
working_hours:
  saturday: {start: "08:00", end: "12:30"}
timeout_duration: 90
`)
	s, err := ParseHandoffSettings(data)
	require.NoError(t, err)

	assert.False(t, s.IsEnabled())
	assert.Equal(t, []string{"saturday"}, s.WorkingDays)
	assert.Equal(t, []string{"tư vấn", "human"}, s.Triggers())
	assert.Equal(t, 90*time.Second, s.Timeout())

	loc, err := s.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())
	assert.Equal(t, "Saturday: 08:00 - 12:30", s.FormatWorkingSchedule())
}

func TestHandoffSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		s       HandoffSettings
		wantErr []string
	}{
		{
			name:    "missing hours for day",
			s:       HandoffSettings{WorkingDays: []string{"monday"}, WorkingHours: map[string]DayHours{}, Timezone: "UTC", TimeoutSeconds: 60},
			wantErr: []string{"working hours not configured for monday"},
		},
		{
			name: "bad format and order",
			s: HandoffSettings{
				WorkingDays:    []string{"tuesday"},
				WorkingHours:   map[string]DayHours{"tuesday": {Start: "25:00", End: "08:00"}},
				Timezone:       "UTC",
				TimeoutSeconds: 60,
			},
			wantErr: []string{"invalid start time format for tuesday", "start time must be before end time"},
		},
		{
			name:    "no days",
			s:       HandoffSettings{Timezone: "UTC", TimeoutSeconds: 60},
			wantErr: []string{"at least one working day"},
		},
		{
			name: "unknown timezone",
			s: HandoffSettings{
				WorkingDays:    []string{"monday"},
				WorkingHours:   map[string]DayHours{"monday": {Start: "09:00", End: "10:00"}},
				Timezone:       "Mars/Olympus",
				TimeoutSeconds: 60,
			},
			wantErr: []string{"Mars/Olympus"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestLoadHandoffSettings_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handoff.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent_alias: Desk\n"), 0o600))

	s, err := LoadHandoffSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "Desk", s.AgentAlias)

	_, err = LoadHandoffSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
