package experiment

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validScenario() *Scenario {
	return &Scenario{
		Name:                "step-regression",
		Description:         "one vehicle triples its event rate mid-window",
		StartDate:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowDays:          30,
		Vehicles:            10,
		TripsPerDay:         4,
		TripDurationHours:   6,
		BaselineRatePerHour: 0.5,
		RareEventRate:       0.02,
		Regressions: []InjectedRegression{
			{VehicleID: "VH_00003", OnsetDay: 15, HazardMultiplier: 3},
		},
	}
}

func TestScenario_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Scenario)
	}{
		{"window too short", func(s *Scenario) { s.WindowDays = 1 }},
		{"no vehicles", func(s *Scenario) { s.Vehicles = 0 }},
		{"no trips", func(s *Scenario) { s.TripsPerDay = 0 }},
		{"zero trip duration", func(s *Scenario) { s.TripDurationHours = 0 }},
		{"zero baseline rate", func(s *Scenario) { s.BaselineRatePerHour = 0 }},
		{"rare rate above one", func(s *Scenario) { s.RareEventRate = 1.5 }},
		{"missing start date", func(s *Scenario) { s.StartDate = time.Time{} }},
		{"regression without vehicle", func(s *Scenario) { s.Regressions[0].VehicleID = "" }},
		{"onset outside window", func(s *Scenario) { s.Regressions[0].OnsetDay = 30 }},
		{"onset on first day", func(s *Scenario) { s.Regressions[0].OnsetDay = 0 }},
		{"multiplier not a regression", func(s *Scenario) { s.Regressions[0].HazardMultiplier = 1.0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validScenario()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}

	t.Run("valid scenario passes", func(t *testing.T) {
		require.NoError(t, validScenario().Validate())
	})
}

func TestScenario_SaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	orig := validScenario()
	require.NoError(t, orig.Save(path))

	loaded, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, orig.Name, loaded.Name)
	assert.Equal(t, orig.WindowDays, loaded.WindowDays)
	assert.Equal(t, orig.Vehicles, loaded.Vehicles)
	assert.Equal(t, orig.TripsPerDay, loaded.TripsPerDay)
	assert.Equal(t, orig.TripDurationHours, loaded.TripDurationHours)
	assert.Equal(t, orig.BaselineRatePerHour, loaded.BaselineRatePerHour)
	assert.Equal(t, orig.RareEventRate, loaded.RareEventRate)
	assert.Equal(t, orig.Regressions, loaded.Regressions)
	assert.True(t, orig.StartDate.Equal(loaded.StartDate))
}

func TestLoadScenario_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("invalid scenario rejected on load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		bad := validScenario()
		bad.Vehicles = 0
		require.NoError(t, bad.Save(path))

		_, err := LoadScenario(path)
		require.Error(t, err)
	})
}
