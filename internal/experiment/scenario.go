package experiment

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// InjectedRegression is one ground-truth hazard regression: the named
// vehicle's event rate is multiplied from the onset day onward.
type InjectedRegression struct {
	VehicleID        string  `yaml:"vehicle_id"`
	OnsetDay         int     `yaml:"onset_day"`
	HazardMultiplier float64 `yaml:"hazard_multiplier"`
}

// Scenario describes a synthetic fleet window with known regressions.
// The seed command writes one next to generated corpora so experiments
// can score detections against the truth.
type Scenario struct {
	Name                string               `yaml:"name"`
	Description         string               `yaml:"description,omitempty"`
	StartDate           time.Time            `yaml:"start_date"`
	WindowDays          int                  `yaml:"window_days"`
	Vehicles            int                  `yaml:"vehicles"`
	TripsPerDay         int                  `yaml:"trips_per_day"`
	TripDurationHours   float64              `yaml:"trip_duration_hours"`
	BaselineRatePerHour float64              `yaml:"baseline_rate_per_hour"`
	RareEventRate       float64              `yaml:"rare_event_rate"`
	Regressions         []InjectedRegression `yaml:"regressions"`
}

// LoadScenario reads and validates a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// Save writes the scenario as YAML. Used as the ground-truth sidecar
// for generated corpora.
func (s *Scenario) Save(path string) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write scenario: %w", err)
	}
	return nil
}

func (s *Scenario) Validate() error {
	if s.WindowDays < 2 {
		return fmt.Errorf("window_days must be at least 2, got %d", s.WindowDays)
	}
	if s.Vehicles < 1 {
		return fmt.Errorf("vehicles must be positive, got %d", s.Vehicles)
	}
	if s.TripsPerDay < 1 {
		return fmt.Errorf("trips_per_day must be positive, got %d", s.TripsPerDay)
	}
	if s.TripDurationHours <= 0 {
		return fmt.Errorf("trip_duration_hours must be positive, got %g", s.TripDurationHours)
	}
	if s.BaselineRatePerHour <= 0 {
		return fmt.Errorf("baseline_rate_per_hour must be positive, got %g", s.BaselineRatePerHour)
	}
	if s.RareEventRate < 0 || s.RareEventRate > 1 {
		return fmt.Errorf("rare_event_rate must be in [0,1], got %g", s.RareEventRate)
	}
	if s.StartDate.IsZero() {
		return fmt.Errorf("start_date is required")
	}
	for i, r := range s.Regressions {
		if r.VehicleID == "" {
			return fmt.Errorf("regression %d: vehicle_id is required", i)
		}
		if r.OnsetDay < 1 || r.OnsetDay >= s.WindowDays {
			return fmt.Errorf("regression %d: onset_day %d outside window (1..%d)", i, r.OnsetDay, s.WindowDays-1)
		}
		if r.HazardMultiplier <= 1 {
			return fmt.Errorf("regression %d: hazard_multiplier must exceed 1, got %g", i, r.HazardMultiplier)
		}
	}
	return nil
}
