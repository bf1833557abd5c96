package fleetgen

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fleetsight-systems/fleetsight/internal/experiment"
)

// FromScenario maps a declarative scenario onto a generator config.
// The scenario's fixed rates pin the generator's per-trip draws.
func FromScenario(sc *experiment.Scenario, seed uint64) Config {
	cfg := Config{
		Start:              sc.StartDate,
		Days:               sc.WindowDays,
		Vehicles:           sc.Vehicles,
		TripsPerVehicleDay: sc.TripsPerDay,
		BaseRatePerHourMin: sc.BaselineRatePerHour,
		BaseRatePerHourMax: sc.BaselineRatePerHour,
		RareEventRate:      sc.RareEventRate,
		Seed:               seed,
	}
	if sc.TripDurationHours > 0 {
		cfg.TripMinutesMin = sc.TripDurationHours * 60
		cfg.TripMinutesMax = sc.TripDurationHours * 60
	}
	for _, r := range sc.Regressions {
		cfg.Regressions = append(cfg.Regressions, Injection{
			VehicleID:  r.VehicleID,
			OnsetDay:   r.OnsetDay,
			Multiplier: r.HazardMultiplier,
		})
	}
	return cfg
}

// Scenario builds the ground-truth sidecar for a generated fleet, so
// experiments can score detections against what was actually injected.
func (f *Fleet) Scenario(name string, cfg Config) *experiment.Scenario {
	cfg = cfg.withDefaults()
	sc := &experiment.Scenario{
		Name:                name,
		StartDate:           f.Start,
		WindowDays:          f.Days,
		Vehicles:            cfg.Vehicles,
		TripsPerDay:         cfg.TripsPerVehicleDay,
		TripDurationHours:   (cfg.TripMinutesMin + cfg.TripMinutesMax) / 2 / 60,
		BaselineRatePerHour: (cfg.BaseRatePerHourMin + cfg.BaseRatePerHourMax) / 2,
		RareEventRate:       cfg.RareEventRate,
	}
	for _, inj := range f.Injected {
		sc.Regressions = append(sc.Regressions, experiment.InjectedRegression{
			VehicleID:        inj.VehicleID,
			OnsetDay:         inj.OnsetDay,
			HazardMultiplier: inj.Multiplier,
		})
	}
	return sc
}

// WriteJSONL saves the corpus as trips.jsonl and events.jsonl under dir.
func (f *Fleet) WriteJSONL(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := writeJSONL(filepath.Join(dir, "trips.jsonl"), len(f.Trips), func(i int) any { return f.Trips[i] }); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(dir, "events.jsonl"), len(f.Events), func(i int) any { return f.Events[i] })
}

func writeJSONL(path string, n int, record func(i int) any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for i := 0; i < n; i++ {
		data, err := json.Marshal(record(i))
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}
