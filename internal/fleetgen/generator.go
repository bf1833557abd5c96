// Package fleetgen generates a synthetic fleet telemetry corpus:
// trips, safety events, rare failures, and injected hazard regressions
// with known onsets for experiment ground truth.
package fleetgen

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// Injection is one injected regression: the vehicle's event rate is
// multiplied from the onset day to the end of the window.
type Injection struct {
	VehicleID  string
	OnsetDay   int
	Multiplier float64
}

// Config controls corpus generation. Zero values fall back to the
// defaults of the production seeder.
type Config struct {
	Start              time.Time
	Days               int
	Vehicles           int
	TripsPerVehicleDay int
	// Trip duration bounds in minutes, drawn uniformly per trip.
	TripMinutesMin float64
	TripMinutesMax float64
	// Common event rate per driving hour, drawn per trip.
	BaseRatePerHourMin float64
	BaseRatePerHourMax float64
	// RareEventRate is the per-trip probability of a rare failure.
	RareEventRate float64
	// RegressionProb injects a random regression per vehicle when no
	// explicit Regressions are given.
	RegressionProb float64
	Regressions    []Injection
	Seed           uint64
}

func (c Config) withDefaults() Config {
	if c.Days <= 0 {
		c.Days = 90
	}
	if c.Vehicles <= 0 {
		c.Vehicles = 200
	}
	if c.TripsPerVehicleDay <= 0 {
		c.TripsPerVehicleDay = 5
	}
	if c.TripMinutesMin <= 0 {
		c.TripMinutesMin = 10
	}
	if c.TripMinutesMax < c.TripMinutesMin {
		c.TripMinutesMax = 120
	}
	if c.BaseRatePerHourMin <= 0 {
		c.BaseRatePerHourMin = 0.5
	}
	if c.BaseRatePerHourMax < c.BaseRatePerHourMin {
		c.BaseRatePerHourMax = 2.0
	}
	if c.RareEventRate <= 0 {
		c.RareEventRate = 0.001
	}
	if c.Start.IsZero() {
		c.Start = time.Now().UTC().AddDate(0, 0, -c.Days)
	}
	c.Start = time.Date(c.Start.Year(), c.Start.Month(), c.Start.Day(), 0, 0, 0, 0, time.UTC)
	return c
}

// Fleet is a generated corpus with its ground truth.
type Fleet struct {
	Start    time.Time
	Days     int
	Trips    []models.Trip
	Events   []models.Event
	Injected []Injection
}

var operatingModes = []string{"autonomous", "manual", "transition"}

// eventKinds are the common telemetry event families with their
// severity and category pools. Order is fixed so generation is
// reproducible under a seed.
var eventKinds = []struct {
	name       string
	severities []string
	categories []string
}{
	{"safety_intervention", []string{"critical", "warning"}, []string{"perception", "planning", "control"}},
	{"fault", []string{"critical", "warning", "info"}, []string{"perception", "planning", "control", "system"}},
	{"mode_transition", []string{"info"}, []string{"system"}},
	{"latency_spike", []string{"warning", "info"}, []string{"system"}},
}

var rareEventTypes = []string{
	"RARE_CRITICAL_FAULT",
	"RARE_PERCEPTION_FAILURE",
	"RARE_CONTROL_DEGRADATION",
	"RARE_SYSTEM_CASCADE",
}

var rareCategories = []string{"perception", "planning", "control", "system"}

// Generate builds the full corpus. The same Config always yields the
// same fleet.
func Generate(cfg Config) *Fleet {
	cfg = cfg.withDefaults()
	faker := gofakeit.New(int64(cfg.Seed))

	vehicles := make([]string, cfg.Vehicles)
	for i := range vehicles {
		vehicles[i] = fmt.Sprintf("VH_%05d", i+1)
	}

	injected := cfg.Regressions
	if len(injected) == 0 && cfg.RegressionProb > 0 {
		for _, v := range vehicles {
			if faker.Float64Range(0, 1) >= cfg.RegressionProb {
				continue
			}
			injected = append(injected, Injection{
				VehicleID:  v,
				OnsetDay:   faker.Number(cfg.Days/3, cfg.Days-1),
				Multiplier: faker.Float64Range(1.5, 3.0),
			})
		}
	}
	onsetByVehicle := make(map[string]Injection, len(injected))
	for _, inj := range injected {
		onsetByVehicle[inj.VehicleID] = inj
	}

	fleet := &Fleet{Start: cfg.Start, Days: cfg.Days, Injected: injected}
	tripCounter := 0

	for day := 0; day < cfg.Days; day++ {
		date := cfg.Start.AddDate(0, 0, day)
		for _, vehicleID := range vehicles {
			mult := 1.0
			if inj, ok := onsetByVehicle[vehicleID]; ok && day >= inj.OnsetDay {
				mult = inj.Multiplier
			}

			// Vary trips per day (80-120% of average)
			dailyTrips := int(float64(cfg.TripsPerVehicleDay) * faker.Float64Range(0.8, 1.2))
			if dailyTrips < 1 {
				dailyTrips = 1
			}

			for t := 0; t < dailyTrips; t++ {
				start := date.Add(
					time.Duration(faker.Number(6, 22))*time.Hour +
						time.Duration(faker.Number(0, 59))*time.Minute)
				durationMinutes := faker.Float64Range(cfg.TripMinutesMin, cfg.TripMinutesMax)
				end := start.Add(time.Duration(durationMinutes * float64(time.Minute)))

				tripID := fmt.Sprintf("TRIP_%s_%06d", date.Format("20060102"), tripCounter)
				tripCounter++

				fleet.Trips = append(fleet.Trips, models.Trip{
					TripID:        tripID,
					VehicleID:     vehicleID,
					StartTS:       start,
					EndTS:         end,
					OperatingMode: faker.RandomString(operatingModes),
				})
				fleet.Events = append(fleet.Events,
					tripEvents(faker, cfg, tripID, vehicleID, start, durationMinutes/60, mult)...)
			}
		}
	}
	return fleet
}

// tripEvents generates the common events of one trip plus, with low
// probability, a single rare failure.
func tripEvents(faker *gofakeit.Faker, cfg Config, tripID, vehicleID string, start time.Time, tripHours, mult float64) []models.Event {
	rate := faker.Float64Range(cfg.BaseRatePerHourMin, cfg.BaseRatePerHourMax) * mult
	count := poisson(faker, rate*tripHours)

	events := make([]models.Event, 0, count+1)
	for i := 0; i < count; i++ {
		kind := eventKinds[faker.Number(0, len(eventKinds)-1)]
		latency := faker.Float64Range(10, 100)
		if kind.name == "latency_spike" {
			latency = faker.Float64Range(50, 200)
		}
		events = append(events, models.Event{
			EventID:         fmt.Sprintf("%s_EVT_%03d", tripID, i),
			TripID:          tripID,
			VehicleID:       vehicleID,
			Timestamp:       start.Add(time.Duration(faker.Float64Range(0, tripHours*3600)) * time.Second),
			EventType:       kind.name,
			Severity:        faker.RandomString(kind.severities),
			EventCategory:   faker.RandomString(kind.categories),
			LatencyMS:       latency,
			ConfidenceScore: faker.Float64Range(0.7, 1.0),
		})
	}

	if faker.Float64Range(0, 1) < cfg.RareEventRate {
		events = append(events, models.Event{
			EventID:         fmt.Sprintf("%s_RARE_%03d", tripID, count),
			TripID:          tripID,
			VehicleID:       vehicleID,
			Timestamp:       start.Add(time.Duration(faker.Float64Range(0, tripHours*3600)) * time.Second),
			EventType:       faker.RandomString(rareEventTypes),
			Severity:        models.SeverityCritical,
			EventCategory:   faker.RandomString(rareCategories),
			IsRareEvent:     true,
			LatencyMS:       faker.Float64Range(200, 500),
			ConfidenceScore: faker.Float64Range(0.3, 0.7),
		})
	}
	return events
}

// poisson draws a Poisson count by Knuth's method. Means here stay
// small (events per trip), so the multiplication chain is fine.
func poisson(faker *gofakeit.Faker, mean float64) int {
	if mean <= 0 {
		return 0
	}
	limit := math.Exp(-mean)
	k := 0
	p := 1.0
	for {
		p *= faker.Float64Range(0, 1)
		if p < limit {
			return k
		}
		k++
	}
}

// SortByTime orders trips and events chronologically, the order the
// staging loaders expect.
func (f *Fleet) SortByTime() {
	sort.Slice(f.Trips, func(i, j int) bool { return f.Trips[i].StartTS.Before(f.Trips[j].StartTS) })
	sort.Slice(f.Events, func(i, j int) bool { return f.Events[i].Timestamp.Before(f.Events[j].Timestamp) })
}
