package models

import "time"

// Model kinds recorded on a ModelRun
const (
	ModelKindSurvival           = "survival"
	ModelKindChangepoint        = "changepoint"
	ModelKindImportanceSampling = "importance_sampling"
)

// ExposureRecord is one unit of observed exposure derived from a trip:
// how long the vehicle was exposed and whether a safety event occurred.
type ExposureRecord struct {
	VehicleID     string  `json:"vehicle_id"`
	DurationHours float64 `json:"duration_hours"`
	EventOccurred bool    `json:"event_occurred"`
}

// CountPeriod is one day of a vehicle's event-count series.
type CountPeriod struct {
	Date          time.Time `json:"date"`
	EventCount    int       `json:"event_count"`
	ExposureHours float64   `json:"exposure_hours"`
}

// VehicleSeries is a vehicle's per-period event counts, ordered by date.
// Ordering matters only within a single vehicle's series.
type VehicleSeries struct {
	VehicleID string        `json:"vehicle_id"`
	Periods   []CountPeriod `json:"periods"`
}

// TotalEvents returns the event count summed across all periods.
func (s VehicleSeries) TotalEvents() int {
	n := 0
	for _, p := range s.Periods {
		n += p.EventCount
	}
	return n
}

// After returns a copy of the series restricted to periods strictly
// after cutoff. Used to resume monitoring past a confirmed change-point.
func (s VehicleSeries) After(cutoff time.Time) VehicleSeries {
	out := VehicleSeries{VehicleID: s.VehicleID}
	for _, p := range s.Periods {
		if p.Date.After(cutoff) {
			out.Periods = append(out.Periods, p)
		}
	}
	return out
}

// ModelRun records one fit of a model, with its convergence diagnostics.
// Every produced estimate references exactly one ModelRun. A run is
// published atomically: either a complete diagnostic-validated run is
// written, or nothing is.
type ModelRun struct {
	RunID               string         `json:"run_id"`
	RunTimestamp        time.Time      `json:"run_timestamp"`
	ModelKind           string         `json:"model_kind"` // survival, changepoint, importance_sampling
	ConvergenceFlag     bool           `json:"convergence_flag"`
	RhatMax             float64        `json:"rhat_max"`
	EffectiveSampleSize float64        `json:"effective_sample_size"`
	Hyperparameters     map[string]any `json:"hyperparameters,omitempty"`
}

// HazardEstimate is one point estimate with credible bounds produced by a
// survival model fit. Estimates are superseded by later fits, never mutated.
// A nil VehicleID means the estimate is fleet-wide.
type HazardEstimate struct {
	ModelRunID         string    `json:"model_run_id"`
	VehicleID          *string   `json:"vehicle_id,omitempty"`
	AsOfDate           time.Time `json:"as_of_date"`
	ShapeParam         float64   `json:"shape_param"`
	ScaleParam         float64   `json:"scale_param"`
	TimePointHours     float64   `json:"time_point_hours"`
	HazardRate         float64   `json:"hazard_rate"`
	CredibleIntervalLo float64   `json:"credible_interval_lo"`
	CredibleIntervalHi float64   `json:"credible_interval_hi"`
}

// Estimate is a posterior point estimate with a credible interval.
type Estimate struct {
	Mean float64 `json:"mean"`
	Lo   float64 `json:"lo"`
	Hi   float64 `json:"hi"`
}

// RunDiagnostics summarizes MCMC convergence for one fit.
// ConvergenceFlag must equal (RhatMax < 1.01).
type RunDiagnostics struct {
	RhatMax         float64 `json:"rhat_max"`
	MinESS          float64 `json:"min_ess"`
	ConvergenceFlag bool    `json:"convergence_flag"`
}

// BatchDiagnostics counts the recoverable failures of one batch run.
// The batch completes and publishes the valid subset of outputs; these
// counts are surfaced alongside them.
type BatchDiagnostics struct {
	RunID               string    `json:"run_id"`
	RunTimestamp        time.Time `json:"run_timestamp"`
	VehiclesTotal       int       `json:"vehicles_total"`
	VehiclesSkipped     int       `json:"vehicles_skipped"`
	InsufficientData    int       `json:"insufficient_data_warnings"`
	NonConvergentRuns   int       `json:"non_convergent_runs"`
	DegenerateBaselines int       `json:"degenerate_baselines"`
	EpisodesConfirmed   int       `json:"episodes_confirmed"`
}
