package models

import "time"

// SurvivalOutput is one persisted row of model_survival_outputs: a
// vehicle's hazard and time-to-event estimates from one survival fit,
// with the run's convergence diagnostics attached.
type SurvivalOutput struct {
	ModelRunID               string         `json:"model_run_id"`
	ModelRunTimestamp        time.Time      `json:"model_run_timestamp"`
	VehicleID                string         `json:"vehicle_id"`
	DateKey                  time.Time      `json:"date_key"`
	BaselineHazardRate       float64        `json:"baseline_hazard_rate"`
	HazardRateLowerCI        float64        `json:"hazard_rate_lower_ci"`
	HazardRateUpperCI        float64        `json:"hazard_rate_upper_ci"`
	PredictedTimeToEventHrs  float64        `json:"predicted_time_to_event_hours"`
	PredictedTimeLowerCI     float64        `json:"predicted_time_lower_ci"`
	PredictedTimeUpperCI     float64        `json:"predicted_time_upper_ci"`
	ConvergenceFlag          bool           `json:"convergence_flag"`
	RhatMax                  float64        `json:"rhat_max"`
	EffectiveSampleSize      float64        `json:"effective_sample_size"`
	ModelVersion             string         `json:"model_version"`
	Hyperparameters          map[string]any `json:"hyperparameters,omitempty"`
}

// ChangepointOutput is one persisted row of model_changepoint_outputs:
// the audit record of one change-point scan over a vehicle's series,
// written whether or not a change was detected.
type ChangepointOutput struct {
	ModelRunID             string         `json:"model_run_id"`
	ModelRunTimestamp      time.Time      `json:"model_run_timestamp"`
	VehicleID              string         `json:"vehicle_id"`
	DateKey                time.Time      `json:"date_key"`
	ChangepointDetected    bool           `json:"changepoint_detected"`
	ChangepointTimestamp   *time.Time     `json:"changepoint_timestamp,omitempty"`
	ChangepointProbability float64        `json:"changepoint_probability"`
	PreChangeHazardRate    float64        `json:"pre_change_hazard_rate"`
	PostChangeHazardRate   float64        `json:"post_change_hazard_rate"`
	HazardRatio            *float64       `json:"hazard_ratio,omitempty"`
	HazardRatioLowerCI     *float64       `json:"hazard_ratio_lower_ci,omitempty"`
	HazardRatioUpperCI     *float64       `json:"hazard_ratio_upper_ci,omitempty"`
	ConvergenceFlag        bool           `json:"convergence_flag"`
	RhatMax                float64        `json:"rhat_max"`
	ModelVersion           string         `json:"model_version"`
	Hyperparameters        map[string]any `json:"hyperparameters,omitempty"`
}
