package models

import "time"

// SamplingMethod selects one of the resampling schemes.
type SamplingMethod string

// The closed set of sampling methods compared by an experiment.
const (
	MethodUniform    SamplingMethod = "uniform"
	MethodStratified SamplingMethod = "stratified"
	MethodImportance SamplingMethod = "importance"
	MethodAdaptive   SamplingMethod = "adaptive"
)

// AllSamplingMethods lists every method, uniform first so downstream
// improvement metrics always have their anchor.
var AllSamplingMethods = []SamplingMethod{
	MethodUniform,
	MethodStratified,
	MethodImportance,
	MethodAdaptive,
}

// Valid reports whether m is a known sampling method.
func (m SamplingMethod) Valid() bool {
	switch m {
	case MethodUniform, MethodStratified, MethodImportance, MethodAdaptive:
		return true
	}
	return false
}

// SamplingExperimentResult is one method's aggregate metrics from a
// comparison run. MTTDImprovementPct is always computed relative to the
// uniform method result from the same experiment run; PValue and
// EffectSize come from a two-sample test on the per-trial MTTD
// distributions and are nil on the uniform anchor row.
type SamplingExperimentResult struct {
	ExperimentID         string         `json:"experiment_id"`
	RunTimestamp         time.Time      `json:"run_timestamp"`
	Method               SamplingMethod `json:"method"`
	SampleSize           int            `json:"sample_size"`
	Trials               int            `json:"trials"`
	DetectionSensitivity float64        `json:"detection_sensitivity"`
	FalsePositiveRate    float64        `json:"false_positive_rate"`
	MTTDHours            *float64       `json:"mttd_hours,omitempty"`
	MTTDImprovementPct   *float64       `json:"mttd_improvement_pct,omitempty"`
	PValue               *float64       `json:"p_value,omitempty"`
	EffectSize           *float64       `json:"effect_size,omitempty"`
}
