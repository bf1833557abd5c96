package models

import (
	"errors"
	"fmt"
	"time"
)

// EpisodeState is the lifecycle state of a monitored series.
type EpisodeState string

// Episode lifecycle states. Resolution is owned by an external caller;
// the detector never advances an episode past CONFIRMED_REGRESSION.
const (
	StateMonitoring          EpisodeState = "MONITORING"
	StateCandidateChange     EpisodeState = "CANDIDATE_CHANGE"
	StateConfirmedRegression EpisodeState = "CONFIRMED_REGRESSION"
	StateResolved            EpisodeState = "RESOLVED"
)

var (
	// ErrInvalidTransition is returned for a lifecycle transition the
	// state machine does not allow.
	ErrInvalidTransition = errors.New("invalid episode state transition")

	// ErrAlreadyResolved is returned when resolving an episode twice.
	// Resolved episodes are never re-opened.
	ErrAlreadyResolved = errors.New("episode already resolved")
)

var episodeTransitions = map[EpisodeState][]EpisodeState{
	StateMonitoring:          {StateCandidateChange},
	StateCandidateChange:     {StateConfirmedRegression, StateMonitoring},
	StateConfirmedRegression: {StateResolved},
	StateResolved:            {},
}

// Valid reports whether s is a known lifecycle state.
func (s EpisodeState) Valid() bool {
	_, ok := episodeTransitions[s]
	return ok
}

// CanTransition reports whether the transition s -> to is allowed.
func (s EpisodeState) CanTransition(to EpisodeState) bool {
	for _, next := range episodeTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// RegressionEpisode is one detected hazard-rate regression for a vehicle.
// HazardRatio is nil when the baseline hazard rate is degenerate (zero);
// MTTDHours is nil until detection occurs.
type RegressionEpisode struct {
	RegressionID           string       `json:"regression_id"`
	ModelRunID             string       `json:"model_run_id"`
	VehicleID              string       `json:"vehicle_id"`
	State                  EpisodeState `json:"state"`
	RegressionStartTS      time.Time    `json:"regression_start_ts"`
	RegressionEndTS        *time.Time   `json:"regression_end_ts,omitempty"`
	DetectionTS            time.Time    `json:"detection_ts"`
	MTTDHours              *float64     `json:"mttd_hours,omitempty"`
	BaselineHazardRate     float64      `json:"baseline_hazard_rate"`
	RegressionHazardRate   float64      `json:"regression_hazard_rate"`
	HazardRatio            *float64     `json:"hazard_ratio,omitempty"`
	HazardRatioLo          *float64     `json:"hazard_ratio_lo,omitempty"`
	HazardRatioHi          *float64     `json:"hazard_ratio_hi,omitempty"`
	ChangepointProbability float64      `json:"changepoint_probability"`
	IsResolved             bool         `json:"is_resolved"`
}

// Transition moves the episode to the given state if the state machine
// allows it.
func (e *RegressionEpisode) Transition(to EpisodeState) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}
	if !e.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.State, to)
	}
	e.State = to
	return nil
}

// Resolve closes a confirmed episode. Only an external caller resolves;
// a resolved episode is never re-opened.
func (e *RegressionEpisode) Resolve(endTS time.Time) error {
	if e.IsResolved {
		return ErrAlreadyResolved
	}
	if err := e.Transition(StateResolved); err != nil {
		return err
	}
	e.RegressionEndTS = &endTS
	e.IsResolved = true
	return nil
}

// RecordDetection stamps the wall-clock detection time and derives
// mttd_hours = detection_ts - regression_start_ts in hours.
func (e *RegressionEpisode) RecordDetection(detectionTS time.Time) {
	e.DetectionTS = detectionTS
	mttd := detectionTS.Sub(e.RegressionStartTS).Hours()
	e.MTTDHours = &mttd
}
