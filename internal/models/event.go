package models

import "time"

// Event severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Event represents a single telemetry event within a trip.
// Events are immutable once created; ordering by timestamp within a trip
// drives inter-event time features.
type Event struct {
	EventID         string    `json:"event_id"`
	TripID          string    `json:"trip_id"`
	VehicleID       string    `json:"vehicle_id"`
	Timestamp       time.Time `json:"event_timestamp"`
	EventType       string    `json:"event_type"`
	Severity        string    `json:"event_severity"` // critical, warning, info
	EventCategory   string    `json:"event_category,omitempty"`
	IsRareEvent     bool      `json:"is_rare_event"`
	LatencyMS       float64   `json:"latency_ms"`
	ConfidenceScore float64   `json:"confidence_score"` // in [0,1]
}

// Trip is the unit of exposure. It owns zero or more Events; Events
// reference their Trip by id, no back-pointer required.
type Trip struct {
	TripID        string    `json:"trip_id"`
	VehicleID     string    `json:"vehicle_id"`
	StartTS       time.Time `json:"start_ts"`
	EndTS         time.Time `json:"end_ts"`
	OperatingMode string    `json:"operating_mode,omitempty"`
}

// DurationHours returns the trip exposure in hours.
func (t Trip) DurationHours() float64 {
	return t.EndTS.Sub(t.StartTS).Hours()
}
