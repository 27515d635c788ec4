package models

import "time"

// QualityFlag marks a detected anomaly on a sensor reading.
type QualityFlag string

const (
	FlagMissingField QualityFlag = "missing_field"
	FlagStaleReading QualityFlag = "stale_reading"
	FlagOutOfRange   QualityFlag = "out_of_range"
	FlagHeartbeatGap QualityFlag = "heartbeat_gap"
	FlagLowBattery   QualityFlag = "low_battery"
	FlagPoorSignal   QualityFlag = "poor_signal"
)

// DataQuality is derived at ingestion, never transmitted by producers.
// Score starts at 1.0 and each detected anomaly subtracts a fixed penalty;
// the result is clamped to [0,1].
type DataQuality struct {
	Score float64       `json:"score"`
	Flags []QualityFlag `json:"flags,omitempty"`
}

// Location is an optional geolocation attached to a reading.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Region    string  `json:"region,omitempty"`
	Country   string  `json:"country,omitempty"`
}

// SensorReading is one telemetry sample. Immutable after ingestion.
type SensorReading struct {
	SensorID  string                 `json:"sensor_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Location  *Location              `json:"location,omitempty"`
	Quality   DataQuality            `json:"quality"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NumericMetric returns a named metric as float64 if it is numeric.
func (r *SensorReading) NumericMetric(name string) (float64, bool) {
	v, ok := r.Data[name]
	if !ok {
		return 0, false
	}

	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// GatewayStats tracks cumulative ingestion counters for health reporting.
type GatewayStats struct {
	Received    uint64    `json:"received"`
	Dropped     uint64    `json:"dropped"`
	Malformed   uint64    `json:"malformed"`
	LastMessage time.Time `json:"last_message"`
}
