package sensor

import (
	"time"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/models"
)

// Fixed penalties per detected anomaly. The score starts at 1.0 and is
// floored at 0.
const (
	penaltyMissingField = 0.2
	penaltyStale        = 0.2
	penaltyOutOfRange   = 0.2
	penaltyHeartbeatGap = 0.15
	penaltyLowBattery   = 0.1
	penaltyPoorSignal   = 0.1

	lowBatteryPct = 20.0
	poorSignalPct = 30.0
)

// scoreQuality derives the DataQuality for a reading. lastSeen is the
// sensor's previous message time; zero means first contact.
func scoreQuality(cfg *config.SensorConfig, reading *models.SensorReading, lastSeen, now time.Time) models.DataQuality {
	quality := models.DataQuality{Score: 1.0}

	penalize := func(penalty float64, flag models.QualityFlag) {
		quality.Score -= penalty
		quality.Flags = append(quality.Flags, flag)
	}

	if len(reading.Data) == 0 {
		penalize(penaltyMissingField, models.FlagMissingField)
	}

	interval := time.Duration(cfg.SamplingInterval)
	if interval > 0 {
		if age := now.Sub(reading.Timestamp); age > 2*interval {
			penalize(penaltyStale, models.FlagStaleReading)
		}

		if !lastSeen.IsZero() && now.Sub(lastSeen) > 3*interval {
			penalize(penaltyHeartbeatGap, models.FlagHeartbeatGap)
		}
	}

	if outOfRange(cfg, reading) {
		penalize(penaltyOutOfRange, models.FlagOutOfRange)
	}

	if pct, ok := metadataPct(reading, "battery"); ok && pct < lowBatteryPct {
		penalize(penaltyLowBattery, models.FlagLowBattery)
	}

	if pct, ok := metadataPct(reading, "signal"); ok && pct < poorSignalPct {
		penalize(penaltyPoorSignal, models.FlagPoorSignal)
	}

	if quality.Score < 0 {
		quality.Score = 0
	}

	return quality
}

func outOfRange(cfg *config.SensorConfig, reading *models.SensorReading) bool {
	if cfg.MinValue == nil && cfg.MaxValue == nil {
		return false
	}

	for _, v := range reading.Data {
		n, ok := v.(float64)
		if !ok {
			continue
		}

		if cfg.MinValue != nil && n < *cfg.MinValue {
			return true
		}

		if cfg.MaxValue != nil && n > *cfg.MaxValue {
			return true
		}
	}

	return false
}

func metadataPct(reading *models.SensorReading, key string) (float64, bool) {
	v, ok := reading.Metadata[key]
	if !ok {
		return 0, false
	}

	n, ok := v.(float64)

	return n, ok
}
