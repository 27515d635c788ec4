package sensor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/models"
)

func floatPtr(f float64) *float64 { return &f }

func TestScoreQualityClean(t *testing.T) {
	now := time.Now()
	cfg := &config.SensorConfig{
		ID:               "s1",
		SamplingInterval: models.Duration(30 * time.Second),
	}
	reading := &models.SensorReading{
		SensorID:  "s1",
		Timestamp: now,
		Data:      map[string]interface{}{"temperature": 21.5},
	}

	quality := scoreQuality(cfg, reading, now.Add(-30*time.Second), now)

	assert.InDelta(t, 1.0, quality.Score, 0.0001)
	assert.Empty(t, quality.Flags)
}

func TestScoreQualityMonotonic(t *testing.T) {
	now := time.Now()
	cfg := &config.SensorConfig{
		ID:               "s1",
		SamplingInterval: models.Duration(30 * time.Second),
		MaxValue:         floatPtr(100),
	}

	// Each scenario adds one more anomaly; the score must never increase.
	scenarios := []*models.SensorReading{
		{Timestamp: now, Data: map[string]interface{}{"t": 50.0}},
		{Timestamp: now.Add(-5 * time.Minute), Data: map[string]interface{}{"t": 50.0}},
		{Timestamp: now.Add(-5 * time.Minute), Data: map[string]interface{}{"t": 150.0}},
		{
			Timestamp: now.Add(-5 * time.Minute),
			Data:      map[string]interface{}{"t": 150.0},
			Metadata:  map[string]interface{}{"battery": 5.0},
		},
		{
			Timestamp: now.Add(-5 * time.Minute),
			Data:      map[string]interface{}{"t": 150.0},
			Metadata:  map[string]interface{}{"battery": 5.0, "signal": 10.0},
		},
	}

	prev := 1.1

	for i, reading := range scenarios {
		quality := scoreQuality(cfg, reading, now.Add(-time.Second), now)

		assert.LessOrEqual(t, quality.Score, prev, "scenario %d increased the score", i)
		assert.GreaterOrEqual(t, quality.Score, 0.0)
		assert.LessOrEqual(t, quality.Score, 1.0)

		prev = quality.Score
	}
}

func TestScoreQualityFloorsAtZero(t *testing.T) {
	now := time.Now()
	cfg := &config.SensorConfig{
		ID:               "s1",
		SamplingInterval: models.Duration(time.Second),
		MaxValue:         floatPtr(1),
	}
	reading := &models.SensorReading{
		Timestamp: now.Add(-time.Hour),
		Data:      map[string]interface{}{},
		Metadata:  map[string]interface{}{"battery": 1.0, "signal": 1.0},
	}

	quality := scoreQuality(cfg, reading, now.Add(-time.Hour), now)

	assert.GreaterOrEqual(t, quality.Score, 0.0)
	assert.Contains(t, quality.Flags, models.FlagMissingField)
	assert.Contains(t, quality.Flags, models.FlagStaleReading)
	assert.Contains(t, quality.Flags, models.FlagHeartbeatGap)
	assert.Contains(t, quality.Flags, models.FlagLowBattery)
	assert.Contains(t, quality.Flags, models.FlagPoorSignal)
}

func TestScoreQualityHeartbeatGap(t *testing.T) {
	now := time.Now()
	cfg := &config.SensorConfig{
		ID:               "s1",
		SamplingInterval: models.Duration(10 * time.Second),
	}
	reading := &models.SensorReading{
		Timestamp: now,
		Data:      map[string]interface{}{"t": 1.0},
	}

	// Last seen beyond 3x the sampling interval.
	quality := scoreQuality(cfg, reading, now.Add(-time.Minute), now)

	assert.Contains(t, quality.Flags, models.FlagHeartbeatGap)
	assert.InDelta(t, 1.0-penaltyHeartbeatGap, quality.Score, 0.0001)

	// First contact carries no heartbeat penalty.
	quality = scoreQuality(cfg, reading, time.Time{}, now)
	assert.NotContains(t, quality.Flags, models.FlagHeartbeatGap)
}
