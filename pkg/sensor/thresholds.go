package sensor

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/models"
)

// evaluateThresholds checks every configured threshold for the sensor
// against a reading. A satisfied trigger_contract threshold yields both
// an alert and a separate trigger request; alerting and contract
// execution are independent consumers of the same evaluation.
func evaluateThresholds(cfg *config.SensorConfig, reading *models.SensorReading, now time.Time) ([]models.Alert, []models.TriggerRequest) {
	var (
		alerts   []models.Alert
		requests []models.TriggerRequest
	)

	for i := range cfg.Thresholds {
		threshold := &cfg.Thresholds[i]

		value, ok := reading.NumericMetric(threshold.Metric)
		if !ok {
			continue
		}

		if !Compare(value, threshold.Operator, threshold.Value) {
			continue
		}

		if threshold.Action == models.ActionLog {
			log.Printf("Threshold matched for %s: %s %s %g (value %g)",
				cfg.ID, threshold.Metric, threshold.Operator, threshold.Value, value)

			continue
		}

		alerts = append(alerts, models.Alert{
			ID:       uuid.New().String(),
			Severity: threshold.Severity,
			Source:   cfg.ID,
			Metric:   threshold.Metric,
			Message: fmt.Sprintf("%s %s %s %g (value %g)",
				cfg.ID, threshold.Metric, threshold.Operator, threshold.Value, value),
			Timestamp: now,
			Data:      reading.Data,
		})

		if threshold.Action == models.ActionTriggerContract {
			requests = append(requests, models.TriggerRequest{
				Source:          cfg.ID,
				Metric:          threshold.Metric,
				Value:           value,
				ContractAddress: threshold.ContractAddress,
				FunctionName:    threshold.FunctionName,
				Parameters:      threshold.Parameters,
				Priority:        priorityFor(threshold.Severity),
				Timestamp:       now,
			})
		}
	}

	return alerts, requests
}

// Compare applies one of the configured comparison operators. Unknown
// operators never match.
func Compare(value float64, operator string, target float64) bool {
	switch operator {
	case ">":
		return value > target
	case "<":
		return value < target
	case "=":
		return value == target
	case ">=":
		return value >= target
	case "<=":
		return value <= target
	default:
		return false
	}
}

func priorityFor(severity models.Severity) models.TriggerPriority {
	switch severity {
	case models.SeverityCritical, models.SeverityHigh:
		return models.PriorityHigh
	case models.SeverityMedium:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}
