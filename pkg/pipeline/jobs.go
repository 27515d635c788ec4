package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/sensorgrid/pipeline/pkg/models"
	"github.com/sensorgrid/pipeline/pkg/sensor"
)

const (
	jobBatchSize = 10

	// Anomaly jobs need enough history for a meaningful baseline.
	anomalyMinWindow = 20
	anomalyZScore    = 3.0
)

// enqueueJob appends a pending job to the processing queue.
func (o *Orchestrator) enqueueJob(jobType models.JobType, sources []string, input []map[string]interface{}) string {
	job := &models.ProcessingJob{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    models.JobPending,
		Input:     input,
		Sources:   sources,
		CreatedAt: o.nowFn(),
	}

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.jobOrder = append(o.jobOrder, job.ID)
	o.mu.Unlock()

	return job.ID
}

// processJobsTick executes up to jobBatchSize pending jobs in FIFO
// order, then purges every terminal job so the queue never accumulates
// finished entries.
func (o *Orchestrator) processJobsTick(ctx context.Context) {
	batch := o.claimJobs(jobBatchSize)

	for _, job := range batch {
		started := o.nowFn()

		result, err := o.runJob(job)

		duration := o.nowFn().Sub(started)
		o.latency.Add(duration)
		o.metrics.jobDuration.Observe(duration.Seconds())

		o.mu.Lock()
		job.Duration = duration

		if err != nil {
			job.Status = models.JobFailed
			job.Error = err.Error()
			o.mu.Unlock()

			o.countError("processing")

			continue
		}

		job.Status = models.JobCompleted
		job.Result = result
		o.mu.Unlock()

		o.cacheSet(ctx, "processed:"+job.ID, job, processedTTL)
		o.enqueueWebhooks("data_processed", map[string]interface{}{
			"job_id":   job.ID,
			"job_type": string(job.Type),
			"sources":  job.Sources,
			"result":   result,
		})
	}

	o.purgeTerminalJobs()
}

// claimJobs moves up to n pending jobs into processing state.
func (o *Orchestrator) claimJobs(n int) []*models.ProcessingJob {
	o.mu.Lock()
	defer o.mu.Unlock()

	batch := make([]*models.ProcessingJob, 0, n)

	for _, id := range o.jobOrder {
		if len(batch) == n {
			break
		}

		job, ok := o.jobs[id]
		if !ok || job.Status != models.JobPending {
			continue
		}

		job.Status = models.JobProcessing
		batch = append(batch, job)
	}

	return batch
}

func (o *Orchestrator) purgeTerminalJobs() {
	o.mu.Lock()
	defer o.mu.Unlock()

	remaining := o.jobOrder[:0]

	for _, id := range o.jobOrder {
		job, ok := o.jobs[id]
		if !ok {
			continue
		}

		if job.Status == models.JobCompleted || job.Status == models.JobFailed {
			delete(o.jobs, id)
			continue
		}

		remaining = append(remaining, id)
	}

	o.jobOrder = remaining
}

// runJob dispatches to the type-specific handler. Handlers are pure
// functions over the job input (plus the read-only sensor window for
// anomaly detection); failures are terminal, never retried.
func (o *Orchestrator) runJob(job *models.ProcessingJob) (map[string]interface{}, error) {
	switch job.Type {
	case models.JobValidation:
		return o.handleValidation(job)
	case models.JobAggregation:
		return o.handleAggregation(job)
	case models.JobCorrelation:
		return o.handleCorrelation(job)
	case models.JobAnomalyDetection:
		return o.handleAnomalyDetection(job)
	case models.JobThresholdCheck:
		return o.handleThresholdCheck(job)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}
}

// handleValidation verifies each input carries the required envelope
// fields and an acceptable quality score.
func (o *Orchestrator) handleValidation(job *models.ProcessingJob) (map[string]interface{}, error) {
	valid := 0
	invalid := 0

	for _, input := range job.Input {
		_, hasSensor := input["sensor_id"]
		data, hasData := input["data"].(map[string]interface{})

		if !hasSensor || !hasData || len(data) == 0 {
			invalid++
			continue
		}

		if score, ok := input["quality"].(float64); ok && score < 0.3 {
			invalid++
			continue
		}

		valid++
	}

	if valid == 0 && invalid > 0 {
		return nil, fmt.Errorf("all %d inputs failed validation", invalid)
	}

	return map[string]interface{}{
		"valid":   valid,
		"invalid": invalid,
	}, nil
}

// handleAggregation computes min/max/mean per numeric metric across the
// batch inputs.
func (o *Orchestrator) handleAggregation(job *models.ProcessingJob) (map[string]interface{}, error) {
	type agg struct {
		min, max, sum float64
		count         int
	}

	metrics := make(map[string]*agg)

	for _, input := range job.Input {
		data, ok := input["data"].(map[string]interface{})
		if !ok {
			continue
		}

		for name, raw := range data {
			value, ok := raw.(float64)
			if !ok {
				continue
			}

			a, ok := metrics[name]
			if !ok {
				a = &agg{min: value, max: value}
				metrics[name] = a
			}

			if value < a.min {
				a.min = value
			}

			if value > a.max {
				a.max = value
			}

			a.sum += value
			a.count++
		}
	}

	summary := make(map[string]interface{}, len(metrics))

	for name, a := range metrics {
		summary[name] = map[string]interface{}{
			"min":   a.min,
			"max":   a.max,
			"mean":  a.sum / float64(a.count),
			"count": a.count,
		}
	}

	return map[string]interface{}{
		"inputs":  len(job.Input),
		"metrics": summary,
	}, nil
}

// handleCorrelation pairs an oracle observation with sensor readings by
// timestamp proximity. Best-effort: proximity within five minutes, no
// strict ordering.
func (o *Orchestrator) handleCorrelation(job *models.ProcessingJob) (map[string]interface{}, error) {
	const proximity = 5 * time.Minute

	correlated := 0

	for _, input := range job.Input {
		ts, ok := input["timestamp"].(int64)
		if !ok {
			continue
		}

		observed := time.UnixMilli(ts)

		o.mu.RLock()
		for _, window := range o.window {
			for i := range window {
				delta := window[i].Timestamp.Sub(observed)
				if delta < 0 {
					delta = -delta
				}

				if delta <= proximity {
					correlated++
				}
			}
		}
		o.mu.RUnlock()
	}

	return map[string]interface{}{
		"inputs":     len(job.Input),
		"correlated": correlated,
	}, nil
}

// handleAnomalyDetection computes z-scores for each input metric against
// the sensor's aggregation window and flags outliers.
func (o *Orchestrator) handleAnomalyDetection(job *models.ProcessingJob) (map[string]interface{}, error) {
	anomalies := make([]map[string]interface{}, 0)

	for _, input := range job.Input {
		sensorID, _ := input["sensor_id"].(string)
		data, ok := input["data"].(map[string]interface{})

		if sensorID == "" || !ok {
			continue
		}

		window := o.Window(sensorID)
		if len(window) < anomalyMinWindow {
			continue
		}

		for name, raw := range data {
			value, ok := raw.(float64)
			if !ok {
				continue
			}

			mean, stddev := windowStats(window, name)
			if stddev == 0 {
				continue
			}

			z := (value - mean) / stddev
			if math.Abs(z) >= anomalyZScore {
				anomalies = append(anomalies, map[string]interface{}{
					"sensor_id": sensorID,
					"metric":    name,
					"value":     value,
					"z_score":   z,
				})
			}
		}
	}

	return map[string]interface{}{
		"inputs":    len(job.Input),
		"anomalies": anomalies,
	}, nil
}

// handleThresholdCheck re-evaluates the orchestrator rules over the
// inputs and reports matches. The side-effecting trigger path runs on
// event arrival; this job exists for the audit trail.
func (o *Orchestrator) handleThresholdCheck(job *models.ProcessingJob) (map[string]interface{}, error) {
	matches := make([]map[string]interface{}, 0)

	for _, input := range job.Input {
		data, ok := input["data"].(map[string]interface{})
		if !ok {
			continue
		}

		for i := range o.cfg.Rules {
			rule := &o.cfg.Rules[i]

			value, ok := data[rule.Metric].(float64)
			if !ok {
				continue
			}

			if sensor.Compare(value, rule.Operator, rule.Value) {
				matches = append(matches, map[string]interface{}{
					"metric":   rule.Metric,
					"value":    value,
					"operator": rule.Operator,
					"limit":    rule.Value,
				})
			}
		}
	}

	return map[string]interface{}{
		"inputs":  len(job.Input),
		"matches": matches,
	}, nil
}

func windowStats(window []models.SensorReading, metric string) (mean, stddev float64) {
	var sum float64

	count := 0

	for i := range window {
		if v, ok := window[i].NumericMetric(metric); ok {
			sum += v
			count++
		}
	}

	if count == 0 {
		return 0, 0
	}

	mean = sum / float64(count)

	var variance float64

	for i := range window {
		if v, ok := window[i].NumericMetric(metric); ok {
			variance += (v - mean) * (v - mean)
		}
	}

	variance /= float64(count)

	return mean, math.Sqrt(variance)
}
