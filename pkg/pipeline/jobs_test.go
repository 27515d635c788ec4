package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorgrid/pipeline/pkg/models"
)

func validInput(sensorID string, value float64) []map[string]interface{} {
	return []map[string]interface{}{{
		"sensor_id": sensorID,
		"timestamp": time.Now().UnixMilli(),
		"data":      map[string]interface{}{"temperature": value},
		"quality":   1.0,
	}}
}

func TestJobQueueDrainsInBoundedBatches(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		h.orch.enqueueJob(models.JobValidation, []string{"s1"}, validInput("s1", float64(i)))
	}

	pending := func() int {
		h.orch.mu.RLock()
		defer h.orch.mu.RUnlock()

		return len(h.orch.jobs)
	}

	require.Equal(t, 25, pending())

	// 10 + 10 + 5; terminal jobs are purged each tick.
	h.orch.processJobsTick(ctx)
	assert.Equal(t, 15, pending())

	h.orch.processJobsTick(ctx)
	assert.Equal(t, 5, pending())

	h.orch.processJobsTick(ctx)
	assert.Equal(t, 0, pending())

	// Latency samples recorded for every executed job.
	assert.NotZero(t, h.orch.latency.Summary().Average)
}

func TestCompletedJobCachedAndFannedOut(t *testing.T) {
	cfg := testConfigWithWebhook("http://sink.example/hook", []string{"data_processed"}, nil)
	h := newTestHarness(t, cfg)
	ctx := context.Background()

	id := h.orch.enqueueJob(models.JobValidation, []string{"s1"}, validInput("s1", 21))
	h.orch.processJobsTick(ctx)

	var job models.ProcessingJob

	require.NoError(t, h.mem.Get(ctx, "processed:"+id, &job))
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 1, int(job.Result["valid"].(float64)))

	h.orch.mu.RLock()
	defer h.orch.mu.RUnlock()
	assert.Len(t, h.orch.webhookCalls, 1)
}

func TestFailedJobPurgedWithoutRetry(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	// Empty data map fails validation.
	h.orch.enqueueJob(models.JobValidation, []string{"s1"}, []map[string]interface{}{{
		"sensor_id": "s1",
		"data":      map[string]interface{}{},
	}})

	h.orch.processJobsTick(ctx)

	h.orch.mu.RLock()
	defer h.orch.mu.RUnlock()

	assert.Empty(t, h.orch.jobs)
	assert.Equal(t, uint64(1), h.orch.errorsBySource["processing"])
}

func TestAggregationHandler(t *testing.T) {
	h := newTestHarness(t, nil)

	job := &models.ProcessingJob{
		Type: models.JobAggregation,
		Input: []map[string]interface{}{
			{"data": map[string]interface{}{"temperature": 20.0}},
			{"data": map[string]interface{}{"temperature": 30.0}},
			{"data": map[string]interface{}{"temperature": 25.0}},
		},
	}

	result, err := h.orch.handleAggregation(job)
	require.NoError(t, err)

	metrics := result["metrics"].(map[string]interface{})
	temp := metrics["temperature"].(map[string]interface{})

	assert.Equal(t, 20.0, temp["min"])
	assert.Equal(t, 30.0, temp["max"])
	assert.Equal(t, 25.0, temp["mean"])
	assert.Equal(t, 3, temp["count"])
}

func TestAnomalyDetectionHandler(t *testing.T) {
	h := newTestHarness(t, nil)

	// Stable baseline around 20 with slight alternation, then a spike.
	for i := 0; i < anomalyMinWindow+10; i++ {
		value := 20.0
		if i%2 == 0 {
			value = 20.5
		}

		h.orch.appendWindow(testReading("s1", map[string]interface{}{"temperature": value}))
	}

	job := &models.ProcessingJob{
		Type:  models.JobAnomalyDetection,
		Input: validInput("s1", 45.0),
	}

	result, err := h.orch.handleAnomalyDetection(job)
	require.NoError(t, err)

	anomalies := result["anomalies"].([]map[string]interface{})
	require.Len(t, anomalies, 1)
	assert.Equal(t, "temperature", anomalies[0]["metric"])

	// A value inside the baseline band is not anomalous.
	job.Input = validInput("s1", 20.2)

	result, err = h.orch.handleAnomalyDetection(job)
	require.NoError(t, err)
	assert.Empty(t, result["anomalies"])
}

func TestUnknownJobTypeFails(t *testing.T) {
	h := newTestHarness(t, nil)

	_, err := h.orch.runJob(&models.ProcessingJob{Type: "mystery"})
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestLatencyRingSummary(t *testing.T) {
	ring := newLatencyRing(100)

	for i := 1; i <= 100; i++ {
		ring.Add(time.Duration(i) * time.Millisecond)
	}

	summary := ring.Summary()
	assert.Equal(t, 50*time.Millisecond+500*time.Microsecond, summary.Average)
	assert.Equal(t, 95*time.Millisecond, summary.P95)
	assert.Equal(t, 99*time.Millisecond, summary.P99)
}
