package pipeline

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sensorgrid/pipeline/pkg/models"
)

// collectors groups the prometheus instruments on a private registry so
// independent pipeline instances in tests never collide.
type collectors struct {
	registry     *prometheus.Registry
	events       *prometheus.CounterVec
	errors       *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	jobQueue     prometheus.Gauge
	webhookQueue prometheus.Gauge
}

func newCollectors() *collectors {
	c := &collectors{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_events_total",
			Help: "Events consumed by the orchestrator, by type.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_errors_total",
			Help: "Component error events, by source.",
		}, []string{"source"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Processing job handler duration.",
			Buckets: prometheus.DefBuckets,
		}),
		jobQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_job_queue_depth",
			Help: "Pending processing jobs.",
		}),
		webhookQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_webhook_queue_depth",
			Help: "Pending webhook deliveries.",
		}),
	}

	c.registry.MustRegister(c.events, c.errors, c.jobDuration, c.jobQueue, c.webhookQueue)

	return c
}

// throughputTracker derives current/average/peak messages-per-second
// from a monotonically increasing event count, sampled on the metrics
// refresh tick.
type throughputTracker struct {
	mu        sync.Mutex
	total     uint64
	lastTotal uint64
	lastTick  time.Time
	startedAt time.Time
	current   float64
	peak      float64
}

func newThroughputTracker(now time.Time) *throughputTracker {
	return &throughputTracker{lastTick: now, startedAt: now}
}

func (t *throughputTracker) Record() {
	t.mu.Lock()
	t.total++
	t.mu.Unlock()
}

// Sample updates the current rate from the delta since the previous call.
func (t *throughputTracker) Sample(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := now.Sub(t.lastTick).Seconds()
	if elapsed <= 0 {
		return
	}

	t.current = float64(t.total-t.lastTotal) / elapsed
	if t.current > t.peak {
		t.peak = t.current
	}

	t.lastTotal = t.total
	t.lastTick = now
}

func (t *throughputTracker) Snapshot(now time.Time) models.ThroughputMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	lifetime := now.Sub(t.startedAt).Seconds()

	average := 0.0
	if lifetime > 0 {
		average = float64(t.total) / lifetime
	}

	return models.ThroughputMetrics{
		Current: t.current,
		Average: average,
		Peak:    t.peak,
	}
}

// Registry exposes the instrument registry for the API's scrape handler.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.metrics.registry
}

// GetMetrics assembles the external monitoring snapshot.
func (o *Orchestrator) GetMetrics() models.PipelineMetrics {
	now := o.nowFn()

	var mem runtime.MemStats

	runtime.ReadMemStats(&mem)

	o.mu.RLock()
	jobDepth := len(o.jobs)
	webhookDepth := len(o.webhookCalls)
	pendingTx := o.pendingTriggerCount
	total := o.errorTotal

	bySource := make(map[string]uint64, len(o.errorsBySource))
	for source, count := range o.errorsBySource {
		bySource[source] = count
	}
	o.mu.RUnlock()

	return models.PipelineMetrics{
		Throughput: o.throughput.Snapshot(now),
		Latency:    o.latency.Summary(),
		Errors:     models.ErrorMetrics{Total: total, BySource: bySource},
		Resources: models.ResourceMetrics{
			HeapBytes:    mem.HeapAlloc,
			JobQueue:     jobDepth,
			WebhookQueue: webhookDepth,
			PendingTx:    pendingTx,
		},
		Timestamp: now,
	}
}
