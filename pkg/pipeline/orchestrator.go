// Package pipeline is the composition root: it owns the processing job
// queue, the webhook delivery queue, the shared cache, and aggregated
// health and metrics for the three ingestion/egress components.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sensorgrid/pipeline/pkg/cache"
	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/history"
	"github.com/sensorgrid/pipeline/pkg/models"
	"github.com/sensorgrid/pipeline/pkg/sensor"
)

const (
	jobTickInterval     = time.Second
	webhookTickInterval = 2 * time.Second
	healthTickInterval  = 30 * time.Second
	metricsTickInterval = 5 * time.Second

	// Cache TTLs per key domain.
	sensorTTL    = 5 * time.Minute
	oracleTTL    = 10 * time.Minute
	processedTTL = 30 * time.Minute
	triggerTTL   = 24 * time.Hour
	alertTTL     = 24 * time.Hour

	aggregationWindowSize = 100

	// Global webhook egress limit shared across endpoints.
	webhookRatePerSecond = 10
	webhookRateBurst     = 5
)

// Orchestrator composes the gateway, aggregator, and connector, and is
// the sole consumer of their event channels.
type Orchestrator struct {
	cfg     *config.PipelineConfig
	cache   cache.Cache
	history *history.Store // nil when history is disabled
	httpC   HTTPDoer

	ingestion Component
	oracle    Component
	ledger    LedgerComponent

	mu        sync.RWMutex
	state     models.PipelineState
	startedAt time.Time

	jobs     map[string]*models.ProcessingJob
	jobOrder []string

	webhookCalls map[string]*models.WebhookCall
	webhookOrder []string

	window map[string][]models.SensorReading

	errorTotal          uint64
	errorsBySource      map[string]uint64
	pendingTriggerCount int

	paused  chan struct{} // closed = running; replaced on pause
	pauseMu sync.Mutex
	running bool

	metrics    *collectors
	throughput *throughputTracker
	latency    *latencyRing
	limiter    *rate.Limiter

	done  chan struct{}
	wg    sync.WaitGroup
	nowFn func() time.Time
}

// New wires an orchestrator from its collaborators. Production callers
// build the components from config via Build; tests inject fakes.
func New(cfg *config.PipelineConfig, store cache.Cache, hist *history.Store,
	ingestion Component, oracleSvc Component, ledgerConn LedgerComponent, httpClient HTTPDoer) *Orchestrator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	now := time.Now()

	return &Orchestrator{
		cfg:            cfg,
		cache:          store,
		history:        hist,
		httpC:          httpClient,
		ingestion:      ingestion,
		oracle:         oracleSvc,
		ledger:         ledgerConn,
		state:          models.StateStopped,
		jobs:           make(map[string]*models.ProcessingJob),
		webhookCalls:   make(map[string]*models.WebhookCall),
		window:         make(map[string][]models.SensorReading),
		errorsBySource: make(map[string]uint64),
		metrics:        newCollectors(),
		throughput:     newThroughputTracker(now),
		latency:        newLatencyRing(latencySampleSize),
		limiter:        rate.NewLimiter(rate.Limit(webhookRatePerSecond), webhookRateBurst),
		nowFn:          time.Now,
	}
}

// State reports the lifecycle state.
func (o *Orchestrator) State() models.PipelineState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.state
}

func (o *Orchestrator) setState(s models.PipelineState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Start connects the cache first (a cache failure is fatal), starts the
// components in fixed order, wires event fan-in, and launches the four
// internal tick loops.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != models.StateStopped {
		o.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, o.state)
	}

	o.state = models.StateStarting
	o.startedAt = o.nowFn()
	o.done = make(chan struct{})
	o.mu.Unlock()

	if err := o.cache.Ping(ctx); err != nil {
		o.setState(models.StateError)
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}

	components := []struct {
		name string
		c    Component
	}{
		{"ingestion", o.ingestion},
		{"oracle", o.oracle},
		{"ledger", o.ledger},
	}

	for _, comp := range components {
		if err := comp.c.Start(ctx); err != nil {
			o.setState(models.StateError)
			return fmt.Errorf("%w: %s: %w", ErrStartupFailed, comp.name, err)
		}
	}

	o.throughput.startedAt = o.startedAt

	o.pauseMu.Lock()
	o.running = true
	o.paused = make(chan struct{})
	close(o.paused) // running means not paused
	o.pauseMu.Unlock()

	o.wg.Add(2)

	go o.fanIn(ctx)
	go o.tickLoops(ctx)

	o.setState(models.StateRunning)

	log.Printf("Pipeline %s started", o.cfg.Name)

	return nil
}

// Stop drains the tick loops, stops components in reverse start order,
// and closes the cache.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	switch o.state {
	case models.StateRunning, models.StatePaused, models.StateError:
	default:
		o.mu.Unlock()
		return fmt.Errorf("%w: stop from %s", ErrInvalidTransition, o.state)
	}

	o.state = models.StateStopping
	done := o.done
	o.mu.Unlock()

	if done != nil {
		close(done)
	}

	o.wg.Wait()

	for _, comp := range []Component{o.ledger, o.oracle, o.ingestion} {
		if err := comp.Stop(); err != nil {
			log.Printf("Component stop error: %v", err)
		}
	}

	if err := o.cache.Close(); err != nil {
		log.Printf("Cache close error: %v", err)
	}

	o.setState(models.StateStopped)

	log.Printf("Pipeline %s stopped", o.cfg.Name)

	return nil
}

// Pause suspends the processing and webhook delivery ticks without
// touching component connections.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != models.StateRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, o.state)
	}

	o.pauseMu.Lock()
	o.paused = make(chan struct{}) // open channel blocks the gated ticks
	o.pauseMu.Unlock()

	o.state = models.StatePaused

	return nil
}

// Resume re-enables the gated ticks.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != models.StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, o.state)
	}

	o.pauseMu.Lock()
	close(o.paused)
	o.pauseMu.Unlock()

	o.state = models.StateRunning

	return nil
}

func (o *Orchestrator) isPaused() bool {
	o.pauseMu.Lock()
	ch := o.paused
	o.pauseMu.Unlock()

	select {
	case <-ch:
		return false
	default:
		return true
	}
}

// fanIn is the single consumer of the three component event channels.
func (o *Orchestrator) fanIn(ctx context.Context) {
	defer o.wg.Done()

	ingestionCh := o.ingestion.Events()
	oracleCh := o.oracle.Events()
	ledgerCh := o.ledger.Events()

	for {
		select {
		case <-o.done:
			return
		case <-ctx.Done():
			return
		case event := <-ingestionCh:
			o.handleEvent(ctx, event)
		case event := <-oracleCh:
			o.handleEvent(ctx, event)
		case event := <-ledgerCh:
			o.handleEvent(ctx, event)
		}
	}
}

func (o *Orchestrator) tickLoops(ctx context.Context) {
	defer o.wg.Done()

	jobTicker := time.NewTicker(jobTickInterval)
	webhookTicker := time.NewTicker(webhookTickInterval)
	healthTicker := time.NewTicker(healthTickInterval)
	metricsTicker := time.NewTicker(metricsTickInterval)

	defer jobTicker.Stop()
	defer webhookTicker.Stop()
	defer healthTicker.Stop()
	defer metricsTicker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ctx.Done():
			return
		case <-jobTicker.C:
			if !o.isPaused() {
				o.processJobsTick(ctx)
			}
		case <-webhookTicker.C:
			if !o.isPaused() {
				o.deliverWebhooksTick(ctx)
			}
		case <-healthTicker.C:
			o.healthTick()
		case <-metricsTicker.C:
			o.metricsTick()
		}
	}
}

// handleEvent routes one component event. Every arm is non-blocking
// apart from cache writes, which carry the fan-in context.
func (o *Orchestrator) handleEvent(ctx context.Context, event models.Event) {
	o.metrics.events.WithLabelValues(models.Type(event)).Inc()

	switch e := event.(type) {
	case models.SensorDataEvent:
		o.throughput.Record()
		o.cacheSet(ctx, "sensor:"+e.Reading.SensorID, e.Reading, sensorTTL)
		o.appendWindow(e.Reading)
		o.enqueueJob(models.JobValidation, []string{e.Reading.SensorID},
			[]map[string]interface{}{readingInput(e.Reading)})

		if len(o.Window(e.Reading.SensorID)) >= anomalyMinWindow {
			o.enqueueJob(models.JobAnomalyDetection, []string{e.Reading.SensorID},
				[]map[string]interface{}{readingInput(e.Reading)})
		}

		if len(o.cfg.Rules) > 0 {
			o.enqueueJob(models.JobThresholdCheck, []string{e.Reading.SensorID},
				[]map[string]interface{}{readingInput(e.Reading)})
		}

		o.evaluateRules(ctx, e.Reading)
	case models.SensorBatchEvent:
		inputs := make([]map[string]interface{}, 0, len(e.Readings))
		for i := range e.Readings {
			inputs = append(inputs, readingInput(e.Readings[i]))
		}

		o.enqueueJob(models.JobAggregation, []string{e.SensorID}, inputs)
	case models.OracleUpdateEvent:
		o.throughput.Record()
		o.cacheSet(ctx, "oracle:"+e.Data.OracleID, e.Data, oracleTTL)
		o.enqueueJob(models.JobCorrelation, []string{e.Data.OracleID},
			[]map[string]interface{}{oracleInput(e.Data)})
	case models.ContractLogEvent:
		o.throughput.Record()
		o.enqueueJob(models.JobAggregation, []string{e.Record.ContractAddress},
			[]map[string]interface{}{contractLogInput(e.Record)})
	case models.TriggerConfirmedEvent:
		o.cacheSet(ctx, "trigger:"+e.Trigger.ID, e.Trigger, triggerTTL)
		o.saveConfirmation(e.Trigger)
		o.enqueueWebhooks("contract_triggered", map[string]interface{}{
			"trigger_id":       e.Trigger.ID,
			"contract_address": e.Trigger.ContractAddress,
			"function_name":    e.Trigger.FunctionName,
			"tx_hash":          e.Trigger.TxHash,
			"block_number":     e.Trigger.BlockNumber,
		})
	case models.AlertEvent:
		o.cacheSet(ctx, "alert:"+e.Alert.ID, e.Alert, alertTTL)
		o.saveAlert(e.Alert)
		o.enqueueWebhooks("alert_generated", alertInput(e.Alert))
	case models.TriggerRequestEvent:
		if err := o.ledger.QueueFromRequest(ctx, e.Request); err != nil {
			log.Printf("Trigger request rejected: %v", err)
			o.countError("orchestrator")
		}
	case models.WebhookRequestEvent:
		o.enqueueWebhooks(e.EventType, e.Data)
	case models.ConnectionStatusEvent:
		log.Printf("Transport %s connected=%v %s", e.Transport, e.Connected, e.Detail)
	case models.ErrorEvent:
		log.Printf("Component error [%s/%s]: %s", e.Source, e.Code, e.Message)
		o.countError(e.Source)
	}
}

func (o *Orchestrator) countError(source string) {
	o.mu.Lock()
	o.errorTotal++
	o.errorsBySource[source]++
	o.mu.Unlock()

	o.metrics.errors.WithLabelValues(source).Inc()
}

func (o *Orchestrator) cacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if err := o.cache.Set(ctx, key, value, ttl); err != nil {
		log.Printf("Cache write %s failed: %v", key, err)
		o.countError("cache")
	}
}

// appendWindow keeps a bounded per-sensor reading window for the read
// API, independent of the gateway's own buffer.
func (o *Orchestrator) appendWindow(reading models.SensorReading) {
	o.mu.Lock()
	defer o.mu.Unlock()

	window := append(o.window[reading.SensorID], reading)
	if len(window) > aggregationWindowSize {
		window = window[len(window)-aggregationWindowSize:]
	}

	o.window[reading.SensorID] = window
}

// Window returns a copy of one sensor's aggregation window.
func (o *Orchestrator) Window(sensorID string) []models.SensorReading {
	o.mu.RLock()
	defer o.mu.RUnlock()

	window := o.window[sensorID]
	out := make([]models.SensorReading, len(window))
	copy(out, window)

	return out
}

// evaluateRules applies the configured orchestrator-level rules, a
// coarser threshold path than the gateway's per-sensor thresholds.
// A satisfied rule enqueues a high-priority contract call.
func (o *Orchestrator) evaluateRules(ctx context.Context, reading models.SensorReading) {
	for i := range o.cfg.Rules {
		rule := &o.cfg.Rules[i]

		value, ok := reading.NumericMetric(rule.Metric)
		if !ok || !sensor.Compare(value, rule.Operator, rule.Value) {
			continue
		}

		trigger := &models.ContractTrigger{
			ContractAddress: rule.ContractAddress,
			FunctionName:    rule.FunctionName,
			Parameters:      substituteRuleParams(rule.Parameters, reading, value),
			Priority:        models.PriorityHigh,
		}

		if err := o.ledger.QueueContractCall(ctx, trigger); err != nil {
			log.Printf("Rule trigger for %s rejected: %v", rule.Metric, err)
			o.countError("orchestrator")
		}
	}
}

// substituteRuleParams fills the $sensor/$metric/$value placeholders a
// rule may use in its parameter list.
func substituteRuleParams(params []interface{}, reading models.SensorReading, value float64) []interface{} {
	if len(params) == 0 {
		return nil
	}

	out := make([]interface{}, len(params))

	for i, p := range params {
		switch p {
		case "$sensor":
			out[i] = reading.SensorID
		case "$value":
			out[i] = value
		case "$timestamp":
			out[i] = reading.Timestamp.UnixMilli()
		default:
			out[i] = p
		}
	}

	return out
}

func (o *Orchestrator) saveAlert(alert models.Alert) {
	if o.history == nil {
		return
	}

	if err := o.history.SaveAlert(&alert); err != nil {
		log.Printf("History write failed: %v", err)
		o.countError("history")
	}
}

func (o *Orchestrator) saveConfirmation(trigger models.ContractTrigger) {
	if o.history == nil {
		return
	}

	if err := o.history.SaveConfirmation(&trigger); err != nil {
		log.Printf("History write failed: %v", err)
		o.countError("history")
	}
}

func (o *Orchestrator) healthTick() {
	health := o.GetHealth()
	if health.Status != models.Healthy {
		log.Printf("Pipeline health %s: %d components reporting", health.Status, len(health.Components))
	}
}

func (o *Orchestrator) metricsTick() {
	o.throughput.Sample(o.nowFn())

	pending := len(o.ledger.PendingTriggers())

	o.mu.Lock()
	o.pendingTriggerCount = pending
	jobDepth := len(o.jobs)
	webhookDepth := len(o.webhookCalls)
	o.mu.Unlock()

	o.metrics.jobQueue.Set(float64(jobDepth))
	o.metrics.webhookQueue.Set(float64(webhookDepth))
}

func readingInput(r models.SensorReading) map[string]interface{} {
	return map[string]interface{}{
		"sensor_id": r.SensorID,
		"timestamp": r.Timestamp.UnixMilli(),
		"data":      r.Data,
		"quality":   r.Quality.Score,
	}
}

func oracleInput(d models.OracleData) map[string]interface{} {
	return map[string]interface{}{
		"oracle_id":  d.OracleID,
		"timestamp":  d.Timestamp.UnixMilli(),
		"value":      d.Value,
		"confidence": d.Confidence,
		"source":     d.Source,
	}
}

func contractLogInput(r models.ContractLogRecord) map[string]interface{} {
	return map[string]interface{}{
		"contract_address": r.ContractAddress,
		"event_name":       r.EventName,
		"block_number":     r.BlockNumber,
		"args":             r.Args,
	}
}

func alertInput(a models.Alert) map[string]interface{} {
	return map[string]interface{}{
		"alert_id": a.ID,
		"severity": string(a.Severity),
		"source":   a.Source,
		"metric":   a.Metric,
		"message":  a.Message,
	}
}
