package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sensorgrid/pipeline/pkg/cache"
	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/models"
)

type fakeComponent struct {
	events   chan models.Event
	health   models.ComponentHealth
	startErr error
	started  bool
	stopped  bool
}

func newFakeComponent() *fakeComponent {
	return &fakeComponent{
		events: make(chan models.Event, 64),
		health: models.ComponentHealth{Status: models.Healthy, Timestamp: time.Now()},
	}
}

func (f *fakeComponent) Start(_ context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}

	f.started = true

	return nil
}

func (f *fakeComponent) Stop() error {
	f.stopped = true
	return nil
}

func (f *fakeComponent) Events() <-chan models.Event       { return f.events }
func (f *fakeComponent) GetHealth() models.ComponentHealth { return f.health }

type fakeLedger struct {
	*fakeComponent

	mu       sync.Mutex
	queued   []*models.ContractTrigger
	requests []models.TriggerRequest
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{fakeComponent: newFakeComponent()}
}

func (f *fakeLedger) QueueContractCall(_ context.Context, trigger *models.ContractTrigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queued = append(f.queued, trigger)

	return nil
}

func (f *fakeLedger) QueueFromRequest(_ context.Context, req models.TriggerRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	return nil
}

func (f *fakeLedger) PendingTriggers() []models.ContractTrigger {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.ContractTrigger, 0, len(f.queued))
	for _, t := range f.queued {
		out = append(out, *t)
	}

	return out
}

type fakeDoer struct {
	mu       sync.Mutex
	err      error
	status   int
	requests []*http.Request
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req)

	if d.err != nil {
		return nil, d.err
	}

	status := d.status
	if status == 0 {
		status = http.StatusOK
	}

	return &http.Response{StatusCode: status, Body: http.NoBody}, nil
}

func (d *fakeDoer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.requests)
}

type testHarness struct {
	orch      *Orchestrator
	ingestion *fakeComponent
	oracle    *fakeComponent
	ledger    *fakeLedger
	doer      *fakeDoer
	mem       *cache.MemoryCache
}

func newTestHarness(t *testing.T, cfg *config.PipelineConfig) *testHarness {
	t.Helper()

	if cfg == nil {
		cfg = &config.PipelineConfig{Name: "test-pipeline", Version: "0.0.1"}
	}

	h := &testHarness{
		ingestion: newFakeComponent(),
		oracle:    newFakeComponent(),
		ledger:    newFakeLedger(),
		doer:      &fakeDoer{},
		mem:       cache.NewMemory(),
	}

	h.orch = New(cfg, h.mem, nil, h.ingestion, h.oracle, h.ledger, h.doer)

	return h
}

func testReading(sensorID string, metrics map[string]interface{}) models.SensorReading {
	return models.SensorReading{
		SensorID:  sensorID,
		Timestamp: time.Now(),
		Data:      metrics,
		Quality:   models.DataQuality{Score: 1.0},
	}
}

func TestStateMachineTransitions(t *testing.T) {
	h := newTestHarness(t, nil)

	assert.Equal(t, models.StateStopped, h.orch.State())

	// Pause and resume are only legal from running/paused.
	assert.ErrorIs(t, h.orch.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, h.orch.Resume(), ErrInvalidTransition)

	require.NoError(t, h.orch.Start(context.Background()))
	assert.Equal(t, models.StateRunning, h.orch.State())

	assert.ErrorIs(t, h.orch.Start(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, h.orch.Resume(), ErrInvalidTransition)

	require.NoError(t, h.orch.Pause())
	assert.Equal(t, models.StatePaused, h.orch.State())
	assert.True(t, h.orch.isPaused())

	assert.ErrorIs(t, h.orch.Pause(), ErrInvalidTransition)

	require.NoError(t, h.orch.Resume())
	assert.Equal(t, models.StateRunning, h.orch.State())
	assert.False(t, h.orch.isPaused())

	require.NoError(t, h.orch.Stop())
	assert.Equal(t, models.StateStopped, h.orch.State())

	assert.True(t, h.ingestion.stopped)
	assert.True(t, h.oracle.stopped)
	assert.True(t, h.ledger.stopped)
}

func TestStartFailsWhenCacheUnreachable(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockCache := cache.NewMockCache(ctrl)
	mockCache.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused"))

	cfg := &config.PipelineConfig{Name: "test-pipeline", Version: "0.0.1"}
	orch := New(cfg, mockCache, nil, newFakeComponent(), newFakeComponent(), newFakeLedger(), &fakeDoer{})

	err := orch.Start(context.Background())
	require.ErrorIs(t, err, ErrCacheUnavailable)
	assert.Equal(t, models.StateError, orch.State())
}

func TestCacheWriteFailureCountedNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockCache := cache.NewMockCache(ctrl)
	mockCache.EXPECT().Set(gomock.Any(), "sensor:s1", gomock.Any(), gomock.Any()).
		Return(errors.New("write timeout"))

	cfg := &config.PipelineConfig{Name: "test-pipeline", Version: "0.0.1"}
	orch := New(cfg, mockCache, nil, newFakeComponent(), newFakeComponent(), newFakeLedger(), &fakeDoer{})

	orch.handleEvent(context.Background(), models.SensorDataEvent{
		Reading: testReading("s1", map[string]interface{}{"temperature": 20.0}),
	})

	metrics := orch.GetMetrics()
	assert.Equal(t, uint64(1), metrics.Errors.BySource["cache"])

	// The reading still reached the window and job queue.
	assert.Len(t, orch.Window("s1"), 1)
}

func TestStartFailsWhenComponentFails(t *testing.T) {
	h := newTestHarness(t, nil)
	h.oracle.startErr = errors.New("broker unreachable")

	err := h.orch.Start(context.Background())
	require.ErrorIs(t, err, ErrStartupFailed)
	assert.Equal(t, models.StateError, h.orch.State())
}

func TestSensorDataEventCachesAndEnqueues(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	reading := testReading("greenhouse-1", map[string]interface{}{"temperature": 22.5})
	h.orch.handleEvent(ctx, models.SensorDataEvent{Reading: reading})

	var cached models.SensorReading

	require.NoError(t, h.mem.Get(ctx, "sensor:greenhouse-1", &cached))
	assert.Equal(t, "greenhouse-1", cached.SensorID)

	assert.Len(t, h.orch.Window("greenhouse-1"), 1)

	h.orch.mu.RLock()
	defer h.orch.mu.RUnlock()

	require.Len(t, h.orch.jobs, 1)

	for _, job := range h.orch.jobs {
		assert.Equal(t, models.JobValidation, job.Type)
		assert.Equal(t, models.JobPending, job.Status)
	}
}

func TestAggregationWindowBound(t *testing.T) {
	h := newTestHarness(t, nil)

	for i := 0; i < aggregationWindowSize+20; i++ {
		h.orch.appendWindow(testReading("s1", map[string]interface{}{"n": float64(i)}))
	}

	window := h.orch.Window("s1")
	require.Len(t, window, aggregationWindowSize)

	// Oldest entries evicted first.
	first, _ := window[0].NumericMetric("n")
	assert.Equal(t, float64(20), first)
}

func TestOrchestratorRuleQueuesHighPriorityTrigger(t *testing.T) {
	cfg := &config.PipelineConfig{
		Name:    "test-pipeline",
		Version: "0.0.1",
		Rules: []config.OrchestratorRule{{
			Metric:          "temperature",
			Operator:        ">",
			Value:           30,
			ContractAddress: "0x00000000000000000000000000000000000000aa",
			FunctionName:    "recordOverheat",
			Parameters:      []interface{}{"$sensor", "$value"},
		}},
	}

	h := newTestHarness(t, cfg)
	ctx := context.Background()

	h.orch.handleEvent(ctx, models.SensorDataEvent{
		Reading: testReading("s1", map[string]interface{}{"temperature": 35.0}),
	})

	require.Len(t, h.ledger.queued, 1)
	trigger := h.ledger.queued[0]
	assert.Equal(t, models.PriorityHigh, trigger.Priority)
	assert.Equal(t, "recordOverheat", trigger.FunctionName)
	assert.Equal(t, []interface{}{"s1", 35.0}, trigger.Parameters)

	// Below the limit: no trigger.
	h.orch.handleEvent(ctx, models.SensorDataEvent{
		Reading: testReading("s1", map[string]interface{}{"temperature": 25.0}),
	})
	assert.Len(t, h.ledger.queued, 1)
}

func TestTriggerRequestForwardedToLedger(t *testing.T) {
	h := newTestHarness(t, nil)

	h.orch.handleEvent(context.Background(), models.TriggerRequestEvent{
		Request: models.TriggerRequest{Source: "s1", Metric: "humidity", Value: 80},
	})

	require.Len(t, h.ledger.requests, 1)
	assert.Equal(t, "humidity", h.ledger.requests[0].Metric)
}

func TestErrorEventsCountedBySource(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.orch.handleEvent(ctx, models.ErrorEvent{Code: "x", Source: "oracle_aggregator"})
	}

	h.orch.handleEvent(ctx, models.ErrorEvent{Code: "y", Source: "ledger_connector"})

	metrics := h.orch.GetMetrics()
	assert.Equal(t, uint64(4), metrics.Errors.Total)
	assert.Equal(t, uint64(3), metrics.Errors.BySource["oracle_aggregator"])
	assert.Equal(t, uint64(1), metrics.Errors.BySource["ledger_connector"])
}

func TestHealthAggregation(t *testing.T) {
	h := newTestHarness(t, nil)

	require.NoError(t, h.orch.Start(context.Background()))

	defer func() { _ = h.orch.Stop() }()

	health := h.orch.GetHealth()
	assert.Equal(t, models.Healthy, health.Status)
	assert.Len(t, health.Components, 3)

	h.oracle.health.Status = models.Degraded

	health = h.orch.GetHealth()
	assert.Equal(t, models.Degraded, health.Status)
	assert.Equal(t, models.Degraded, health.Components["oracle"].Status)
}

func TestConfirmedTriggerCachedAndFannedOut(t *testing.T) {
	cfg := &config.PipelineConfig{
		Name:    "test-pipeline",
		Version: "0.0.1",
		Webhooks: []config.WebhookEndpoint{{
			ID:     "audit",
			URL:    "http://audit.example/hook",
			Events: []string{"contract_triggered"},
		}},
	}

	h := newTestHarness(t, cfg)
	ctx := context.Background()

	h.orch.handleEvent(ctx, models.TriggerConfirmedEvent{
		Trigger: models.ContractTrigger{
			ID:              "t-1",
			ContractAddress: "0xabc",
			Status:          models.TriggerConfirmed,
			TxHash:          "0xdead",
			BlockNumber:     7,
		},
	})

	var cached models.ContractTrigger

	require.NoError(t, h.mem.Get(ctx, "trigger:t-1", &cached))
	assert.Equal(t, models.TriggerConfirmed, cached.Status)

	h.orch.mu.RLock()
	defer h.orch.mu.RUnlock()
	assert.Len(t, h.orch.webhookCalls, 1)
}
