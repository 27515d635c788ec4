package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/models"
)

const (
	eventBufferSize    = 256
	flushInterval      = 30 * time.Second
	healthyMessageAge  = 60 * time.Second
	healthyErrorBudget = 10

	defaultReconnectBase     = time.Second
	defaultReconnectAttempts = 10
	maxReconnectDelay        = 30 * time.Second
)

// Gateway terminates the two ingestion transports, validates and
// quality-scores telemetry, and raises threshold alerts. All state is
// owned by the gateway instance; nothing is package-level.
type Gateway struct {
	ingestion config.IngestionConfig
	sensors   map[string]*config.SensorConfig

	pubsub PubSubClient
	dialer SocketDialer

	mu       sync.RWMutex
	running  bool
	buffers  map[string]*readingBuffer
	lastSeen map[string]time.Time
	stats    models.GatewayStats
	errCount uint64

	events chan models.Event
	done   chan struct{}
	wg     sync.WaitGroup
	nowFn  func() time.Time
}

// NewGateway creates a gateway for the configured sensors and transports.
func NewGateway(ingestion config.IngestionConfig, sensors []config.SensorConfig, pubsub PubSubClient, dialer SocketDialer) *Gateway {
	registry := make(map[string]*config.SensorConfig, len(sensors))
	for i := range sensors {
		registry[sensors[i].ID] = &sensors[i]
	}

	return &Gateway{
		ingestion: ingestion,
		sensors:   registry,
		pubsub:    pubsub,
		dialer:    dialer,
		buffers:   make(map[string]*readingBuffer),
		lastSeen:  make(map[string]time.Time),
		events:    make(chan models.Event, eventBufferSize),
		nowFn:     time.Now,
	}
}

// Events exposes the gateway's output channel for orchestrator fan-in.
func (g *Gateway) Events() <-chan models.Event {
	return g.events
}

// Start opens both transports. Fails fast if already running.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return ErrAlreadyRunning
	}

	g.running = true
	g.done = make(chan struct{})
	g.mu.Unlock()

	if err := g.pubsub.Connect(ctx); err != nil {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()

		return fmt.Errorf("%w: %w", ErrPubSubConnect, err)
	}

	for _, topic := range g.ingestion.MQTT.Topics {
		if err := g.pubsub.Subscribe(topic, g.onTransportMessage); err != nil {
			g.pubsub.Disconnect()

			g.mu.Lock()
			g.running = false
			g.mu.Unlock()

			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	if g.ingestion.Socket.URL != "" {
		g.wg.Add(1)

		go g.socketLoop(ctx)
	}

	g.wg.Add(1)

	go g.flushLoop(ctx)

	log.Printf("Sensor gateway started: %d sensors, %d topics",
		len(g.sensors), len(g.ingestion.MQTT.Topics))

	return nil
}

// Stop closes both transports and clears all buffers. Safe to call when
// not started.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}

	g.running = false
	done := g.done
	g.mu.Unlock()

	close(done)

	if err := g.pubsub.Unsubscribe(g.ingestion.MQTT.Topics...); err != nil {
		log.Printf("Error unsubscribing topics: %v", err)
	}

	g.pubsub.Disconnect()
	g.wg.Wait()

	g.mu.Lock()
	for _, buf := range g.buffers {
		buf.Clear()
	}
	g.buffers = make(map[string]*readingBuffer)
	g.mu.Unlock()

	return nil
}

func (g *Gateway) onTransportMessage(_ string, payload []byte) {
	if err := g.handleMessage(payload); err != nil {
		log.Printf("Dropping telemetry message: %v", err)
	}
}

// handleMessage validates, scores, buffers, and fans out one inbound
// telemetry payload.
func (g *Gateway) handleMessage(payload []byte) error {
	msg, err := parseMessage(payload)
	if err != nil {
		g.recordError(true)
		g.emit(models.ErrorEvent{
			Code:      "validation_error",
			Message:   err.Error(),
			Source:    "sensor_gateway",
			Timestamp: g.nowFn(),
		})

		return err
	}

	cfg, ok := g.sensors[msg.SensorID]
	if !ok {
		// Telemetry from unregistered sensors is untrusted: dropped,
		// not buffered, not retried.
		g.recordError(false)

		return fmt.Errorf("%w: %s", ErrUnknownSensor, msg.SensorID)
	}

	now := g.nowFn()

	reading := models.SensorReading{
		SensorID:  msg.SensorID,
		Timestamp: time.UnixMilli(*msg.Timestamp),
		Data:      msg.Data,
		Location:  msg.Location,
		Metadata:  msg.Metadata,
	}

	g.mu.Lock()
	lastSeen := g.lastSeen[msg.SensorID]
	reading.Quality = scoreQuality(cfg, &reading, lastSeen, now)

	buf, ok := g.buffers[msg.SensorID]
	if !ok {
		buf = newReadingBuffer()
		g.buffers[msg.SensorID] = buf
	}

	g.lastSeen[msg.SensorID] = now
	g.stats.Received++
	g.stats.LastMessage = now
	g.mu.Unlock()

	buf.Append(reading)

	for _, flag := range reading.Quality.Flags {
		if flag != models.FlagHeartbeatGap {
			continue
		}

		g.emit(models.AlertEvent{Alert: models.Alert{
			ID:        uuid.New().String(),
			Severity:  models.SeverityLow,
			Source:    msg.SensorID,
			Metric:    "heartbeat",
			Message:   fmt.Sprintf("sensor %s silent beyond 3x sampling interval", msg.SensorID),
			Timestamp: now,
		}})

		break
	}

	alerts, requests := evaluateThresholds(cfg, &reading, now)
	for i := range alerts {
		g.emit(models.AlertEvent{Alert: alerts[i]})
	}

	for i := range requests {
		g.emit(models.TriggerRequestEvent{Request: requests[i]})
	}

	g.emit(models.SensorDataEvent{Reading: reading})

	return nil
}

type inboundMessage struct {
	SensorID  string                 `json:"sensorId"`
	Timestamp *int64                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Location  *models.Location       `json:"location,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func parseMessage(payload []byte) (*inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if msg.SensorID == "" {
		return nil, fmt.Errorf("%w: missing sensorId", ErrValidation)
	}

	if msg.Timestamp == nil || *msg.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: missing timestamp", ErrValidation)
	}

	if msg.Data == nil {
		return nil, fmt.Errorf("%w: missing data map", ErrValidation)
	}

	return &msg, nil
}

// socketLoop maintains the duplex socket with exponential backoff,
// capped delay, and a bounded attempt budget.
func (g *Gateway) socketLoop(ctx context.Context) {
	defer g.wg.Done()

	base := time.Duration(g.ingestion.Socket.ReconnectBaseDelay)
	if base <= 0 {
		base = defaultReconnectBase
	}

	maxAttempts := g.ingestion.Socket.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultReconnectAttempts
	}

	attempts := 0
	delay := base

	for {
		select {
		case <-g.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn, err := g.dialer.Dial(ctx, g.ingestion.Socket.URL)
		if err != nil {
			attempts++
			g.recordError(true)

			if attempts >= maxAttempts {
				g.emit(models.ErrorEvent{
					Code:      "max_reconnect_exceeded",
					Message:   fmt.Sprintf("%v after %d attempts: %v", ErrMaxReconnectExceeded, attempts, err),
					Source:    "sensor_gateway",
					Timestamp: g.nowFn(),
				})

				return
			}

			g.emit(models.ConnectionStatusEvent{
				Transport: "socket",
				Connected: false,
				Detail:    err.Error(),
				Timestamp: g.nowFn(),
			})

			if !g.sleep(ctx, delay) {
				return
			}

			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}

			continue
		}

		attempts = 0
		delay = base

		g.emit(models.ConnectionStatusEvent{
			Transport: "socket",
			Connected: true,
			Timestamp: g.nowFn(),
		})

		g.readSocket(ctx, conn)

		g.emit(models.ConnectionStatusEvent{
			Transport: "socket",
			Connected: false,
			Detail:    "read loop ended",
			Timestamp: g.nowFn(),
		})
	}
}

func (g *Gateway) readSocket(ctx context.Context, conn SocketConn) {
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("Error closing socket connection: %v", err)
		}
	}()

	for {
		select {
		case <-g.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		payload, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Socket read error: %v", err)
			return
		}

		if err := g.handleMessage(payload); err != nil {
			log.Printf("Dropping socket message: %v", err)
		}
	}
}

// flushLoop emits a batch snapshot per sensor every flush interval; this
// is the hook aggregation consumers use instead of per-message events.
func (g *Gateway) flushLoop(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.flushBuffers()
		}
	}
}

func (g *Gateway) flushBuffers() {
	g.mu.RLock()
	buffers := make(map[string]*readingBuffer, len(g.buffers))
	for id, buf := range g.buffers {
		buffers[id] = buf
	}
	g.mu.RUnlock()

	for id, buf := range buffers {
		if buf.Len() == 0 {
			continue
		}

		g.emit(models.SensorBatchEvent{
			SensorID: id,
			Readings: buf.Snapshot(),
		})
	}
}

func (g *Gateway) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-g.done:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (g *Gateway) emit(event models.Event) {
	select {
	case g.events <- event:
	default:
		log.Printf("Gateway event channel full, dropping %s event", models.Type(event))
	}
}

func (g *Gateway) recordError(malformed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.errCount++
	g.stats.Dropped++

	if malformed {
		g.stats.Malformed++
	}
}

// Readings returns a snapshot of one sensor's rolling buffer.
func (g *Gateway) Readings(sensorID string) []models.SensorReading {
	g.mu.RLock()
	buf, ok := g.buffers[sensorID]
	g.mu.RUnlock()

	if !ok {
		return nil
	}

	return buf.Snapshot()
}

// GetHealth reports healthy iff running, recently fed, and under the
// error budget. Connectivity loss surfaces via connection-status events,
// not health flips alone, so the gateway never self-reports hard-down.
func (g *Gateway) GetHealth() models.ComponentHealth {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.nowFn()
	status := models.Degraded

	recentMessage := !g.stats.LastMessage.IsZero() && now.Sub(g.stats.LastMessage) <= healthyMessageAge
	if g.running && recentMessage && g.errCount < healthyErrorBudget {
		status = models.Healthy
	}

	return models.ComponentHealth{
		Status:    status,
		Timestamp: now,
		Details: map[string]interface{}{
			"running":        g.running,
			"received":       g.stats.Received,
			"dropped":        g.stats.Dropped,
			"malformed":      g.stats.Malformed,
			"last_message":   g.stats.LastMessage,
			"pubsub":         g.pubsub.IsConnected(),
			"sensors_active": len(g.buffers),
		},
	}
}
