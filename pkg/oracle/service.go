// Package oracle maintains fresh external reference data (prices,
// weather, arbitrary JSON APIs) on independent per-source polling
// schedules, with multi-source aggregation and confidence scoring.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/models"
)

const (
	eventBufferSize = 256
	requestTimeout  = 10 * time.Second

	defaultPriceInterval   = 30 * time.Second
	defaultWeatherInterval = 300 * time.Second
	defaultCustomInterval  = 60 * time.Second

	healthyErrorBudget = 20

	// Smoothing factor for the per-oracle response-time moving average.
	emaAlpha = 0.3
)

// Service polls every configured oracle on its own schedule. State is
// scoped to the instance; Start and Stop bound all goroutines.
type Service struct {
	cfg    config.OracleConfig
	client HTTPDoer

	mu       sync.RWMutex
	running  bool
	latest   map[string]models.OracleData
	respTime map[string]time.Duration
	errCount uint64

	events chan models.Event
	done   chan struct{}
	wg     sync.WaitGroup
	nowFn  func() time.Time
}

// NewService creates the aggregator. Pass nil to use a default HTTP
// client with the standard request timeout.
func NewService(cfg config.OracleConfig, client HTTPDoer) *Service {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	return &Service{
		cfg:      cfg,
		client:   client,
		latest:   make(map[string]models.OracleData),
		respTime: make(map[string]time.Duration),
		events:   make(chan models.Event, eventBufferSize),
		nowFn:    time.Now,
	}
}

// Events exposes the service's output channel for orchestrator fan-in.
func (s *Service) Events() <-chan models.Event {
	return s.events
}

// Start performs one immediate poll per oracle and establishes its
// recurring timer.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	for i := range s.cfg.PriceFeeds {
		feed := &s.cfg.PriceFeeds[i]
		s.spawnPoller(ctx, intervalOr(feed.Interval, defaultPriceInterval), func(ctx context.Context) {
			s.updatePriceFeed(ctx, feed)
		})
	}

	for i := range s.cfg.WeatherOracles {
		oracle := &s.cfg.WeatherOracles[i]
		s.spawnPoller(ctx, intervalOr(oracle.Interval, defaultWeatherInterval), func(ctx context.Context) {
			s.updateWeatherOracle(ctx, oracle)
		})
	}

	for i := range s.cfg.CustomOracles {
		oracle := &s.cfg.CustomOracles[i]
		s.spawnPoller(ctx, intervalOr(oracle.Interval, defaultCustomInterval), func(ctx context.Context) {
			s.updateCustomOracle(ctx, oracle)
		})
	}

	log.Printf("Oracle service started: %d price feeds, %d weather, %d custom",
		len(s.cfg.PriceFeeds), len(s.cfg.WeatherOracles), len(s.cfg.CustomOracles))

	return nil
}

// Stop cancels all polling timers. Safe to call when not started.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}

	s.running = false
	done := s.done
	s.mu.Unlock()

	close(done)
	s.wg.Wait()

	return nil
}

func (s *Service) spawnPoller(ctx context.Context, interval time.Duration, poll func(context.Context)) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		// Immediate poll before the first tick.
		poll(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll(ctx)
			}
		}
	}()
}

// ForceUpdatePrice refreshes one price feed out of band.
func (s *Service) ForceUpdatePrice(ctx context.Context, feedID string) error {
	for i := range s.cfg.PriceFeeds {
		if s.cfg.PriceFeeds[i].ID == feedID {
			s.updatePriceFeed(ctx, &s.cfg.PriceFeeds[i])
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrUnknownOracle, feedID)
}

// ForceUpdateWeather refreshes one weather oracle out of band.
func (s *Service) ForceUpdateWeather(ctx context.Context, oracleID string) error {
	for i := range s.cfg.WeatherOracles {
		if s.cfg.WeatherOracles[i].ID == oracleID {
			s.updateWeatherOracle(ctx, &s.cfg.WeatherOracles[i])
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrUnknownOracle, oracleID)
}

// ForceUpdateCustom refreshes one custom oracle out of band.
func (s *Service) ForceUpdateCustom(ctx context.Context, oracleID string) error {
	for i := range s.cfg.CustomOracles {
		if s.cfg.CustomOracles[i].ID == oracleID {
			s.updateCustomOracle(ctx, &s.cfg.CustomOracles[i])
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrUnknownOracle, oracleID)
}

// Latest returns the most recent published observation for an oracle id.
func (s *Service) Latest(oracleID string) (models.OracleData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.latest[oracleID]

	return data, ok
}

// LatestAll snapshots the most recent observation of every oracle.
func (s *Service) LatestAll() []models.OracleData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.OracleData, 0, len(s.latest))
	for _, data := range s.latest {
		out = append(out, data)
	}

	return out
}

// fetchJSON issues one bounded HTTP request and decodes the JSON body.
func (s *Service) fetchJSON(ctx context.Context, method, url string, headers map[string]string) (interface{}, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := s.nowFn()

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.nowFn().Sub(start), fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()

	latency := s.nowFn().Sub(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, latency, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, latency, fmt.Errorf("failed to read body: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, latency, fmt.Errorf("failed to decode JSON: %w", err)
	}

	return doc, latency, nil
}

func (s *Service) publish(data models.OracleData) {
	s.mu.Lock()
	s.latest[data.OracleID] = data
	s.mu.Unlock()

	s.emit(models.OracleUpdateEvent{Data: data})
}

func (s *Service) emit(event models.Event) {
	select {
	case s.events <- event:
	default:
		log.Printf("Oracle event channel full, dropping %s event", models.Type(event))
	}
}

func (s *Service) recordLatency(oracleID string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.respTime[oracleID]
	if !ok {
		s.respTime[oracleID] = latency
		return
	}

	s.respTime[oracleID] = time.Duration(emaAlpha*float64(latency) + (1-emaAlpha)*float64(prev))
}

func (s *Service) recordError(oracleID, code, message string) {
	s.mu.Lock()
	s.errCount++
	s.mu.Unlock()

	s.emit(models.ErrorEvent{
		Code:      code,
		Message:   message,
		Source:    "oracle_aggregator",
		Timestamp: s.nowFn(),
		Details:   map[string]interface{}{"oracle_id": oracleID},
	})
}

// GetHealth reports healthy while running and under the error budget.
func (s *Service) GetHealth() models.ComponentHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := models.Degraded
	if s.running && s.errCount < healthyErrorBudget {
		status = models.Healthy
	}

	responseTimes := make(map[string]interface{}, len(s.respTime))
	for id, d := range s.respTime {
		responseTimes[id] = d.String()
	}

	return models.ComponentHealth{
		Status:    status,
		Timestamp: s.nowFn(),
		Details: map[string]interface{}{
			"running":        s.running,
			"errors":         s.errCount,
			"oracles_cached": len(s.latest),
			"response_times": responseTimes,
		},
	}
}

func intervalOr(d models.Duration, fallback time.Duration) time.Duration {
	if time.Duration(d) > 0 {
		return time.Duration(d)
	}

	return fallback
}
