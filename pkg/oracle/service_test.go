package oracle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/models"
)

// fakeDoer serves canned JSON bodies keyed by scheme://host/path.
type fakeDoer struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]error
	statuses  map[string]int
	delays    map[string]time.Duration
	requests  []string
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{
		responses: make(map[string]string),
		failures:  make(map[string]error),
		statuses:  make(map[string]int),
		delays:    make(map[string]time.Duration),
	}
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	key := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path

	f.mu.Lock()
	f.requests = append(f.requests, key)
	f.mu.Unlock()

	if delay, ok := f.delays[key]; ok {
		time.Sleep(delay)
	}

	if err, ok := f.failures[key]; ok {
		return nil, err
	}

	status := http.StatusOK
	if s, ok := f.statuses[key]; ok {
		status = s
	}

	body := f.responses[key]

	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func drainOracleEvents(s *Service) []models.Event {
	var events []models.Event

	for {
		select {
		case e := <-s.Events():
			events = append(events, e)
		default:
			return events
		}
	}
}

func threeSourceFeed(method string, threshold float64) config.PriceFeedConfig {
	return config.PriceFeedConfig{
		ID:     "eth-usd",
		Symbol: "ETH/USD",
		Method: method,
		Sources: []config.PriceSource{
			{Name: "alpha", URL: "https://alpha.example/price", Path: "price"},
			{Name: "beta", URL: "https://beta.example/price", Path: "data.price"},
			{Name: "gamma", URL: "https://gamma.example/price", Path: "price"},
		},
		UpdateThreshold: threshold,
	}
}

func TestPriceFeedAggregation(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["https://alpha.example/price"] = `{"price": 100}`
	doer.responses["https://beta.example/price"] = `{"data": {"price": 102}}`
	doer.responses["https://gamma.example/price"] = `{"price": 98}`

	svc := NewService(config.OracleConfig{}, doer)
	feed := threeSourceFeed("median", 0)

	svc.updatePriceFeed(context.Background(), &feed)

	events := drainOracleEvents(svc)
	require.Len(t, events, 1)

	update, ok := events[0].(models.OracleUpdateEvent)
	require.True(t, ok)

	value, isNum := update.Data.Value.Float()
	require.True(t, isNum)
	assert.InDelta(t, 100.0, value, 0.0001)
	assert.Equal(t, "alpha,beta,gamma", update.Data.Source)
	assert.Greater(t, update.Data.Confidence, 0.5)
}

func TestPriceFeedSourceOrderStable(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["https://alpha.example/price"] = `{"price": 100}`
	doer.responses["https://beta.example/price"] = `{"data": {"price": 102}}`
	doer.responses["https://gamma.example/price"] = `{"price": 98}`

	// Invert the completion order; the published source list must
	// still follow config order.
	doer.delays["https://alpha.example/price"] = 30 * time.Millisecond
	doer.delays["https://beta.example/price"] = 15 * time.Millisecond

	svc := NewService(config.OracleConfig{}, doer)
	feed := threeSourceFeed("median", 0)

	svc.updatePriceFeed(context.Background(), &feed)

	events := drainOracleEvents(svc)
	require.Len(t, events, 1)

	update, ok := events[0].(models.OracleUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, "alpha,beta,gamma", update.Data.Source)
}

func TestPriceFeedPartialFailureTolerated(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["https://alpha.example/price"] = `{"price": 100}`
	doer.failures["https://beta.example/price"] = errors.New("timeout")
	doer.statuses["https://gamma.example/price"] = http.StatusBadGateway

	svc := NewService(config.OracleConfig{}, doer)
	feed := threeSourceFeed("mean", 0)

	svc.updatePriceFeed(context.Background(), &feed)

	events := drainOracleEvents(svc)
	require.Len(t, events, 1)

	update, ok := events[0].(models.OracleUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, "alpha", update.Data.Source)
	assert.InDelta(t, singleSourceConfidence, update.Data.Confidence, 0.0001)
}

func TestPriceFeedAllSourcesFailed(t *testing.T) {
	doer := newFakeDoer()
	doer.failures["https://alpha.example/price"] = errors.New("timeout")
	doer.failures["https://beta.example/price"] = errors.New("timeout")
	doer.failures["https://gamma.example/price"] = errors.New("timeout")

	svc := NewService(config.OracleConfig{}, doer)
	feed := threeSourceFeed("median", 0)

	svc.updatePriceFeed(context.Background(), &feed)

	events := drainOracleEvents(svc)
	require.Len(t, events, 1)

	errEvent, ok := events[0].(models.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "no_price_data", errEvent.Code)
	assert.Equal(t, "oracle_aggregator", errEvent.Source)
}

func TestPriceFeedUpdateThresholdSuppression(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["https://alpha.example/price"] = `{"price": 100}`
	doer.responses["https://beta.example/price"] = `{"data": {"price": 100}}`
	doer.responses["https://gamma.example/price"] = `{"price": 100}`

	svc := NewService(config.OracleConfig{}, doer)
	feed := threeSourceFeed("median", 2.0)

	svc.updatePriceFeed(context.Background(), &feed)
	require.Len(t, drainOracleEvents(svc), 1)

	// A 0.5% move is below the 2% threshold: no update published.
	doer.responses["https://alpha.example/price"] = `{"price": 100.5}`
	doer.responses["https://beta.example/price"] = `{"data": {"price": 100.5}}`
	doer.responses["https://gamma.example/price"] = `{"price": 100.5}`

	svc.updatePriceFeed(context.Background(), &feed)
	assert.Empty(t, drainOracleEvents(svc))

	// A 5% move clears it.
	doer.responses["https://alpha.example/price"] = `{"price": 105}`
	doer.responses["https://beta.example/price"] = `{"data": {"price": 105}}`
	doer.responses["https://gamma.example/price"] = `{"price": 105}`

	svc.updatePriceFeed(context.Background(), &feed)
	assert.Len(t, drainOracleEvents(svc), 1)
}

func TestWeatherOracleNormalization(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["https://owm.example/data"] = `{
		"main": {"temp": 18.5, "humidity": 60, "pressure": 1012},
		"wind": {"speed": 3.4},
		"uvi": 2.1
	}`

	svc := NewService(config.OracleConfig{}, doer)
	oracle := config.WeatherOracleConfig{
		ID:       "weather-1",
		Provider: "openweathermap",
		URL:      "https://owm.example/data",
		Metrics:  []string{"temperature", "wind_speed", "air_quality"},
	}

	svc.updateWeatherOracle(context.Background(), &oracle)

	events := drainOracleEvents(svc)

	// air_quality is absent from the response, so two metrics publish.
	require.Len(t, events, 2)

	byID := make(map[string]models.OracleData)

	for _, e := range events {
		update, ok := e.(models.OracleUpdateEvent)
		require.True(t, ok)

		byID[update.Data.OracleID] = update.Data
	}

	temp, _ := byID["weather-1:temperature"].Value.Float()
	assert.InDelta(t, 18.5, temp, 0.0001)

	wind, _ := byID["weather-1:wind_speed"].Value.Float()
	assert.InDelta(t, 3.4, wind, 0.0001)
}

func TestWeatherOracleUnsupportedProvider(t *testing.T) {
	svc := NewService(config.OracleConfig{}, newFakeDoer())
	oracle := config.WeatherOracleConfig{ID: "w", Provider: "martian"}

	svc.updateWeatherOracle(context.Background(), &oracle)

	events := drainOracleEvents(svc)
	require.Len(t, events, 1)

	errEvent, ok := events[0].(models.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "unsupported_provider", errEvent.Code)
}

func TestCustomOracleTransform(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["https://api.example/stat"] = `{"data": {"value": 21}}`

	svc := NewService(config.OracleConfig{}, doer)
	oracle := config.CustomOracleConfig{
		ID:   "custom-1",
		URL:  "https://api.example/stat",
		Path: "data.value",
		Transform: &config.CustomTransform{
			Op:      "multiply",
			Operand: 2,
		},
	}

	svc.updateCustomOracle(context.Background(), &oracle)

	events := drainOracleEvents(svc)
	require.Len(t, events, 1)

	update, ok := events[0].(models.OracleUpdateEvent)
	require.True(t, ok)

	value, isNum := update.Data.Value.Float()
	require.True(t, isNum)
	assert.InDelta(t, 42.0, value, 0.0001)
}

func TestCustomOracleStructuredValue(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["https://api.example/stat"] = `{"data": {"nested": {"a": 1}}}`

	svc := NewService(config.OracleConfig{}, doer)
	oracle := config.CustomOracleConfig{ID: "custom-1", URL: "https://api.example/stat", Path: "data.nested"}

	svc.updateCustomOracle(context.Background(), &oracle)

	events := drainOracleEvents(svc)
	require.Len(t, events, 1)

	update := events[0].(models.OracleUpdateEvent)
	assert.Equal(t, models.ValueStructured, update.Data.Value.Kind)
}

func TestCustomOracleValueNotFound(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["https://api.example/stat"] = `{"data": {}}`

	svc := NewService(config.OracleConfig{}, doer)
	oracle := config.CustomOracleConfig{ID: "custom-1", URL: "https://api.example/stat", Path: "data.value"}

	svc.updateCustomOracle(context.Background(), &oracle)

	events := drainOracleEvents(svc)
	require.Len(t, events, 1)

	errEvent, ok := events[0].(models.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "value_not_found", errEvent.Code)
}

func TestServiceStartStop(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["https://alpha.example/price"] = `{"price": 100}`

	cfg := config.OracleConfig{
		PriceFeeds: []config.PriceFeedConfig{
			{
				ID:       "feed-1",
				Symbol:   "X",
				Method:   "mean",
				Interval: models.Duration(time.Hour),
				Sources: []config.PriceSource{
					{Name: "alpha", URL: "https://alpha.example/price", Path: "price"},
				},
			},
		},
	}

	svc := NewService(cfg, doer)
	require.NoError(t, svc.Start(context.Background()))
	assert.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyRunning)

	// The immediate poll publishes before the first tick.
	require.Eventually(t, func() bool {
		_, ok := svc.Latest("feed-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())

	assert.ErrorIs(t, svc.ForceUpdatePrice(context.Background(), "missing"), ErrUnknownOracle)
}
