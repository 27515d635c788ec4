package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/jsonpath"
	"github.com/sensorgrid/pipeline/pkg/models"
)

// Common metric names across weather providers.
const (
	metricTemperature = "temperature"
	metricHumidity    = "humidity"
	metricPressure    = "pressure"
	metricWindSpeed   = "wind_speed"
	metricUVIndex     = "uv_index"
	metricAirQuality  = "air_quality"
)

// providerPaths maps each supported provider's response shape onto the
// common metric set via dotted paths.
var providerPaths = map[string]map[string]string{
	"openweathermap": {
		metricTemperature: "main.temp",
		metricHumidity:    "main.humidity",
		metricPressure:    "main.pressure",
		metricWindSpeed:   "wind.speed",
		metricUVIndex:     "uvi",
		metricAirQuality:  "air_quality.aqi",
	},
	"generic": {
		metricTemperature: "temperature",
		metricHumidity:    "humidity",
		metricPressure:    "pressure",
		metricWindSpeed:   "wind_speed",
		metricUVIndex:     "uv_index",
		metricAirQuality:  "air_quality",
	},
}

// updateWeatherOracle fetches the provider response for the configured
// geolocation and publishes one observation per declared metric.
func (s *Service) updateWeatherOracle(ctx context.Context, oracle *config.WeatherOracleConfig) {
	paths, ok := providerPaths[oracle.Provider]
	if !ok {
		s.recordError(oracle.ID, "unsupported_provider",
			fmt.Sprintf("%v: %s", ErrUnsupportedProvider, oracle.Provider))

		return
	}

	doc, latency, err := s.fetchJSON(ctx, http.MethodGet, weatherURL(oracle), nil)
	s.recordLatency(oracle.ID, latency)

	if err != nil {
		s.recordError(oracle.ID, "weather_fetch_failed", err.Error())
		return
	}

	now := s.nowFn()

	for _, metric := range oracle.Metrics {
		path, known := paths[metric]
		if !known {
			continue
		}

		value, err := jsonpath.LookupFloat(doc, path)
		if err != nil {
			// Provider omitted this metric; not an error for the cycle.
			continue
		}

		s.publish(models.OracleData{
			OracleID:   oracle.ID + ":" + metric,
			Endpoint:   oracle.URL,
			Timestamp:  now,
			Value:      models.NumericValue(value),
			Confidence: singleSourceConfidence,
			Source:     oracle.Provider,
			Latency:    latency,
		})
	}
}

func weatherURL(oracle *config.WeatherOracleConfig) string {
	u, err := url.Parse(oracle.URL)
	if err != nil {
		return oracle.URL
	}

	q := u.Query()
	q.Set("lat", fmt.Sprintf("%g", oracle.Latitude))
	q.Set("lon", fmt.Sprintf("%g", oracle.Longitude))

	if oracle.APIKey != "" {
		q.Set("appid", oracle.APIKey)
	}

	u.RawQuery = q.Encode()

	return u.String()
}
