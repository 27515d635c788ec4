package oracle

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/jsonpath"
	"github.com/sensorgrid/pipeline/pkg/models"
)

// updateCustomOracle polls an arbitrary JSON API, extracts the value at
// the configured dotted path, and applies the optional transform.
func (s *Service) updateCustomOracle(ctx context.Context, oracle *config.CustomOracleConfig) {
	method := oracle.Method
	if method == "" {
		method = http.MethodGet
	}

	headers := make(map[string]string, len(oracle.Headers)+1)
	for k, v := range oracle.Headers {
		headers[k] = v
	}

	if oracle.APIKey != "" {
		headers["X-API-Key"] = oracle.APIKey
	}

	doc, latency, err := s.fetchJSON(ctx, method, oracle.URL, headers)
	s.recordLatency(oracle.ID, latency)

	if err != nil {
		s.recordError(oracle.ID, "custom_fetch_failed", err.Error())
		return
	}

	raw, err := jsonpath.Lookup(doc, oracle.Path)
	if err != nil {
		s.recordError(oracle.ID, "value_not_found",
			fmt.Sprintf("%v at %q", ErrValueNotFound, oracle.Path))

		return
	}

	s.publish(models.OracleData{
		OracleID:   oracle.ID,
		Endpoint:   oracle.URL,
		Timestamp:  s.nowFn(),
		Value:      customValue(raw, oracle.Transform),
		Confidence: singleSourceConfidence,
		Source:     oracle.ID,
		Latency:    latency,
	})
}

func customValue(raw interface{}, transform *config.CustomTransform) models.OracleValue {
	switch v := raw.(type) {
	case float64:
		return models.NumericValue(applyTransform(v, transform))
	case string:
		return models.TextValue(v)
	case map[string]interface{}:
		return models.StructuredValue(v)
	case bool:
		if v {
			return models.NumericValue(1)
		}

		return models.NumericValue(0)
	default:
		return models.TextValue(fmt.Sprintf("%v", v))
	}
}

func applyTransform(value float64, transform *config.CustomTransform) float64 {
	if transform == nil {
		return value
	}

	switch transform.Op {
	case "multiply":
		return value * transform.Operand
	case "divide":
		if transform.Operand == 0 {
			return value
		}

		return value / transform.Operand
	case "add":
		return value + transform.Operand
	case "subtract":
		return value - transform.Operand
	default:
		return value
	}
}
