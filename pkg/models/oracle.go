package models

import (
	"encoding/json"
	"time"
)

// OracleValueKind discriminates the OracleValue union.
type OracleValueKind string

const (
	ValueNumeric    OracleValueKind = "numeric"
	ValueText       OracleValueKind = "text"
	ValueStructured OracleValueKind = "structured"
)

// OracleValue is a tagged union: prices and weather metrics are numeric,
// custom oracles may yield text or arbitrary JSON structures. Consumers
// switch on Kind instead of runtime type assertions.
type OracleValue struct {
	Kind   OracleValueKind
	Num    float64
	Text   string
	Struct map[string]interface{}
}

func NumericValue(v float64) OracleValue {
	return OracleValue{Kind: ValueNumeric, Num: v}
}

func TextValue(s string) OracleValue {
	return OracleValue{Kind: ValueText, Text: s}
}

func StructuredValue(m map[string]interface{}) OracleValue {
	return OracleValue{Kind: ValueStructured, Struct: m}
}

// Float returns the numeric arm, or false when the value is not numeric.
func (v OracleValue) Float() (float64, bool) {
	if v.Kind != ValueNumeric {
		return 0, false
	}

	return v.Num, true
}

func (v OracleValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumeric:
		return json.Marshal(v.Num)
	case ValueText:
		return json.Marshal(v.Text)
	case ValueStructured:
		return json.Marshal(v.Struct)
	default:
		return json.Marshal(nil)
	}
}

func (v *OracleValue) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	switch val := raw.(type) {
	case float64:
		*v = NumericValue(val)
	case string:
		*v = TextValue(val)
	case map[string]interface{}:
		*v = StructuredValue(val)
	default:
		*v = OracleValue{}
	}

	return nil
}

// OracleData is one observation from an external source. The aggregator
// keeps only the latest observation per oracle; history lives in the cache.
type OracleData struct {
	OracleID   string        `json:"oracle_id"`
	Endpoint   string        `json:"endpoint"`
	Timestamp  time.Time     `json:"timestamp"`
	Value      OracleValue   `json:"value"`
	Confidence float64       `json:"confidence"`
	Source     string        `json:"source"`
	Latency    time.Duration `json:"latency"`
}
