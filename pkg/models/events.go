package models

import "time"

// Event is the sum type carried on component output channels. The
// orchestrator owns the fan-in and type-switches on the concrete types;
// there is no untyped event bus.
type Event interface {
	eventType() string
}

// SensorDataEvent carries one validated, quality-scored reading.
type SensorDataEvent struct {
	Reading SensorReading
}

// SensorBatchEvent carries a sensor's buffer snapshot on the flush tick.
type SensorBatchEvent struct {
	SensorID string
	Readings []SensorReading
}

// AlertEvent carries one threshold alert.
type AlertEvent struct {
	Alert Alert
}

// TriggerRequestEvent asks for a contract invocation, decoupled from the
// alert raised by the same threshold evaluation.
type TriggerRequestEvent struct {
	Request TriggerRequest
}

// ConnectionStatusEvent reports transport connectivity changes.
type ConnectionStatusEvent struct {
	Transport string
	Connected bool
	Detail    string
	Timestamp time.Time
}

// OracleUpdateEvent carries one fresh oracle observation.
type OracleUpdateEvent struct {
	Data OracleData
}

// ContractLogEvent carries one normalized on-chain contract event.
type ContractLogEvent struct {
	Record ContractLogRecord
}

// TriggerConfirmedEvent fires once when a submitted trigger reaches a
// receipt with success status.
type TriggerConfirmedEvent struct {
	Trigger ContractTrigger
}

// WebhookRequestEvent asks the orchestrator to deliver event data to
// webhook endpoints; produced by ledger event handlers.
type WebhookRequestEvent struct {
	EventType string
	Data      map[string]interface{}
	Timestamp time.Time
}

// ErrorEvent is the structured error record components emit instead of
// returning errors across component boundaries.
type ErrorEvent struct {
	Code      string
	Message   string
	Source    string
	Timestamp time.Time
	Details   map[string]interface{}
}

func (SensorDataEvent) eventType() string       { return "sensor_data" }
func (SensorBatchEvent) eventType() string      { return "sensor_batch" }
func (AlertEvent) eventType() string            { return "alert_generated" }
func (TriggerRequestEvent) eventType() string   { return "trigger_request" }
func (ConnectionStatusEvent) eventType() string { return "connection_status" }
func (OracleUpdateEvent) eventType() string     { return "oracle_update" }
func (ContractLogEvent) eventType() string      { return "contract_event" }
func (TriggerConfirmedEvent) eventType() string { return "contract_triggered" }
func (WebhookRequestEvent) eventType() string   { return "webhook_request" }
func (ErrorEvent) eventType() string            { return "error" }

// Type exposes the wire name of an event for metrics and webhook matching.
func Type(e Event) string {
	if e == nil {
		return ""
	}

	return e.eventType()
}
