package models

import "time"

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ThresholdAction is what a satisfied threshold comparison does.
type ThresholdAction string

const (
	ActionLog             ThresholdAction = "log"
	ActionAlert           ThresholdAction = "alert"
	ActionTriggerContract ThresholdAction = "trigger_contract"
)

// Alert is raised when a configured threshold comparison holds.
type Alert struct {
	ID        string                 `json:"id"`
	Severity  Severity               `json:"severity"`
	Source    string                 `json:"source"`
	Metric    string                 `json:"metric"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// TriggerRequest asks the ledger side to consider a contract invocation.
// It is emitted separately from the Alert so alerting and contract
// execution stay independent consumers of threshold evaluation.
type TriggerRequest struct {
	Source          string          `json:"source"`
	Metric          string          `json:"metric"`
	Value           float64         `json:"value"`
	ContractAddress string          `json:"contract_address,omitempty"`
	FunctionName    string          `json:"function_name,omitempty"`
	Parameters      []interface{}   `json:"parameters,omitempty"`
	Priority        TriggerPriority `json:"priority"`
	Timestamp       time.Time       `json:"timestamp"`
}
