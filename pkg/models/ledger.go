package models

import "time"

// TriggerStatus tracks a queued contract invocation through its lifecycle.
type TriggerStatus string

const (
	TriggerPending   TriggerStatus = "pending"
	TriggerSubmitted TriggerStatus = "submitted"
	TriggerConfirmed TriggerStatus = "confirmed"
	TriggerFailed    TriggerStatus = "failed"
)

// TriggerPriority orders competing contract invocations.
type TriggerPriority string

const (
	PriorityLow    TriggerPriority = "low"
	PriorityMedium TriggerPriority = "medium"
	PriorityHigh   TriggerPriority = "high"
)

// ContractTrigger is a queued or in-flight contract invocation.
type ContractTrigger struct {
	ID              string          `json:"id"`
	ContractAddress string          `json:"contract_address"`
	FunctionName    string          `json:"function_name"`
	Parameters      []interface{}   `json:"parameters"`
	GasEstimate     uint64          `json:"gas_estimate,omitempty"`
	Priority        TriggerPriority `json:"priority"`
	ScheduledAt     time.Time       `json:"scheduled_at"`
	Status          TriggerStatus   `json:"status"`
	RetryCount      int             `json:"retry_count"`
	NextAttempt     time.Time       `json:"next_attempt,omitempty"`
	TxHash          string          `json:"tx_hash,omitempty"`
	BlockNumber     uint64          `json:"block_number,omitempty"`
	WalletID        string          `json:"wallet_id,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// TxOptions are optional overrides for a contract execution.
type TxOptions struct {
	WalletID string
	GasLimit uint64
	GasPrice int64
	Value    int64
}

// ContractCall records one submitted transaction for auditing.
type ContractCall struct {
	ID              string        `json:"id"`
	ContractAddress string        `json:"contract_address"`
	FunctionName    string        `json:"function_name"`
	Parameters      []interface{} `json:"parameters"`
	WalletID        string        `json:"wallet_id"`
	Nonce           uint64        `json:"nonce"`
	TxHash          string        `json:"tx_hash"`
	SubmittedAt     time.Time     `json:"submitted_at"`
}

// ContractLogRecord is a normalized contract event observed on-chain.
type ContractLogRecord struct {
	ContractAddress string                 `json:"contract_address"`
	EventName       string                 `json:"event_name"`
	BlockNumber     uint64                 `json:"block_number"`
	TxHash          string                 `json:"tx_hash"`
	Args            map[string]interface{} `json:"args"`
	ReceivedAt      time.Time              `json:"received_at"`
}
