package models

import "time"

// PipelineState is the orchestrator lifecycle state.
type PipelineState string

const (
	StateStopped  PipelineState = "stopped"
	StateStarting PipelineState = "starting"
	StateRunning  PipelineState = "running"
	StatePaused   PipelineState = "paused"
	StateStopping PipelineState = "stopping"
	StateError    PipelineState = "error"
)

// JobType selects the handler for a processing job.
type JobType string

const (
	JobValidation       JobType = "validation"
	JobAggregation      JobType = "aggregation"
	JobCorrelation      JobType = "correlation"
	JobAnomalyDetection JobType = "anomaly_detection"
	JobThresholdCheck   JobType = "threshold_check"
)

// JobStatus tracks a processing job. Every job transitions exactly once
// from processing to a terminal state.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ProcessingJob is the orchestrator's internal unit of work.
type ProcessingJob struct {
	ID        string                   `json:"id"`
	Type      JobType                  `json:"type"`
	Status    JobStatus                `json:"status"`
	Input     []map[string]interface{} `json:"input"`
	Sources   []string                 `json:"sources"`
	CreatedAt time.Time                `json:"created_at"`
	Result    map[string]interface{}   `json:"result,omitempty"`
	Duration  time.Duration            `json:"duration,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// WebhookStatus tracks one outbound delivery.
type WebhookStatus string

const (
	WebhookPending WebhookStatus = "pending"
	WebhookSuccess WebhookStatus = "success"
	WebhookFailed  WebhookStatus = "failed"
)

// WebhookCall is one outbound delivery attempt, re-entering pending on
// retry until its endpoint's retry policy is exhausted.
type WebhookCall struct {
	ID          string                 `json:"id"`
	EndpointID  string                 `json:"endpoint_id"`
	URL         string                 `json:"url"`
	EventType   string                 `json:"event_type"`
	Payload     map[string]interface{} `json:"payload"`
	Status      WebhookStatus          `json:"status"`
	RetryCount  int                    `json:"retry_count"`
	NextAttempt time.Time              `json:"next_attempt,omitempty"`
	Response    string                 `json:"response,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
