package models

import "time"

// HealthState is a component or system health grade.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// ComponentHealth is one component's self-reported health.
type ComponentHealth struct {
	Status    HealthState            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// SystemHealth aggregates component health for the read API.
type SystemHealth struct {
	Status     HealthState                `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
	Version    string                     `json:"version"`
	Uptime     time.Duration              `json:"uptime"`
}

// ThroughputMetrics covers messages-per-second rates since start.
type ThroughputMetrics struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Peak    float64 `json:"peak"`
}

// LatencyMetrics summarizes the rolling job-duration sample buffer.
type LatencyMetrics struct {
	Average time.Duration `json:"average"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
}

// ErrorMetrics totals errors overall and per source component.
type ErrorMetrics struct {
	Total    uint64            `json:"total"`
	BySource map[string]uint64 `json:"by_source"`
}

// ResourceMetrics is coarse process resource usage, with queue depths
// standing in for connection counts.
type ResourceMetrics struct {
	HeapBytes    uint64 `json:"heap_bytes"`
	JobQueue     int    `json:"job_queue"`
	WebhookQueue int    `json:"webhook_queue"`
	PendingTx    int    `json:"pending_tx"`
}

// PipelineMetrics is the external monitoring snapshot.
type PipelineMetrics struct {
	Throughput ThroughputMetrics `json:"throughput"`
	Latency    LatencyMetrics    `json:"latency"`
	Errors     ErrorMetrics      `json:"errors"`
	Resources  ResourceMetrics   `json:"resources"`
	Timestamp  time.Time         `json:"timestamp"`
}
