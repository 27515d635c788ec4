package pipeline

import "github.com/sensorgrid/pipeline/pkg/models"

// GetHealth aggregates component health. The pipeline is healthy only
// when every component reports healthy; any other mix degrades it.
func (o *Orchestrator) GetHealth() models.SystemHealth {
	now := o.nowFn()

	components := map[string]models.ComponentHealth{
		"ingestion": o.ingestion.GetHealth(),
		"oracle":    o.oracle.GetHealth(),
		"ledger":    o.ledger.GetHealth(),
	}

	status := models.Healthy

	for _, component := range components {
		if component.Status != models.Healthy {
			status = models.Degraded
			break
		}
	}

	o.mu.RLock()
	state := o.state
	startedAt := o.startedAt
	o.mu.RUnlock()

	if state == models.StateError || state == models.StateStopped {
		status = models.Unhealthy
	}

	health := models.SystemHealth{
		Status:     status,
		Timestamp:  now,
		Components: components,
		Version:    o.cfg.Version,
	}

	if !startedAt.IsZero() {
		health.Uptime = now.Sub(startedAt)
	}

	return health
}
