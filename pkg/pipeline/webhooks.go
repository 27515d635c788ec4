package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/jsonpath"
	"github.com/sensorgrid/pipeline/pkg/models"
)

const webhookBatchSize = 5

// enqueueWebhooks creates one pending call per endpoint subscribed to
// the event type. Filters and transforms run at delivery time so a
// retried call re-evaluates against its original payload.
func (o *Orchestrator) enqueueWebhooks(eventType string, data map[string]interface{}) {
	now := o.nowFn()

	for i := range o.cfg.Webhooks {
		endpoint := &o.cfg.Webhooks[i]

		if !endpointSubscribed(endpoint, eventType) {
			continue
		}

		call := &models.WebhookCall{
			ID:         uuid.New().String(),
			EndpointID: endpoint.ID,
			URL:        endpoint.URL,
			EventType:  eventType,
			Payload: map[string]interface{}{
				"eventType": eventType,
				"timestamp": now.UnixMilli(),
				"pipeline":  o.cfg.Name,
				"data":      data,
			},
			Status:      models.WebhookPending,
			NextAttempt: now,
			CreatedAt:   now,
		}

		o.mu.Lock()
		o.webhookCalls[call.ID] = call
		o.webhookOrder = append(o.webhookOrder, call.ID)
		o.mu.Unlock()
	}
}

func endpointSubscribed(endpoint *config.WebhookEndpoint, eventType string) bool {
	for _, e := range endpoint.Events {
		if e == eventType || e == "*" {
			return true
		}
	}

	return false
}

// deliverWebhooksTick sends up to webhookBatchSize due calls, applies
// each endpoint's retry policy on failure, and purges terminal calls.
func (o *Orchestrator) deliverWebhooksTick(ctx context.Context) {
	batch := o.claimWebhooks(webhookBatchSize)

	for _, call := range batch {
		endpoint := o.endpointByID(call.EndpointID)
		if endpoint == nil {
			o.finishWebhook(call, models.WebhookFailed, "", "endpoint no longer configured")
			continue
		}

		if !matchesFilters(endpoint.Filters, call.Payload) {
			// Filtered out counts as delivered: nothing to retry.
			o.finishWebhook(call, models.WebhookSuccess, "filtered", "")
			continue
		}

		if !o.limiter.Allow() {
			// Over the egress budget; leave pending for the next tick.
			o.requeueWebhook(call)
			continue
		}

		if err := o.sendWebhook(ctx, endpoint, call); err != nil {
			o.retryWebhook(endpoint, call, err)
			continue
		}

		o.finishWebhook(call, models.WebhookSuccess, "delivered", "")
	}

	o.purgeTerminalWebhooks()
}

func (o *Orchestrator) claimWebhooks(n int) []*models.WebhookCall {
	now := o.nowFn()

	o.mu.Lock()
	defer o.mu.Unlock()

	batch := make([]*models.WebhookCall, 0, n)

	for _, id := range o.webhookOrder {
		if len(batch) == n {
			break
		}

		call, ok := o.webhookCalls[id]
		if !ok || call.Status != models.WebhookPending || call.NextAttempt.After(now) {
			continue
		}

		batch = append(batch, call)
	}

	return batch
}

func (o *Orchestrator) endpointByID(id string) *config.WebhookEndpoint {
	for i := range o.cfg.Webhooks {
		if o.cfg.Webhooks[i].ID == id {
			return &o.cfg.Webhooks[i]
		}
	}

	return nil
}

func (o *Orchestrator) sendWebhook(ctx context.Context, endpoint *config.WebhookEndpoint, call *models.WebhookCall) error {
	payload := call.Payload

	if endpoint.Transform != nil {
		payload = transformPayload(endpoint.Transform, payload)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	method := strings.ToUpper(endpoint.Method)
	if method == "" {
		method = http.MethodPost
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", o.cfg.Name, o.cfg.Version))

	for k, v := range endpoint.Headers {
		req.Header.Set(k, v)
	}

	resp, err := o.httpC.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}

	return nil
}

// retryWebhook reschedules a failed call per the endpoint's policy, or
// marks it permanently failed once retries are exhausted.
func (o *Orchestrator) retryWebhook(endpoint *config.WebhookEndpoint, call *models.WebhookCall, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	call.RetryCount++
	call.Error = cause.Error()

	if call.RetryCount > endpoint.Retry.MaxRetries {
		call.Status = models.WebhookFailed
		o.metrics.errors.WithLabelValues("webhook").Inc()

		return
	}

	call.NextAttempt = o.nowFn().Add(backoffDelay(&endpoint.Retry, call.RetryCount))
}

// backoffDelay computes the delay before the given attempt, linear or
// exponential, clamped to the policy's max.
func backoffDelay(policy *config.RetryPolicy, attempt int) time.Duration {
	initial := time.Duration(policy.InitialDelay)
	if initial <= 0 {
		initial = time.Second
	}

	var delay time.Duration

	switch policy.Strategy {
	case "exponential":
		delay = initial

		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	default: // linear
		delay = initial * time.Duration(attempt)
	}

	if max := time.Duration(policy.MaxDelay); max > 0 && delay > max {
		delay = max
	}

	return delay
}

func (o *Orchestrator) requeueWebhook(call *models.WebhookCall) {
	o.mu.Lock()
	call.NextAttempt = o.nowFn().Add(webhookTickInterval)
	o.mu.Unlock()
}

func (o *Orchestrator) finishWebhook(call *models.WebhookCall, status models.WebhookStatus, response, errMsg string) {
	o.mu.Lock()
	call.Status = status
	call.Response = response
	call.Error = errMsg
	o.mu.Unlock()
}

func (o *Orchestrator) purgeTerminalWebhooks() {
	o.mu.Lock()
	defer o.mu.Unlock()

	remaining := o.webhookOrder[:0]

	for _, id := range o.webhookOrder {
		call, ok := o.webhookCalls[id]
		if !ok {
			continue
		}

		if call.Status == models.WebhookSuccess || call.Status == models.WebhookFailed {
			delete(o.webhookCalls, id)
			continue
		}

		remaining = append(remaining, id)
	}

	o.webhookOrder = remaining
}

// matchesFilters evaluates every configured filter against dotted paths
// into the payload; all filters must hold. A missing path fails the
// filter.
func matchesFilters(filters []config.WebhookFilter, payload map[string]interface{}) bool {
	for i := range filters {
		if !matchesFilter(&filters[i], payload) {
			return false
		}
	}

	return true
}

func matchesFilter(filter *config.WebhookFilter, payload map[string]interface{}) bool {
	value, err := jsonpath.Lookup(payload, filter.Path)
	if err != nil {
		return false
	}

	switch filter.Operator {
	case "eq":
		return looseEqual(value, filter.Value)
	case "neq":
		return !looseEqual(value, filter.Value)
	case "gt":
		a, aok := toFloat(value)
		b, bok := toFloat(filter.Value)

		return aok && bok && a > b
	case "lt":
		a, aok := toFloat(value)
		b, bok := toFloat(filter.Value)

		return aok && bok && a < b
	case "contains":
		s, sok := value.(string)
		sub, subok := filter.Value.(string)

		return sok && subok && strings.Contains(s, sub)
	default:
		return false
	}
}

func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// transformPayload projects and renames fields inside the payload's
// data object, leaving the envelope intact.
func transformPayload(transform *config.WebhookTransform, payload map[string]interface{}) map[string]interface{} {
	data, ok := payload["data"].(map[string]interface{})
	if !ok {
		return payload
	}

	out := data

	if len(transform.Include) > 0 {
		out = make(map[string]interface{}, len(transform.Include))

		for _, field := range transform.Include {
			if v, ok := data[field]; ok {
				out[field] = v
			}
		}
	} else {
		out = make(map[string]interface{}, len(data))
		for k, v := range data {
			out[k] = v
		}
	}

	for from, to := range transform.Rename {
		if v, ok := out[from]; ok {
			delete(out, from)
			out[to] = v
		}
	}

	transformed := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		transformed[k] = v
	}

	transformed["data"] = out

	return transformed
}
