package ledger

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/sensorgrid/pipeline/pkg/models"
)

const (
	maxTriggerRetries = 3
	retryBaseDelay    = 30 * time.Second
)

// QueueContractCall enqueues a trigger and attempts it immediately when
// due. The trigger stays in the pending set until its receipt confirms
// or it exhausts its retries.
func (c *Connector) QueueContractCall(ctx context.Context, trigger *models.ContractTrigger) error {
	if trigger.ID == "" {
		trigger.ID = uuid.New().String()
	}

	if trigger.Priority == "" {
		trigger.Priority = models.PriorityMedium
	}

	if trigger.ScheduledAt.IsZero() {
		trigger.ScheduledAt = c.nowFn()
	}

	trigger.Status = models.TriggerPending
	trigger.NextAttempt = trigger.ScheduledAt

	c.mu.Lock()
	c.pending[trigger.ID] = trigger
	c.mu.Unlock()

	if !trigger.ScheduledAt.After(c.nowFn()) {
		c.attemptTrigger(ctx, trigger.ID)
	}

	return nil
}

// QueueFromRequest adapts a threshold trigger request into a queued
// contract call.
func (c *Connector) QueueFromRequest(ctx context.Context, req models.TriggerRequest) error {
	return c.QueueContractCall(ctx, &models.ContractTrigger{
		ContractAddress: req.ContractAddress,
		FunctionName:    req.FunctionName,
		Parameters:      req.Parameters,
		Priority:        req.Priority,
		ScheduledAt:     req.Timestamp,
	})
}

func (c *Connector) triggerLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(triggerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.processTriggerTick(ctx)
		}
	}
}

// processTriggerTick attempts every due pending trigger.
func (c *Connector) processTriggerTick(ctx context.Context) {
	now := c.nowFn()

	c.mu.RLock()
	due := make([]string, 0, len(c.pending))

	for id, t := range c.pending {
		if t.Status == models.TriggerPending && !t.NextAttempt.After(now) {
			due = append(due, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range due {
		c.attemptTrigger(ctx, id)
	}
}

func (c *Connector) attemptTrigger(ctx context.Context, id string) {
	c.mu.RLock()
	trigger, ok := c.pending[id]
	c.mu.RUnlock()

	if !ok || trigger.Status != models.TriggerPending {
		return
	}

	call, err := c.ExecuteContractFunction(ctx, trigger.ContractAddress,
		trigger.FunctionName, trigger.Parameters, &models.TxOptions{
			WalletID: trigger.WalletID,
			GasLimit: trigger.GasEstimate,
		})

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		trigger.Error = err.Error()
		trigger.RetryCount++

		if trigger.RetryCount > maxTriggerRetries {
			trigger.Status = models.TriggerFailed
			delete(c.pending, id)

			log.Printf("Trigger %s failed permanently after %d attempts: %v", id, trigger.RetryCount, err)

			c.emitError("trigger_failed", err.Error(), map[string]interface{}{
				"trigger_id": id,
				"contract":   trigger.ContractAddress,
				"function":   trigger.FunctionName,
			})

			return
		}

		// Linear backoff: 30s, 60s, 90s.
		trigger.NextAttempt = c.nowFn().Add(retryBaseDelay * time.Duration(trigger.RetryCount))

		log.Printf("Trigger %s attempt %d failed, retrying at %s: %v",
			id, trigger.RetryCount, trigger.NextAttempt.Format(time.RFC3339), err)

		return
	}

	trigger.Status = models.TriggerSubmitted
	trigger.TxHash = call.TxHash
	trigger.WalletID = call.WalletID
	trigger.Error = ""
}

// reconcileReceipts resolves submitted triggers on the given network
// against their transaction receipts. Confirmed triggers leave the
// pending set with a confirmation event; reverted transactions are
// requeued through the retry path.
func (c *Connector) reconcileReceipts(ctx context.Context, networkID string) {
	c.mu.RLock()
	net, ok := c.networks[networkID]

	submitted := make([]*models.ContractTrigger, 0, len(c.pending))

	for _, t := range c.pending {
		if t.Status != models.TriggerSubmitted || t.TxHash == "" {
			continue
		}

		if contract, bound := c.contracts[strings.ToLower(t.ContractAddress)]; bound && contract.networkID == networkID {
			submitted = append(submitted, t)
		}
	}
	c.mu.RUnlock()

	if !ok {
		return
	}

	for _, trigger := range submitted {
		receipt, err := net.backend.TransactionReceipt(ctx, common.HexToHash(trigger.TxHash))
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				c.recordFailure()
			}

			continue
		}

		c.resolveReceipt(trigger, receipt)
	}
}

func (c *Connector) resolveReceipt(trigger *models.ContractTrigger, receipt *types.Receipt) {
	c.mu.Lock()

	if receipt.Status == types.ReceiptStatusSuccessful {
		trigger.Status = models.TriggerConfirmed
		trigger.BlockNumber = receipt.BlockNumber.Uint64()
		delete(c.pending, trigger.ID)

		confirmed := *trigger
		c.mu.Unlock()

		log.Printf("Trigger %s confirmed in block %d (tx %s)",
			trigger.ID, confirmed.BlockNumber, confirmed.TxHash)

		c.emit(models.TriggerConfirmedEvent{Trigger: confirmed})

		return
	}

	// Reverted on-chain. Retry with a fresh transaction.
	trigger.RetryCount++
	trigger.TxHash = ""

	if trigger.RetryCount > maxTriggerRetries {
		trigger.Status = models.TriggerFailed
		delete(c.pending, trigger.ID)
		c.mu.Unlock()

		c.emitError("trigger_reverted", "transaction reverted and retries exhausted",
			map[string]interface{}{
				"trigger_id": trigger.ID,
				"contract":   trigger.ContractAddress,
			})

		return
	}

	trigger.Status = models.TriggerPending
	trigger.NextAttempt = c.nowFn().Add(retryBaseDelay * time.Duration(trigger.RetryCount))
	c.mu.Unlock()
}
