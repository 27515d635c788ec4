package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/jsonpath"
	"github.com/sensorgrid/pipeline/pkg/models"
)

const eventPlaceholderPrefix = "$event."

// watchContractLogs subscribes to the contract's log stream and routes
// decoded events through the configured handlers. A failed subscription
// is reported and the contract stays bound for calls and triggers.
func (c *Connector) watchContractLogs(ctx context.Context, contract *boundContract, net *network) {
	logCh := make(chan types.Log, 64)

	sub, err := net.backend.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{contract.address},
	}, logCh)
	if err != nil {
		c.emitError("log_subscription_error", err.Error(), map[string]interface{}{
			"contract": contract.cfg.Address,
			"network":  contract.networkID,
		})

		return
	}

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		defer sub.Unsubscribe()

		for {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					c.emitError("log_subscription_error", err.Error(), map[string]interface{}{
						"contract": contract.cfg.Address,
					})
				}

				return
			case entry := <-logCh:
				c.handleLog(ctx, contract, entry)
			}
		}
	}()
}

// handleLog decodes one raw log against the contract ABI, emits the
// normalized record, and runs any handlers configured for that event
// name.
func (c *Connector) handleLog(ctx context.Context, contract *boundContract, entry types.Log) {
	if len(entry.Topics) == 0 {
		return
	}

	event, err := contract.abi.EventByID(entry.Topics[0])
	if err != nil {
		// Not an event this ABI describes.
		return
	}

	args := make(map[string]interface{})

	if err := contract.abi.UnpackIntoMap(args, event.Name, entry.Data); err != nil {
		c.emitError("event_decode_error", err.Error(), map[string]interface{}{
			"contract": contract.cfg.Address,
			"event":    event.Name,
		})

		return
	}

	indexed := make([]abi.Argument, 0, len(event.Inputs))

	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, entry.Topics[1:]); err != nil {
			c.emitError("event_decode_error", err.Error(), map[string]interface{}{
				"contract": contract.cfg.Address,
				"event":    event.Name,
			})

			return
		}
	}

	record := models.ContractLogRecord{
		ContractAddress: contract.cfg.Address,
		EventName:       event.Name,
		BlockNumber:     entry.BlockNumber,
		TxHash:          entry.TxHash.Hex(),
		Args:            normalizeArgs(args),
		ReceivedAt:      c.nowFn(),
	}

	c.emit(models.ContractLogEvent{Record: record})

	for _, eventCfg := range contract.cfg.Events {
		if eventCfg.Name != event.Name {
			continue
		}

		for i := range eventCfg.Handlers {
			c.runHandler(ctx, eventCfg.Handlers[i], record)
		}
	}
}

func (c *Connector) runHandler(ctx context.Context, handler config.EventHandler, record models.ContractLogRecord) {
	switch handler.Type {
	case "webhook":
		c.emit(models.WebhookRequestEvent{
			EventType: "contract_event",
			Data: map[string]interface{}{
				"contract_address": record.ContractAddress,
				"event_name":       record.EventName,
				"block_number":     record.BlockNumber,
				"tx_hash":          record.TxHash,
				"args":             record.Args,
			},
			Timestamp: record.ReceivedAt,
		})
	case "contract_call":
		params, err := substituteParams(handler.Parameters, record)
		if err != nil {
			c.emitError("handler_substitution_error", err.Error(), map[string]interface{}{
				"event":    record.EventName,
				"contract": handler.ContractAddress,
			})

			return
		}

		err = c.QueueContractCall(ctx, &models.ContractTrigger{
			ContractAddress: handler.ContractAddress,
			FunctionName:    handler.FunctionName,
			Parameters:      params,
		})
		if err != nil {
			c.emitError("handler_trigger_error", err.Error(), map[string]interface{}{
				"event":    record.EventName,
				"contract": handler.ContractAddress,
			})
		}
	default:
		log.Printf("Ignoring unknown handler type %q for event %s", handler.Type, record.EventName)
	}
}

// substituteParams replaces "$event.<path>" string parameters with the
// value at that dotted path in the decoded event, where "args.<name>"
// reaches the event arguments.
func substituteParams(params []interface{}, record models.ContractLogRecord) ([]interface{}, error) {
	if len(params) == 0 {
		return nil, nil
	}

	doc := map[string]interface{}{
		"contract_address": record.ContractAddress,
		"event_name":       record.EventName,
		"block_number":     record.BlockNumber,
		"tx_hash":          record.TxHash,
		"args":             record.Args,
	}

	out := make([]interface{}, len(params))

	for i, p := range params {
		s, ok := p.(string)
		if !ok || !strings.HasPrefix(s, eventPlaceholderPrefix) {
			out[i] = p
			continue
		}

		path := strings.TrimPrefix(s, eventPlaceholderPrefix)

		value, err := jsonpath.Lookup(doc, path)
		if err != nil {
			return nil, fmt.Errorf("placeholder %q: %w", s, err)
		}

		out[i] = value
	}

	return out, nil
}

// normalizeArgs flattens go-ethereum's decoded types into plain values
// the rest of the pipeline (and JSON) can carry.
func normalizeArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))

	for name, value := range args {
		out[name] = normalizeArg(value)
	}

	return out
}

func normalizeArg(value interface{}) interface{} {
	switch v := value.(type) {
	case fmt.Stringer:
		// common.Address, common.Hash, *big.Int all stringify cleanly.
		return v.String()
	case []byte:
		return fmt.Sprintf("0x%x", v)
	default:
		return value
	}
}
