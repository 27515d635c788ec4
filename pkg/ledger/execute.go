package ledger

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/sensorgrid/pipeline/pkg/models"
)

const defaultGasLimit = 300000

// ExecuteContractFunction signs and submits one state-changing contract
// call and returns the audit record. The wallet nonce is reserved before
// submission, so concurrent executions from the same wallet never
// collide; a submission failure releases the reservation, or reseeds the
// counter from the chain's pending nonce when a later reservation has
// already been handed out.
func (c *Connector) ExecuteContractFunction(ctx context.Context, address, function string,
	params []interface{}, opts *models.TxOptions) (*models.ContractCall, error) {
	contract, ok := c.contractAt(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, address)
	}

	c.mu.RLock()
	net, ok := c.networks[contract.networkID]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNetworkConnection, contract.networkID)
	}

	method, ok := contract.abi.Methods[function]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no function %s", ErrContractExecution, address, function)
	}

	if opts == nil {
		opts = &models.TxOptions{}
	}

	w, err := c.walletFor(opts.WalletID, contract.networkID)
	if err != nil {
		return nil, err
	}

	coerced, err := coerceParams(method, params)
	if err != nil {
		return nil, err
	}

	input, err := contract.abi.Pack(function, coerced...)
	if err != nil {
		return nil, fmt.Errorf("%w: packing %s: %w", ErrContractExecution, function, err)
	}

	gasPrice := big.NewInt(opts.GasPrice)
	if opts.GasPrice <= 0 {
		gasPrice, err = net.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: gas price: %w", ErrContractExecution, err)
		}
	}

	gasLimit := opts.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}

	nonce := w.reserveNonce()

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract.address,
		Value:    big.NewInt(opts.Value),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(net.chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("%w: signing: %w", ErrContractExecution, err)
	}

	if err := net.backend.SendTransaction(ctx, signed); err != nil {
		c.recordFailure()

		if !w.releaseNonce(nonce) {
			if pending, nerr := net.backend.PendingNonceAt(ctx, w.address); nerr == nil {
				w.seedNonce(pending)
			} else {
				log.Printf("Wallet %s: nonce reseed after failed submission: %v", w.id, nerr)
			}
		}

		return nil, fmt.Errorf("%w: %s.%s: %w", ErrContractExecution, address, function, err)
	}

	call := &models.ContractCall{
		ID:              uuid.New().String(),
		ContractAddress: address,
		FunctionName:    function,
		Parameters:      params,
		WalletID:        w.id,
		Nonce:           nonce,
		TxHash:          signed.Hash().Hex(),
		SubmittedAt:     c.nowFn(),
	}

	c.mu.Lock()
	c.calls[call.ID] = call
	c.mu.Unlock()

	log.Printf("Submitted %s.%s tx %s (nonce %d, wallet %s)",
		address, function, call.TxHash, nonce, w.id)

	return call, nil
}

// ReadContractFunction performs a read-only contract call and returns
// the unpacked outputs.
func (c *Connector) ReadContractFunction(ctx context.Context, address, function string,
	params []interface{}) ([]interface{}, error) {
	contract, ok := c.contractAt(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, address)
	}

	c.mu.RLock()
	net, ok := c.networks[contract.networkID]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNetworkConnection, contract.networkID)
	}

	method, ok := contract.abi.Methods[function]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no function %s", ErrContractRead, address, function)
	}

	coerced, err := coerceParams(method, params)
	if err != nil {
		return nil, err
	}

	input, err := contract.abi.Pack(function, coerced...)
	if err != nil {
		return nil, fmt.Errorf("%w: packing %s: %w", ErrContractRead, function, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	output, err := net.backend.CallContract(callCtx, ethereum.CallMsg{
		To:   &contract.address,
		Data: input,
	}, nil)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrContractRead, address, function, err)
	}

	results, err := contract.abi.Unpack(function, output)
	if err != nil {
		return nil, fmt.Errorf("%w: unpacking %s: %w", ErrContractRead, function, err)
	}

	return results, nil
}
