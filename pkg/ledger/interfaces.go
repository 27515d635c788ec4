/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package ledger pkg/ledger/interfaces.go

package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

//go:generate mockgen -destination=mock_ledger.go -package=ledger github.com/sensorgrid/pipeline/pkg/ledger ChainBackend

// ChainBackend is the per-network RPC surface the connector depends on.
// *ethclient.Client satisfies it; tests substitute fakes.
type ChainBackend interface {
	// ChainID reports the network's chain identifier.
	ChainID(ctx context.Context) (*big.Int, error)
	// PendingNonceAt reports the account's next nonce including the
	// pending pool; used to seed the wallet nonce table.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	// SuggestGasPrice reports the current recommended gas price.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	// SendTransaction submits a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	// TransactionReceipt fetches the receipt for a mined transaction.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	// CallContract executes a read-only contract call.
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	// SubscribeNewHead subscribes to new-block notifications.
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	// SubscribeFilterLogs subscribes to contract log events.
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	// Close releases the connection.
	Close()
}

// BackendDialer establishes one ChainBackend per network.
type BackendDialer func(ctx context.Context, rpcURL string) (ChainBackend, error)
