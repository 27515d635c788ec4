// Package ledger owns all blockchain network connections, signing
// identities, and contract interaction: transaction lifecycle, nonce
// sequencing, and conversion of contract events into pipeline events.
package ledger

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/models"
)

const (
	eventBufferSize = 256

	// Fallback receipt-reconciliation cadence when the RPC endpoint
	// does not support head subscriptions (plain HTTP).
	receiptPollInterval = 15 * time.Second

	triggerTickInterval = time.Second

	healthyFailureBudget = 10
)

type network struct {
	cfg     config.NetworkConfig
	backend ChainBackend
	chainID *big.Int
}

type boundContract struct {
	cfg       config.ContractConfig
	abi       abi.ABI
	address   common.Address
	networkID string
}

// Connector maintains one connection per network and one signer per
// wallet. All maps are fields of the instance, constructed at Start and
// torn down at Stop.
type Connector struct {
	networkCfgs  []config.NetworkConfig
	walletCfgs   []config.WalletConfig
	contractCfgs []config.ContractConfig
	dial         BackendDialer

	mu        sync.RWMutex
	running   bool
	networks  map[string]*network
	wallets   map[string]*wallet
	contracts map[string]*boundContract // keyed by lowercase address
	pending   map[string]*models.ContractTrigger
	calls     map[string]*models.ContractCall
	failCount uint64

	events chan models.Event
	done   chan struct{}
	wg     sync.WaitGroup
	nowFn  func() time.Time
}

// NewConnector creates a connector. Pass DialBackend for production use.
func NewConnector(networks []config.NetworkConfig, wallets []config.WalletConfig,
	contracts []config.ContractConfig, dial BackendDialer) *Connector {
	return &Connector{
		networkCfgs:  networks,
		walletCfgs:   wallets,
		contractCfgs: contracts,
		dial:         dial,
		networks:     make(map[string]*network),
		wallets:      make(map[string]*wallet),
		contracts:    make(map[string]*boundContract),
		pending:      make(map[string]*models.ContractTrigger),
		calls:        make(map[string]*models.ContractCall),
		events:       make(chan models.Event, eventBufferSize),
		nowFn:        time.Now,
	}
}

// Events exposes the connector's output channel for orchestrator fan-in.
func (c *Connector) Events() <-chan models.Event {
	return c.events
}

// Start connects networks, seeds wallet nonces, binds contracts, and
// registers subscriptions. Initialization failures are isolated
// per-item: one bad network does not prevent the others from coming up.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}

	c.running = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	for _, cfg := range c.networkCfgs {
		if err := c.connectNetwork(ctx, cfg); err != nil {
			c.emitError("network_connection_error", err.Error(), map[string]interface{}{
				"network": cfg.ID,
			})
		}
	}

	for _, cfg := range c.walletCfgs {
		if err := c.initWallet(ctx, cfg); err != nil {
			c.emitError("wallet_init_error", err.Error(), map[string]interface{}{
				"wallet": cfg.ID,
			})
		}
	}

	for _, cfg := range c.contractCfgs {
		if err := c.bindContract(ctx, cfg); err != nil {
			c.emitError("contract_init_error", err.Error(), map[string]interface{}{
				"contract": cfg.Address,
			})
		}
	}

	c.mu.RLock()
	for id, net := range c.networks {
		c.watchBlocks(ctx, id, net)
	}
	c.mu.RUnlock()

	c.wg.Add(1)

	go c.triggerLoop(ctx)

	log.Printf("Ledger connector started: %d/%d networks, %d wallets, %d contracts",
		len(c.networks), len(c.networkCfgs), len(c.wallets), len(c.contracts))

	return nil
}

// Stop closes all connections and cancels subscriptions and timers.
// Safe to call when not started.
func (c *Connector) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	c.running = false
	done := c.done
	c.mu.Unlock()

	close(done)
	c.wg.Wait()

	c.mu.Lock()
	for _, net := range c.networks {
		net.backend.Close()
	}

	c.networks = make(map[string]*network)
	c.wallets = make(map[string]*wallet)
	c.contracts = make(map[string]*boundContract)
	c.mu.Unlock()

	return nil
}

func (c *Connector) connectNetwork(ctx context.Context, cfg config.NetworkConfig) error {
	backend, err := c.dial(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNetworkConnection, cfg.ID, err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		// Fall back to the configured chain id; the connection itself
		// is already established.
		chainID = big.NewInt(cfg.ChainID)

		log.Printf("Network %s: chain id query failed (%v), using configured %d", cfg.ID, err, cfg.ChainID)
	}

	c.mu.Lock()
	c.networks[cfg.ID] = &network{cfg: cfg, backend: backend, chainID: chainID}
	c.mu.Unlock()

	return nil
}

func (c *Connector) initWallet(ctx context.Context, cfg config.WalletConfig) error {
	c.mu.RLock()
	net, ok := c.networks[cfg.NetworkID]
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("wallet %s references unavailable network %s", cfg.ID, cfg.NetworkID)
	}

	w, err := newWallet(cfg)
	if err != nil {
		return err
	}

	nonce, err := net.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return fmt.Errorf("failed to seed nonce for wallet %s: %w", cfg.ID, err)
	}

	w.seedNonce(nonce)

	c.mu.Lock()
	c.wallets[cfg.ID] = w
	c.mu.Unlock()

	return nil
}

func (c *Connector) bindContract(ctx context.Context, cfg config.ContractConfig) error {
	c.mu.RLock()
	net, ok := c.networks[cfg.NetworkID]
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("contract %s references unavailable network %s", cfg.Address, cfg.NetworkID)
	}

	parsed, err := abi.JSON(strings.NewReader(cfg.ABI))
	if err != nil {
		return fmt.Errorf("failed to parse ABI for %s: %w", cfg.Address, err)
	}

	contract := &boundContract{
		cfg:       cfg,
		abi:       parsed,
		address:   common.HexToAddress(cfg.Address),
		networkID: cfg.NetworkID,
	}

	c.mu.Lock()
	c.contracts[strings.ToLower(cfg.Address)] = contract
	c.mu.Unlock()

	if len(cfg.Events) > 0 {
		c.watchContractLogs(ctx, contract, net)
	}

	return nil
}

// watchBlocks drives pending-transaction reconciliation from new-head
// notifications, falling back to interval polling when the endpoint
// does not support subscriptions.
func (c *Connector) watchBlocks(ctx context.Context, networkID string, net *network) {
	headCh := make(chan *types.Header, 16)

	sub, err := net.backend.SubscribeNewHead(ctx, headCh)
	if err != nil {
		log.Printf("Network %s: head subscription unavailable (%v), polling receipts", networkID, err)

		c.wg.Add(1)

		go func() {
			defer c.wg.Done()

			ticker := time.NewTicker(receiptPollInterval)
			defer ticker.Stop()

			for {
				select {
				case <-c.done:
					return
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.reconcileReceipts(ctx, networkID)
				}
			}
		}()

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
					c.emitError("head_subscription_error", err.Error(), map[string]interface{}{
						"network": networkID,
					})
				}

				return
			case <-headCh:
				c.reconcileReceipts(ctx, networkID)
			}
		}
	}()
}

func (c *Connector) emit(event models.Event) {
	select {
	case c.events <- event:
	default:
		log.Printf("Ledger event channel full, dropping %s event", models.Type(event))
	}
}

func (c *Connector) emitError(code, message string, details map[string]interface{}) {
	c.emit(models.ErrorEvent{
		Code:      code,
		Message:   message,
		Source:    "ledger_connector",
		Timestamp: c.nowFn(),
		Details:   details,
	})
}

func (c *Connector) recordFailure() {
	c.mu.Lock()
	c.failCount++
	c.mu.Unlock()
}

func (c *Connector) contractAt(address string) (*boundContract, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	contract, ok := c.contracts[strings.ToLower(address)]

	return contract, ok
}

// walletFor resolves an explicit wallet id, or the first wallet bound
// to the contract's network.
func (c *Connector) walletFor(walletID, networkID string) (*wallet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if walletID != "" {
		w, ok := c.wallets[walletID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, walletID)
		}

		return w, nil
	}

	for _, cfg := range c.walletCfgs {
		if w, ok := c.wallets[cfg.ID]; ok && w.networkID == networkID {
			return w, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoWalletForNetwork, networkID)
}

// PendingTriggers snapshots the unresolved trigger set.
func (c *Connector) PendingTriggers() []models.ContractTrigger {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.ContractTrigger, 0, len(c.pending))
	for _, t := range c.pending {
		out = append(out, *t)
	}

	return out
}

// GetHealth reports unhealthy when no usable networks remain, degraded
// over the failure budget, healthy otherwise.
func (c *Connector) GetHealth() models.ComponentHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := models.Healthy

	switch {
	case !c.running || len(c.networks) == 0 && len(c.networkCfgs) > 0:
		status = models.Unhealthy
	case c.failCount >= healthyFailureBudget:
		status = models.Degraded
	}

	return models.ComponentHealth{
		Status:    status,
		Timestamp: c.nowFn(),
		Details: map[string]interface{}{
			"running":          c.running,
			"networks":         len(c.networks),
			"wallets":          len(c.wallets),
			"contracts":        len(c.contracts),
			"pending_triggers": len(c.pending),
			"failures":         c.failCount,
		},
	}
}
