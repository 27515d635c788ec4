package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/models"
)

// Hardhat's published first development account; never holds real funds.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testContractAddr = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

const testABI = `[
  {"name":"setValue","type":"function","inputs":[{"name":"v","type":"uint256"}],"outputs":[]},
  {"name":"get","type":"function","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"record","type":"function","inputs":[{"name":"source","type":"string"},{"name":"v","type":"uint256"}],"outputs":[]}
]`

type fakeSubscription struct {
	errCh chan error
}

func (s *fakeSubscription) Unsubscribe()      {}
func (s *fakeSubscription) Err() <-chan error { return s.errCh }

type fakeBackend struct {
	mu          sync.Mutex
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	nonce       uint64
	sendErr     error
	callResult  []byte
	callErr     error
	noSubscribe bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		receipts:    map[common.Hash]*types.Receipt{},
		noSubscribe: true,
	}
}

func (b *fakeBackend) ChainID(_ context.Context) (*big.Int, error) {
	return big.NewInt(31337), nil
}

func (b *fakeBackend) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1000000000), nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sendErr != nil {
		return b.sendErr
	}

	b.sent = append(b.sent, tx)

	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return receipt, nil
}

func (b *fakeBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return b.callResult, b.callErr
}

func (b *fakeBackend) SubscribeNewHead(_ context.Context, _ chan<- *types.Header) (ethereum.Subscription, error) {
	if b.noSubscribe {
		return nil, errors.New("notifications not supported")
	}

	return &fakeSubscription{errCh: make(chan error, 1)}, nil
}

func (b *fakeBackend) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, _ chan<- types.Log) (ethereum.Subscription, error) {
	if b.noSubscribe {
		return nil, errors.New("notifications not supported")
	}

	return &fakeSubscription{errCh: make(chan error, 1)}, nil
}

func (b *fakeBackend) Close() {}

func (b *fakeBackend) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.sent)
}

func (b *fakeBackend) sentNonces() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	nonces := make([]uint64, 0, len(b.sent))
	for _, tx := range b.sent {
		nonces = append(nonces, tx.Nonce())
	}

	return nonces
}

func (b *fakeBackend) confirm(txHash common.Hash, status uint64, block int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.receipts[txHash] = &types.Receipt{
		Status:      status,
		TxHash:      txHash,
		BlockNumber: big.NewInt(block),
	}
}

// newTestConnector wires a connector to a fake backend without starting
// the background loops, so ticks can be driven by hand.
func newTestConnector(t *testing.T, backend *fakeBackend) *Connector {
	t.Helper()

	c := NewConnector(
		[]config.NetworkConfig{{ID: "localnet", RPCURL: "ws://localhost:8545", ChainID: 31337}},
		[]config.WalletConfig{{ID: "ops", NetworkID: "localnet", PrivateKey: testPrivateKey}},
		[]config.ContractConfig{{Address: testContractAddr, NetworkID: "localnet", ABI: testABI}},
		func(_ context.Context, _ string) (ChainBackend, error) { return backend, nil },
	)

	ctx := context.Background()

	require.NoError(t, c.connectNetwork(ctx, c.networkCfgs[0]))
	require.NoError(t, c.initWallet(ctx, c.walletCfgs[0]))
	require.NoError(t, c.bindContract(ctx, c.contractCfgs[0]))

	return c
}

func TestExecuteContractFunctionNonceSequence(t *testing.T) {
	backend := newFakeBackend()
	backend.nonce = 7

	c := newTestConnector(t, backend)

	const calls = 20

	var wg sync.WaitGroup

	for i := 0; i < calls; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := c.ExecuteContractFunction(context.Background(),
				testContractAddr, "setValue", []interface{}{float64(42)}, nil)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	nonces := backend.sentNonces()
	require.Len(t, nonces, calls)

	seen := make(map[uint64]bool, calls)
	for _, n := range nonces {
		assert.False(t, seen[n], "nonce %d reused", n)
		assert.GreaterOrEqual(t, n, uint64(7))
		assert.Less(t, n, uint64(7+calls))

		seen[n] = true
	}
}

func TestExecuteContractFunctionErrors(t *testing.T) {
	backend := newFakeBackend()
	c := newTestConnector(t, backend)

	_, err := c.ExecuteContractFunction(context.Background(),
		"0x0000000000000000000000000000000000000001", "setValue", []interface{}{float64(1)}, nil)
	assert.ErrorIs(t, err, ErrUnknownContract)

	_, err = c.ExecuteContractFunction(context.Background(),
		testContractAddr, "nope", nil, nil)
	assert.ErrorIs(t, err, ErrContractExecution)

	_, err = c.ExecuteContractFunction(context.Background(),
		testContractAddr, "setValue", []interface{}{float64(1), float64(2)}, nil)
	assert.ErrorIs(t, err, ErrBadParameter)

	backend.sendErr = errors.New("insufficient funds")

	_, err = c.ExecuteContractFunction(context.Background(),
		testContractAddr, "setValue", []interface{}{float64(1)}, nil)
	assert.ErrorIs(t, err, ErrContractExecution)
}

func TestFailedSubmissionDoesNotBurnNonce(t *testing.T) {
	backend := newFakeBackend()
	backend.nonce = 7

	c := newTestConnector(t, backend)

	backend.sendErr = errors.New("rpc unavailable")

	_, err := c.ExecuteContractFunction(context.Background(),
		testContractAddr, "setValue", []interface{}{float64(1)}, nil)
	require.ErrorIs(t, err, ErrContractExecution)

	// The reservation was released: the next submission reuses nonce 7
	// instead of leaving a gap the chain would never mine past.
	backend.sendErr = nil

	call, err := c.ExecuteContractFunction(context.Background(),
		testContractAddr, "setValue", []interface{}{float64(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), call.Nonce)
	assert.Equal(t, []uint64{7}, backend.sentNonces())
}

func TestReadContractFunction(t *testing.T) {
	backend := newFakeBackend()
	// abi-encoded uint256(1234)
	backend.callResult = common.LeftPadBytes(big.NewInt(1234).Bytes(), 32)

	c := newTestConnector(t, backend)

	results, err := c.ReadContractFunction(context.Background(), testContractAddr, "get", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	value, ok := results[0].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, int64(1234), value.Int64())
}

func TestTriggerConfirmationFlow(t *testing.T) {
	backend := newFakeBackend()
	c := newTestConnector(t, backend)

	now := time.Now()
	c.nowFn = func() time.Time { return now }

	trigger := &models.ContractTrigger{
		ContractAddress: testContractAddr,
		FunctionName:    "setValue",
		Parameters:      []interface{}{float64(99)},
	}

	require.NoError(t, c.QueueContractCall(context.Background(), trigger))
	require.Equal(t, 1, backend.sentCount())
	assert.Equal(t, models.TriggerSubmitted, trigger.Status)
	assert.NotEmpty(t, trigger.TxHash)

	// No receipt yet: trigger stays pending-submitted.
	c.reconcileReceipts(context.Background(), "localnet")
	assert.Len(t, c.PendingTriggers(), 1)

	backend.confirm(common.HexToHash(trigger.TxHash), types.ReceiptStatusSuccessful, 12)

	c.reconcileReceipts(context.Background(), "localnet")
	assert.Empty(t, c.PendingTriggers())

	select {
	case event := <-c.Events():
		confirmed, ok := event.(models.TriggerConfirmedEvent)
		require.True(t, ok, "expected confirmation, got %T", event)
		assert.Equal(t, models.TriggerConfirmed, confirmed.Trigger.Status)
		assert.Equal(t, uint64(12), confirmed.Trigger.BlockNumber)
	default:
		t.Fatal("expected a confirmation event")
	}
}

func TestTriggerRetrySchedule(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("rpc unavailable")

	c := newTestConnector(t, backend)

	now := time.Now()
	c.nowFn = func() time.Time { return now }

	trigger := &models.ContractTrigger{
		ContractAddress: testContractAddr,
		FunctionName:    "setValue",
		Parameters:      []interface{}{float64(1)},
	}

	require.NoError(t, c.QueueContractCall(context.Background(), trigger))
	assert.Equal(t, 1, trigger.RetryCount)
	assert.Equal(t, now.Add(30*time.Second), trigger.NextAttempt)

	// Not yet due: the tick must not attempt it.
	c.processTriggerTick(context.Background())
	assert.Equal(t, 1, trigger.RetryCount)

	// Second attempt at +30s, third at +90s, exhausted at +180s.
	now = now.Add(31 * time.Second)
	c.processTriggerTick(context.Background())
	assert.Equal(t, 2, trigger.RetryCount)

	now = now.Add(61 * time.Second)
	c.processTriggerTick(context.Background())
	assert.Equal(t, 3, trigger.RetryCount)

	now = now.Add(91 * time.Second)
	c.processTriggerTick(context.Background())

	assert.Equal(t, models.TriggerFailed, trigger.Status)
	assert.Empty(t, c.PendingTriggers())

	var sawFailure bool

	for len(c.events) > 0 {
		if errEvent, ok := (<-c.events).(models.ErrorEvent); ok && errEvent.Code == "trigger_failed" {
			sawFailure = true
		}
	}

	assert.True(t, sawFailure, "expected a trigger_failed error event")
}

func TestRevertedReceiptRequeues(t *testing.T) {
	backend := newFakeBackend()
	c := newTestConnector(t, backend)

	now := time.Now()
	c.nowFn = func() time.Time { return now }

	trigger := &models.ContractTrigger{
		ContractAddress: testContractAddr,
		FunctionName:    "setValue",
		Parameters:      []interface{}{float64(1)},
	}

	require.NoError(t, c.QueueContractCall(context.Background(), trigger))
	require.Equal(t, models.TriggerSubmitted, trigger.Status)

	backend.confirm(common.HexToHash(trigger.TxHash), types.ReceiptStatusFailed, 15)
	c.reconcileReceipts(context.Background(), "localnet")

	assert.Equal(t, models.TriggerPending, trigger.Status)
	assert.Equal(t, 1, trigger.RetryCount)
	assert.Empty(t, trigger.TxHash)
	assert.Equal(t, now.Add(30*time.Second), trigger.NextAttempt)
}

func TestStartIsolatesNetworkFailures(t *testing.T) {
	backend := newFakeBackend()

	c := NewConnector(
		[]config.NetworkConfig{
			{ID: "deadnet", RPCURL: "ws://nowhere:1", ChainID: 1},
			{ID: "localnet", RPCURL: "ws://localhost:8545", ChainID: 31337},
		},
		[]config.WalletConfig{{ID: "ops", NetworkID: "localnet", PrivateKey: testPrivateKey}},
		nil,
		func(_ context.Context, url string) (ChainBackend, error) {
			if url == "ws://nowhere:1" {
				return nil, errors.New("connection refused")
			}

			return backend, nil
		},
	)

	require.NoError(t, c.Start(context.Background()))

	defer func() { _ = c.Stop() }()

	c.mu.RLock()
	_, deadOK := c.networks["deadnet"]
	_, liveOK := c.networks["localnet"]
	c.mu.RUnlock()

	assert.False(t, deadOK)
	assert.True(t, liveOK)

	health := c.GetHealth()
	assert.Equal(t, models.Healthy, health.Status)

	select {
	case event := <-c.Events():
		errEvent, ok := event.(models.ErrorEvent)
		require.True(t, ok)
		assert.Equal(t, "network_connection_error", errEvent.Code)
	default:
		t.Fatal("expected an error event for the failed network")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	backend := newFakeBackend()

	c := NewConnector(nil, nil, nil,
		func(_ context.Context, _ string) (ChainBackend, error) { return backend, nil })

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
}
