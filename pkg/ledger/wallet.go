package ledger

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sensorgrid/pipeline/pkg/config"
)

// wallet is one signing identity. The nonce counter is seeded from the
// chain's pending account nonce at startup and only ever advances under
// the wallet's own mutex: no two in-flight transactions from the same
// wallet can share a nonce.
type wallet struct {
	id        string
	networkID string
	key       *ecdsa.PrivateKey
	address   common.Address

	mu        sync.Mutex
	nextNonce uint64
}

func newWallet(cfg config.WalletConfig) (*wallet, error) {
	keyHex := strings.TrimPrefix(cfg.PrivateKey, "0x")

	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet %s: %w", ErrBadPrivateKey, cfg.ID, err)
	}

	return &wallet{
		id:        cfg.ID,
		networkID: cfg.NetworkID,
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// reserveNonce atomically reads and increments the tracked nonce. The
// increment happens before submission so a concurrent caller observes
// the next value.
func (w *wallet) reserveNonce() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	nonce := w.nextNonce
	w.nextNonce++

	return nonce
}

// releaseNonce returns a reserved nonce that never reached the chain.
// It only succeeds while the reservation is still the newest one; once
// a later nonce has been handed out the counter cannot be rolled back
// locally and the caller must reseed from the chain instead.
func (w *wallet) releaseNonce(nonce uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.nextNonce != nonce+1 {
		return false
	}

	w.nextNonce = nonce

	return true
}

func (w *wallet) seedNonce(nonce uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextNonce = nonce
}
