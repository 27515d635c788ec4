package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
)

// DialBackend is the production BackendDialer over go-ethereum's RPC
// client. Subscriptions require a websocket RPC URL; over plain HTTP the
// connector falls back to receipt polling.
func DialBackend(ctx context.Context, rpcURL string) (ChainBackend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}

	return client, nil
}
