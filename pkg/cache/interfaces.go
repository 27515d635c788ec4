package cache

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mock_cache.go -package=cache github.com/sensorgrid/pipeline/pkg/cache Cache

// Cache is the single shared mutable store across pipeline components.
// Every key embeds its owning domain prefix and carries a TTL; nothing
// written through this interface grows without bound.
type Cache interface {
	// Set stores a JSON-serializable value under key with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Get unmarshals the value at key into dst. Returns ErrNotFound
	// for missing or expired keys.
	Get(ctx context.Context, key string, dst interface{}) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close() error
}
