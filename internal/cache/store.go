// Package cache provides transform cache backends. A cache entry is an
// encoded transform result keyed by the digest of everything that can change
// it, so entries never need invalidation beyond their TTL.
package cache

import (
	"context"
)

// Store is the interface for transform cache backends. It supports:
// - memory: per-process cache, useful for watch-style repeated builds
// - redis: shared cache for CI runners and teams building the same tree
type Store interface {
	// Get returns the entry for key, or nil data when there is none
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores an entry for the configured TTL
	Set(ctx context.Context, key string, value []byte) error

	// Close releases the backend's resources
	Close() error
}
