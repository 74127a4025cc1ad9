// Package cache provides a small byte-oriented cache used for sync
// summaries and health overview snapshots. Backends: Redis and an
// in-process memory cache for tests and single-node deployments.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL'd key/value byte cache.
type Cache interface {
	// Get returns the cached value and whether the key was present and
	// unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}
