// Package cachestore defines the shared key/value store used as the second
// cache tier of the vault client.
//
// Implementations live in internal/cachestores (memory, redis, postgres,
// mysql). A store must be safe for concurrent use. Values are opaque bytes;
// the vault client stores JSON encoded entity data in them.
package cachestore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("cache entry not found")

// Store is a TTL-bounded key/value store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl <= 0 stores the value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases connections held by the store.
	Close() error
}
