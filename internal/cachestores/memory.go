package cachestores

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/systmms/kvref/pkg/cachestore"
)

// DefaultCleanupInterval is how often the memory store purges expired items.
const DefaultCleanupInterval = 10 * time.Minute

// MemoryStore is a process-local store backed by go-cache. It is the default
// second tier when no shared store is configured.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &MemoryStore{cache: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, cachestore.ErrNotFound
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Flush removes every entry.
func (m *MemoryStore) Flush() {
	m.cache.Flush()
}

// Len returns the number of stored entries, including expired ones not yet
// purged.
func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ cachestore.Store = (*MemoryStore)(nil)
