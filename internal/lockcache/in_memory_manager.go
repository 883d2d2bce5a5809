package lockcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/paracycle/internal/log"
)

// DefaultExpiration is used when a caller does not supply its own TTL.
const DefaultExpiration = 5 * time.Minute

// DefaultCleanupInterval controls how often the underlying cache sweeps
// expired entries out of its internal map.
const DefaultCleanupInterval = 1 * time.Minute

// InMemoryManager is the concrete, process-local implementation of
// Manager, backed by patrickmn/go-cache.
type InMemoryManager[K ~string, V any] struct {
	useCase string
	cache   *gocache.Cache
}

// NewInMemoryManager constructs a manager with the given default
// expiration and cleanup interval.
func NewInMemoryManager[K ~string, V any](useCase string, defaultExpiration, cleanupInterval time.Duration) *InMemoryManager[K, V] {
	return &InMemoryManager[K, V]{
		useCase: useCase,
		cache:   gocache.New(defaultExpiration, cleanupInterval),
	}
}

// Get retrieves an item from the cache by its key.
func (c *InMemoryManager[K, V]) Get(ctx context.Context, key K) (V, bool) {
	var zero V

	value, found := c.cache.Get(string(key))
	if !found {
		return zero, false
	}

	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "wrong type assertion when getting value", "key", key, "use_case", c.useCase)
		return zero, false
	}

	return v, true
}

// GetMultiple retrieves a batch of items, returning only the keys found.
func (c *InMemoryManager[K, V]) GetMultiple(ctx context.Context, keys []K) (map[K]V, bool) {
	if len(keys) == 0 {
		return nil, false
	}

	values := make(map[K]V, len(keys))
	anyFound := false
	for _, key := range keys {
		if v, ok := c.Get(ctx, key); ok {
			values[key] = v
			anyFound = true
		}
	}

	if !anyFound {
		return nil, false
	}
	return values, true
}

// GetWithRefresh retrieves an item and, if found, extends its TTL by
// writing it back with the supplied ttl.
func (c *InMemoryManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	value, found := c.Get(ctx, key)
	if !found {
		return value, found
	}
	c.Set(ctx, key, value, ttl)
	return value, found
}

// Set stores a value under key with the given TTL. A ttl of
// gocache.NoExpiration disables expiry for that entry.
func (c *InMemoryManager[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
}

// Delete removes one or more keys from the cache.
func (c *InMemoryManager[K, V]) Delete(ctx context.Context, keys ...K) error {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
	return nil
}

// Flush removes every entry from the cache.
func (c *InMemoryManager[K, V]) Flush(ctx context.Context) error {
	c.cache.Flush()
	return nil
}

// Items returns a snapshot of every live key/value pair.
func (c *InMemoryManager[K, V]) Items(ctx context.Context) map[K]V {
	items := c.cache.Items()
	out := make(map[K]V, len(items))
	for k, item := range items {
		v, ok := item.Object.(V)
		if !ok {
			continue
		}
		out[K(k)] = v
	}
	return out
}
