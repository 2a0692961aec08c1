package cache

import (
	"context"
	"time"

	"github.com/hszk-dev/sumcache/internal/domain/model"
)

// EntryCache defines the interface for the read-through cache entry layer.
// Implementations should handle serialization/deserialization transparently.
type EntryCache interface {
	// Get retrieves an entry from cache by cache key.
	// Returns nil, nil if the entry is not cached (cache miss).
	Get(ctx context.Context, cacheKey string) (*model.CacheEntry, error)

	// Set stores an entry in cache with the specified TTL.
	Set(ctx context.Context, entry *model.CacheEntry, ttl time.Duration) error

	// Delete removes an entry from cache by cache key.
	// Returns nil if the entry was not cached.
	Delete(ctx context.Context, cacheKey string) error
}
