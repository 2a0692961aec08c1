package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/sumcache/internal/domain/model"
)

const (
	// entryCacheKeyPrefix is the prefix for cache entry keys in Redis.
	// The suffix is the entry's own cache key.
	entryCacheKeyPrefix = "entry:"
)

// entryJSON is the JSON representation of a CacheEntry for caching.
// Using explicit struct avoids coupling to domain model's JSON tags.
type entryJSON struct {
	CacheKey       string `json:"cache_key"`
	SourceType     string `json:"source_type"`
	SourceRef      string `json:"source_ref"`
	SourceName     string `json:"source_name"`
	Status         string `json:"status"`
	ProfileVersion string `json:"profile_version"`
	SummaryText    string `json:"summary_text"`
	BundlePath     string `json:"bundle_path"`
	Error          string `json:"error"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	LastAccessed   string `json:"last_accessed,omitempty"`
}

// RedisEntryCache implements EntryCache using Redis as the backing store.
type RedisEntryCache struct {
	client *redis.Client
}

// NewRedisEntryCache creates a new Redis-backed entry cache.
func NewRedisEntryCache(client *redis.Client) *RedisEntryCache {
	return &RedisEntryCache{
		client: client,
	}
}

// Get retrieves an entry from Redis cache.
// Returns nil, nil on cache miss.
func (c *RedisEntryCache) Get(ctx context.Context, cacheKey string) (*model.CacheEntry, error) {
	key := c.buildKey(cacheKey)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	entry, err := c.deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize entry: %w", err)
	}

	return entry, nil
}

// Set stores an entry in Redis cache with the specified TTL.
func (c *RedisEntryCache) Set(ctx context.Context, entry *model.CacheEntry, ttl time.Duration) error {
	key := c.buildKey(entry.CacheKey)

	data, err := c.serialize(entry)
	if err != nil {
		return fmt.Errorf("serialize entry: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes an entry from Redis cache.
func (c *RedisEntryCache) Delete(ctx context.Context, cacheKey string) error {
	key := c.buildKey(cacheKey)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// buildKey constructs the Redis key for a cache entry.
func (c *RedisEntryCache) buildKey(cacheKey string) string {
	return entryCacheKeyPrefix + cacheKey
}

// serialize converts a CacheEntry to JSON bytes.
func (c *RedisEntryCache) serialize(entry *model.CacheEntry) ([]byte, error) {
	e := entryJSON{
		CacheKey:       entry.CacheKey,
		SourceType:     string(entry.SourceType),
		SourceRef:      entry.SourceRef,
		SourceName:     entry.SourceName,
		Status:         string(entry.Status),
		ProfileVersion: entry.ProfileVersion,
		SummaryText:    entry.SummaryText,
		BundlePath:     entry.BundlePath,
		Error:          entry.Error,
		CreatedAt:      entry.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:      entry.UpdatedAt.Format(time.RFC3339Nano),
	}
	if entry.LastAccessed != nil {
		e.LastAccessed = entry.LastAccessed.Format(time.RFC3339Nano)
	}
	return json.Marshal(e)
}

// deserialize converts JSON bytes to a CacheEntry.
func (c *RedisEntryCache) deserialize(data []byte) (*model.CacheEntry, error) {
	var e entryJSON
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(time.RFC3339Nano, e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	entry := &model.CacheEntry{
		CacheKey:       e.CacheKey,
		SourceType:     model.SourceType(e.SourceType),
		SourceRef:      e.SourceRef,
		SourceName:     e.SourceName,
		Status:         model.Status(e.Status),
		ProfileVersion: e.ProfileVersion,
		SummaryText:    e.SummaryText,
		BundlePath:     e.BundlePath,
		Error:          e.Error,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}

	if e.LastAccessed != "" {
		lastAccessed, err := time.Parse(time.RFC3339Nano, e.LastAccessed)
		if err != nil {
			return nil, fmt.Errorf("parse last_accessed: %w", err)
		}
		entry.LastAccessed = &lastAccessed
	}

	return entry, nil
}

// Compile-time verification that RedisEntryCache implements EntryCache.
var _ EntryCache = (*RedisEntryCache)(nil)
