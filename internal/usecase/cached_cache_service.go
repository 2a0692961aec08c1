package usecase

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/sumcache/internal/cachekey"
	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
	"github.com/hszk-dev/sumcache/internal/infrastructure/cache"
	"github.com/hszk-dev/sumcache/internal/infrastructure/metrics"
)

// CachedCacheServiceConfig holds configuration for the entry-cache decorator.
type CachedCacheServiceConfig struct {
	// EntryTTL is the TTL for cached entry rows in Redis.
	EntryTTL time.Duration
}

// DefaultCachedCacheServiceConfig returns the default configuration.
func DefaultCachedCacheServiceConfig() CachedCacheServiceConfig {
	return CachedCacheServiceConfig{
		EntryTTL: 5 * time.Minute,
	}
}

// cachedCacheService wraps CacheService with a Redis entry cache.
// It implements the decorator pattern to add caching without modifying the
// store-backed service. Only GetEntry reads through the cache; Lookup keeps
// hitting the store because strict validation and touch semantics need the
// authoritative row.
type cachedCacheService struct {
	delegate CacheService
	cache    cache.EntryCache
	sfGroup  singleflight.Group

	entryTTL time.Duration
	logger   *slog.Logger
}

// NewCachedCacheService creates a CacheService decorated with an entry cache.
func NewCachedCacheService(
	delegate CacheService,
	entryCache cache.EntryCache,
	cfg CachedCacheServiceConfig,
	logger *slog.Logger,
) CacheService {
	return &cachedCacheService{
		delegate: delegate,
		cache:    entryCache,
		entryTTL: cfg.EntryTTL,
		logger:   logger,
	}
}

func (s *cachedCacheService) Key(ctx context.Context, in cachekey.SourceRefInput) (string, error) {
	return s.delegate.Key(ctx, in)
}

// Lookup delegates to the store-backed service. Strict lookups must see the
// current row and may demote it, so the entry cache is invalidated whenever
// a lookup reports a demotion.
func (s *cachedCacheService) Lookup(ctx context.Context, in LookupInput) (*LookupResult, error) {
	result, err := s.delegate.Lookup(ctx, in)
	if err != nil {
		return nil, err
	}
	if in.Strict && result.Status == model.StatusFailed.String() && result.Error != "" {
		s.invalidate(ctx, result.CacheKey)
	}
	return result, nil
}

// GetOrCreateEntry invalidates before delegating so a profile reset is never
// masked by a stale cached row.
func (s *cachedCacheService) GetOrCreateEntry(ctx context.Context, cacheKey string, sourceType model.SourceType, sourceRef, sourceName string) (*model.CacheEntry, error) {
	s.invalidate(ctx, cacheKey)
	return s.delegate.GetOrCreateEntry(ctx, cacheKey, sourceType, sourceRef, sourceName)
}

// GetEntry retrieves an entry with caching.
// Uses singleflight to prevent cache stampede on concurrent requests for the
// same cache key.
func (s *cachedCacheService) GetEntry(ctx context.Context, cacheKey string) (*model.CacheEntry, error) {
	result, err, shared := s.sfGroup.Do(cacheKey, func() (any, error) {
		return s.getEntryWithCache(ctx, cacheKey)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return nil, err
	}
	return result.(*model.CacheEntry), nil
}

// getEntryWithCache implements the cache-aside pattern.
func (s *cachedCacheService) getEntryWithCache(ctx context.Context, cacheKey string) (*model.CacheEntry, error) {
	entry, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		s.logger.Warn("entry cache get failed, falling back to store",
			slog.String("cache_key", cacheKey),
			slog.String("error", err.Error()),
		)
	}
	if entry != nil {
		return entry, nil
	}

	entry, err = s.delegate.GetEntry(ctx, cacheKey)
	if err != nil {
		return nil, err
	}

	// in-flight rows change quickly; only completed and failed states are
	// worth caching for their full TTL
	if entry.IsInFlight() {
		return entry, nil
	}
	if err := s.cache.Set(ctx, entry, s.entryTTL); err != nil {
		s.logger.Warn("failed to cache entry",
			slog.String("cache_key", cacheKey),
			slog.String("error", err.Error()),
		)
	}
	return entry, nil
}

// UpdateStatus invalidates the cache before delegating so readers never see
// the stale status during the write.
func (s *cachedCacheService) UpdateStatus(ctx context.Context, cacheKey string, status model.Status, summaryText, errMsg string) error {
	s.invalidate(ctx, cacheKey)
	return s.delegate.UpdateStatus(ctx, cacheKey, status, summaryText, errMsg)
}

func (s *cachedCacheService) Touch(ctx context.Context, cacheKey string) error {
	return s.delegate.Touch(ctx, cacheKey)
}

func (s *cachedCacheService) CreateJob(ctx context.Context, cacheKey string) (*model.Job, error) {
	return s.delegate.CreateJob(ctx, cacheKey)
}

func (s *cachedCacheService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.delegate.GetJob(ctx, jobID)
}

func (s *cachedCacheService) UpdateJob(ctx context.Context, jobID string, status model.Status, errMsg string) error {
	return s.delegate.UpdateJob(ctx, jobID, status, errMsg)
}

func (s *cachedCacheService) Delete(ctx context.Context, cacheKey string) error {
	s.invalidate(ctx, cacheKey)
	return s.delegate.Delete(ctx, cacheKey)
}

func (s *cachedCacheService) ListEntries(ctx context.Context, filter repository.EntryFilter) ([]*model.CacheEntry, error) {
	return s.delegate.ListEntries(ctx, filter)
}

func (s *cachedCacheService) invalidate(ctx context.Context, cacheKey string) {
	if cacheKey == "" {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		// cache invalidation failure is non-critical
		s.logger.Warn("failed to invalidate entry cache",
			slog.String("cache_key", cacheKey),
			slog.String("error", err.Error()),
		)
	}
}
