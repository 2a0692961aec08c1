package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/hszk-dev/sumcache/internal/bundle"
	"github.com/hszk-dev/sumcache/internal/config"
	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
	"github.com/hszk-dev/sumcache/internal/infrastructure/metrics"
)

// GCStats reports one garbage collection cycle.
type GCStats struct {
	CleanedCount  int   `json:"cleaned_count"`
	CleanedBytes  int64 `json:"cleaned_bytes"`
	CleanedByTTL  int   `json:"cleaned_by_ttl"`
	CleanedBySize int   `json:"cleaned_by_size"`
	CleanedFailed int   `json:"cleaned_failed"`
}

// CacheUsage reports the current footprint of the bundle store.
type CacheUsage struct {
	TotalBytes   int64          `json:"total_bytes"`
	MaxBytes     int64          `json:"max_bytes"`
	UsagePercent float64        `json:"usage_percent"`
	EntryCounts  map[string]int `json:"entry_counts"`
}

// GCService reclaims disk space from the bundle store in three sweeps:
// stale failed entries first, then entries past the cache TTL, then the
// least recently used entries until the size budget holds. Running and
// pending entries are never touched, and tmp dirs are left to their jobs.
type GCService struct {
	entries repository.CacheEntryRepository
	bundles *bundle.Manager
	cache   CacheService
	cfg     config.GCConfig
	logger  *slog.Logger
}

// NewGCService creates the garbage collector.
func NewGCService(
	entries repository.CacheEntryRepository,
	bundles *bundle.Manager,
	cache CacheService,
	cfg config.GCConfig,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		entries: entries,
		bundles: bundles,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start runs RunOnce on the configured interval until ctx is done. Cycle
// errors are logged; the next cycle proceeds regardless.
func (s *GCService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.Error("gc cycle failed", slog.String("error", err.Error()))
				continue
			}
			s.logger.Info("gc cycle done",
				slog.Int("cleaned_count", stats.CleanedCount),
				slog.Int64("cleaned_bytes", stats.CleanedBytes),
				slog.Int("cleaned_by_ttl", stats.CleanedByTTL),
				slog.Int("cleaned_by_size", stats.CleanedBySize),
				slog.Int("cleaned_failed", stats.CleanedFailed),
			)
		}
	}
}

// RunOnce performs one full collection cycle.
func (s *GCService) RunOnce(ctx context.Context) (*GCStats, error) {
	stats := &GCStats{}
	now := time.Now()

	if err := s.sweepFailed(ctx, now, stats); err != nil {
		return stats, err
	}
	if err := s.sweepTTL(ctx, now, stats); err != nil {
		return stats, err
	}
	if err := s.sweepSize(ctx, stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// sweepFailed removes failed entries older than the failed TTL.
func (s *GCService) sweepFailed(ctx context.Context, now time.Time, stats *GCStats) error {
	entries, err := s.entries.List(ctx, repository.EntryFilter{Status: model.StatusFailed})
	if err != nil {
		return err
	}

	cutoff := now.Add(-s.cfg.FailedTTL())
	for _, entry := range entries {
		if entry.UpdatedAt.After(cutoff) {
			continue
		}
		freed := s.remove(ctx, entry, "failed_ttl")
		if freed < 0 {
			continue
		}
		stats.CleanedCount++
		stats.CleanedFailed++
		stats.CleanedBytes += freed
		metrics.GCFreedBytesTotal.WithLabelValues(metrics.SweepFailed).Add(float64(freed))
	}
	return nil
}

// sweepTTL removes entries idle longer than the cache TTL.
func (s *GCService) sweepTTL(ctx context.Context, now time.Time, stats *GCStats) error {
	entries, err := s.entries.ListIdle(ctx)
	if err != nil {
		return err
	}

	cutoff := now.Add(-s.cfg.CacheTTL())
	for _, entry := range entries {
		if entry.IsInFlight() {
			continue
		}
		if entry.IdleSince().After(cutoff) {
			// ListIdle is ascending; everything after this is fresher
			break
		}
		freed := s.remove(ctx, entry, "ttl")
		if freed < 0 {
			continue
		}
		stats.CleanedCount++
		stats.CleanedByTTL++
		stats.CleanedBytes += freed
		metrics.GCFreedBytesTotal.WithLabelValues(metrics.SweepTTL).Add(float64(freed))
	}
	return nil
}

// sweepSize evicts least recently used entries until the total footprint
// fits the size budget.
func (s *GCService) sweepSize(ctx context.Context, stats *GCStats) error {
	if s.cfg.CacheMaxBytes <= 0 {
		return nil
	}

	entries, err := s.entries.ListIdle(ctx)
	if err != nil {
		return err
	}

	sizes := make(map[string]int64, len(entries))
	var total int64
	for _, entry := range entries {
		size, err := s.bundles.BundleSize(entry.CacheKey, entry.SourceType)
		if err != nil {
			s.logger.Warn("failed to size bundle",
				slog.String("cache_key", entry.CacheKey),
				slog.String("error", err.Error()),
			)
			continue
		}
		sizes[entry.CacheKey] = size
		total += size
	}

	for _, entry := range entries {
		if total <= s.cfg.CacheMaxBytes {
			break
		}
		if entry.IsInFlight() {
			continue
		}
		size, ok := sizes[entry.CacheKey]
		if !ok {
			continue
		}
		if freed := s.remove(ctx, entry, "size_budget"); freed < 0 {
			continue
		}
		total -= size
		stats.CleanedCount++
		stats.CleanedBySize++
		stats.CleanedBytes += size
		metrics.GCFreedBytesTotal.WithLabelValues(metrics.SweepSize).Add(float64(size))
	}
	return nil
}

// remove deletes one entry and its bundle, returning the freed byte count
// or a negative value when deletion failed.
func (s *GCService) remove(ctx context.Context, entry *model.CacheEntry, sweep string) int64 {
	size, err := s.bundles.BundleSize(entry.CacheKey, entry.SourceType)
	if err != nil {
		size = 0
	}
	if err := s.cache.Delete(ctx, entry.CacheKey); err != nil {
		s.logger.Warn("failed to collect entry",
			slog.String("cache_key", entry.CacheKey),
			slog.String("sweep", sweep),
			slog.String("error", err.Error()),
		)
		return -1
	}
	s.logger.Info("entry collected",
		slog.String("cache_key", entry.CacheKey),
		slog.String("sweep", sweep),
		slog.Int64("freed_bytes", size),
	)
	return size
}

// Stats reports the store footprint and per-status entry counts.
func (s *GCService) Stats(ctx context.Context) (*CacheUsage, error) {
	entries, err := s.entries.List(ctx, repository.EntryFilter{})
	if err != nil {
		return nil, err
	}

	usage := &CacheUsage{
		MaxBytes:    s.cfg.CacheMaxBytes,
		EntryCounts: map[string]int{},
	}
	for _, entry := range entries {
		usage.EntryCounts[entry.Status.String()]++
		size, err := s.bundles.BundleSize(entry.CacheKey, entry.SourceType)
		if err != nil {
			continue
		}
		usage.TotalBytes += size
	}
	if usage.MaxBytes > 0 {
		usage.UsagePercent = float64(usage.TotalBytes) / float64(usage.MaxBytes) * 100
	}
	return usage, nil
}
