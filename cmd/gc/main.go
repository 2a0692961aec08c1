package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/sumcache/internal/bundle"
	"github.com/hszk-dev/sumcache/internal/cachekey"
	"github.com/hszk-dev/sumcache/internal/config"
	"github.com/hszk-dev/sumcache/internal/infrastructure/cache"
	"github.com/hszk-dev/sumcache/internal/infrastructure/postgres"
	"github.com/hszk-dev/sumcache/internal/usecase"
)

// One-shot garbage collection sweep, for cron or manual reclamation. The
// API server runs the same sweeps on its own interval; this binary exists
// for operating on a stopped or wedged deployment.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	db, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	entries := postgres.NewEntryRepository(db.Pool())
	jobs := postgres.NewJobRepository(db.Pool())
	bundles := bundle.NewManager(cfg.Storage.CacheRoot(), cfg.Storage.TmpRoot())
	keys := cachekey.NewService(nil, logger)

	cacheService := usecase.NewCacheService(entries, jobs, keys, bundles, cfg.Profile.Version, logger)

	// Invalidate through the redis layer when it is reachable, so a live
	// API server does not keep serving rows this sweep deletes.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, skipping cache invalidation", slog.String("error", err.Error()))
	} else {
		cacheService = usecase.NewCachedCacheService(
			cacheService,
			cache.NewRedisEntryCache(redisClient),
			usecase.CachedCacheServiceConfig{EntryTTL: cfg.Redis.EntryTTL},
			logger,
		)
	}

	gc := usecase.NewGCService(entries, bundles, cacheService, cfg.GC, logger)

	stats, err := gc.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("gc sweep failed: %w", err)
	}
	logger.Info("gc sweep done",
		slog.Int("cleaned_count", stats.CleanedCount),
		slog.Int64("cleaned_bytes", stats.CleanedBytes),
		slog.Int("cleaned_by_ttl", stats.CleanedByTTL),
		slog.Int("cleaned_by_size", stats.CleanedBySize),
		slog.Int("cleaned_failed", stats.CleanedFailed),
	)

	usage, err := gc.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute cache usage: %w", err)
	}
	logger.Info("cache usage",
		slog.Int64("total_bytes", usage.TotalBytes),
		slog.Int64("max_bytes", usage.MaxBytes),
		slog.Float64("usage_percent", usage.UsagePercent),
	)
	return nil
}
