package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/sumcache/internal/api"
	"github.com/hszk-dev/sumcache/internal/asr"
	"github.com/hszk-dev/sumcache/internal/bundle"
	"github.com/hszk-dev/sumcache/internal/cachekey"
	"github.com/hszk-dev/sumcache/internal/config"
	"github.com/hszk-dev/sumcache/internal/infrastructure/cache"
	"github.com/hszk-dev/sumcache/internal/infrastructure/postgres"
	"github.com/hszk-dev/sumcache/internal/infrastructure/queue"
	"github.com/hszk-dev/sumcache/internal/infrastructure/storage"
	"github.com/hszk-dev/sumcache/internal/llm"
	"github.com/hszk-dev/sumcache/internal/media"
	"github.com/hszk-dev/sumcache/internal/pipeline"
	"github.com/hszk-dev/sumcache/internal/pipeline/stage"
	"github.com/hszk-dev/sumcache/internal/usecase"
)

// version is stamped at build time via -ldflags.
var version = "dev"

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	entryCache := cache.NewRedisEntryCache(redisClient)

	entries := postgres.NewEntryRepository(db.Pool())
	jobs := postgres.NewJobRepository(db.Pool())
	uploadRows := postgres.NewUploadRepository(db.Pool())

	store, err := storage.NewLocalStore(storage.LocalStoreConfig{
		Root:             cfg.Storage.UploadRoot(),
		MaxFileSizeBytes: cfg.Upload.MaxFileSizeBytes(),
		ChunkSize:        cfg.Upload.ChunkSize,
		ReadTimeout:      cfg.Upload.ReadTimeout(),
		WriteTimeout:     cfg.Upload.WriteTimeout(),
		TTLSeconds:       cfg.Upload.TTLSeconds,
		SweepInterval:    cfg.Upload.SweepInterval,
		Concurrency:      int64(cfg.Upload.Concurrency),
	}, uploadRows, logger)
	if err != nil {
		return fmt.Errorf("failed to init upload store: %w", err)
	}
	store.Start(ctx)
	defer store.Stop()

	bundles := bundle.NewManager(cfg.Storage.CacheRoot(), cfg.Storage.TmpRoot())

	ytdlp := media.NewYtDlp(media.YtDlpConfig{
		BinaryPath:     cfg.Media.YtDlpPath,
		CookieFile:     cfg.Media.CookieFile,
		RateLimitBytes: cfg.Download.VideoRateLimit,
	}, logger)
	prober := media.NewFFProbe(media.FFProbeConfig{BinaryPath: cfg.Media.FFProbePath})
	ffmpeg := media.NewFFmpeg(media.FFmpegConfig{BinaryPath: cfg.Media.FFmpegPath}, prober, logger)
	fetcher := media.NewFetcher(media.FetcherConfig{
		SubtitleMaxBytes: cfg.Download.SubtitleMaxBytes(),
		FileMaxBytes:     cfg.Download.VideoMaxBytes(),
		RateLimitBytes:   cfg.Download.VideoRateLimit,
	}, logger)

	engine, err := buildASREngine(cfg.ASR, logger)
	if err != nil {
		return fmt.Errorf("failed to init transcription engine: %w", err)
	}
	// Long recordings are split, transcribed concurrently and re-merged.
	engine = asr.NewChunkedEngine(engine, ffmpeg, logger)

	llmClient, err := llm.NewOpenAIClient(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to init llm client: %w", err)
	}

	registry := stage.NewRegistry(stage.Deps{
		Prober:            prober,
		Metadata:          ytdlp,
		Downloader:        ytdlp,
		Subtitles:         fetcher,
		Extractor:         ffmpeg,
		RMS:               ffmpeg,
		Engine:            engine,
		LLM:               llmClient,
		TranscodeLimiter:  pipeline.NewLimiter("transcode", int64(cfg.Pipeline.TranscodeConcurrency), cfg.Pipeline.StageWait()),
		TranscribeLimiter: pipeline.NewLimiter("transcribe", int64(cfg.Pipeline.TranscribeConcurrency), cfg.Pipeline.StageWait()),
		LLMModel:          cfg.LLM.Model,
		MaxInputChars:     cfg.LLM.MaxInputChars,
		ProfileVersion:    cfg.Profile.Version,
		Logger:            logger,
	})

	keys := cachekey.NewService(&ytdlpExtractor{ytdlp: ytdlp}, logger)

	cacheService := usecase.NewCachedCacheService(
		usecase.NewCacheService(entries, jobs, keys, bundles, cfg.Profile.Version, logger),
		entryCache,
		usecase.CachedCacheServiceConfig{EntryTTL: cfg.Redis.EntryTTL},
		logger,
	)

	worker := usecase.NewJobWorker(cacheService, store, bundles, registry, pipeline.DefaultThresholds(), cfg.Profile.Version, logger)
	jobQueue := queue.NewMemoryQueue(queue.Config{
		Size:    cfg.Jobs.QueueSize,
		Workers: cfg.Jobs.WorkerCount,
	}, worker, logger)
	jobQueue.Start(ctx)

	summaries := usecase.NewSummaryService(cacheService, store, jobQueue, logger)

	gc := usecase.NewGCService(entries, bundles, cacheService, cfg.GC, logger)
	go gc.Start(ctx)

	r := api.NewRouter(api.RouterConfig{
		Version:   version,
		RateLimit: cfg.RateLimit,
	}, cacheService, summaries, store, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	jobQueue.Stop()
	jobQueue.Wait()

	logger.Info("server stopped")
	return nil
}

func buildASREngine(cfg config.ASRConfig, logger *slog.Logger) (asr.Engine, error) {
	switch cfg.Engine {
	case "local":
		return asr.NewLocalEngine(asr.LocalEngineConfig{
			BinaryPath: cfg.BinaryPath,
			ModelPath:  cfg.ModelPath,
			Language:   cfg.Language,
		}, logger)
	case "http", "":
		return asr.NewHTTPEngine(asr.HTTPEngineConfig{
			BaseURL:  cfg.BaseURL,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Language: cfg.Language,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown transcription engine %q", cfg.Engine)
	}
}

// ytdlpExtractor adapts the yt-dlp identity probe to the cache key service.
type ytdlpExtractor struct {
	ytdlp *media.YtDlp
}

func (e *ytdlpExtractor) Extract(ctx context.Context, rawURL string) (*cachekey.Identity, error) {
	extractor, contentID, err := e.ytdlp.ProbeIdentity(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return &cachekey.Identity{Extractor: extractor, ContentID: contentID}, nil
}
