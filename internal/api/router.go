package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hszk-dev/sumcache/internal/api/handler"
	"github.com/hszk-dev/sumcache/internal/api/middleware"
	"github.com/hszk-dev/sumcache/internal/config"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
	"github.com/hszk-dev/sumcache/internal/usecase"
)

// RouterConfig holds the router-level knobs.
type RouterConfig struct {
	Version   string
	RateLimit config.RateLimitConfig
}

// NewRouter assembles the HTTP surface: request id, logging and panic
// recovery on every route, plus per-minute rate limits on the two write
// endpoints.
func NewRouter(
	cfg RouterConfig,
	cache usecase.CacheService,
	summaries usecase.SummaryService,
	storage repository.FileStorage,
	logger *slog.Logger,
) *chi.Mux {
	uploadHandler := handler.NewUploadHandler(storage)
	cacheHandler := handler.NewCacheHandler(cache, storage)
	summaryHandler := handler.NewSummaryHandler(summaries, cache)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", handler.Health(cfg.Version))
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(cfg.RateLimit.UploadPerMinute)).
			Post("/uploads", uploadHandler.Create)
		r.Get("/uploads/{file_id}", uploadHandler.Get)

		r.Post("/cache/lookup", cacheHandler.Lookup)
		r.Get("/cache/{cache_key}", cacheHandler.Get)
		r.Delete("/cache/{cache_key}", cacheHandler.Delete)

		r.With(middleware.RateLimit(cfg.RateLimit.SummaryPerMinute)).
			Post("/summaries", summaryHandler.Submit)
		r.Get("/jobs/{job_id}", summaryHandler.GetJob)
	})

	return r
}
