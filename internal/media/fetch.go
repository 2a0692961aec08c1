package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// ErrDownloadTooLarge is returned when a remote file exceeds its size cap.
var ErrDownloadTooLarge = fmt.Errorf("download exceeds size limit")

// FetcherConfig holds configuration for direct HTTP downloads.
type FetcherConfig struct {
	// SubtitleMaxBytes caps subtitle downloads. Default: 10 MiB.
	SubtitleMaxBytes int64

	// FileMaxBytes caps media file downloads. Default: 2 GiB.
	FileMaxBytes int64

	// RateLimitBytes caps download throughput in bytes per second.
	// Zero disables throttling.
	RateLimitBytes int64

	// Timeout bounds a single download. Default: 5 minutes.
	Timeout time.Duration
}

// DefaultFetcherConfig returns a FetcherConfig with production-ready defaults.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		SubtitleMaxBytes: 10 << 20,
		FileMaxBytes:     2 << 30,
		Timeout:          5 * time.Minute,
	}
}

// Fetcher downloads files over plain HTTP with size caps and optional
// throughput throttling. Subtitle links resolved from video metadata are
// its main use.
type Fetcher struct {
	config  FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewFetcher creates a new HTTP fetcher.
func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	def := DefaultFetcherConfig()
	if cfg.SubtitleMaxBytes == 0 {
		cfg.SubtitleMaxBytes = def.SubtitleMaxBytes
	}
	if cfg.FileMaxBytes == 0 {
		cfg.FileMaxBytes = def.FileMaxBytes
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	var limiter *rate.Limiter
	if cfg.RateLimitBytes > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitBytes), int(cfg.RateLimitBytes))
	}

	return &Fetcher{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// FetchSubtitle downloads a caption file to destPath.
func (f *Fetcher) FetchSubtitle(ctx context.Context, url, destPath string) error {
	return f.fetch(ctx, url, destPath, f.config.SubtitleMaxBytes)
}

// FetchFile downloads a media file to destPath.
func (f *Fetcher) FetchFile(ctx context.Context, url, destPath string) error {
	return f.fetch(ctx, url, destPath, f.config.FileMaxBytes)
}

func (f *Fetcher) fetch(ctx context.Context, url, destPath string, maxBytes int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		return fmt.Errorf("%w: %d bytes announced, limit %d", ErrDownloadTooLarge, resp.ContentLength, maxBytes)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dst.Close()

	var src io.Reader = resp.Body
	if f.limiter != nil {
		src = &throttledReader{ctx: ctx, r: resp.Body, limiter: f.limiter}
	}

	// Read one byte past the cap so overruns are detected, not truncated.
	n, err := io.Copy(dst, io.LimitReader(src, maxBytes+1))
	if err != nil {
		os.Remove(destPath)
		return fmt.Errorf("download failed: %w", err)
	}
	if n > maxBytes {
		os.Remove(destPath)
		return fmt.Errorf("%w: limit %d bytes", ErrDownloadTooLarge, maxBytes)
	}

	f.logger.Info("file downloaded",
		slog.String("dest", filepath.Base(destPath)),
		slog.Int64("bytes", n),
	)
	return nil
}

// throttledReader paces reads through a shared rate limiter.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
