package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hszk-dev/sumcache/internal/pipeline"
)

// downloadSubtitleStage fetches the best available caption track into the
// bundle directory. A missing or failed subtitle is a valid outcome; the
// graph falls back to the transcription path.
type downloadSubtitleStage struct {
	id   string
	deps *Deps
}

var _ pipeline.Stage = (*downloadSubtitleStage)(nil)

func (s *downloadSubtitleStage) ID() string { return s.id }

func (s *downloadSubtitleStage) Run(ctx context.Context, pctx *pipeline.Context) error {
	if pctx.SourceURL == "" {
		return fmt.Errorf("source_url must be set")
	}

	meta, err := s.deps.Metadata.FetchMetadata(ctx, pctx.SourceURL)
	if err != nil {
		s.deps.Logger.Warn("caption lookup failed",
			slog.String("run_id", pctx.RunID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if meta.SubtitleURL == "" {
		s.deps.Logger.Info("no caption track available",
			slog.String("run_id", pctx.RunID),
		)
		return nil
	}

	ext := meta.SubtitleExt
	if ext == "" {
		ext = "vtt"
	}
	dest := filepath.Join(pctx.BundleDir, "subtitle."+ext)

	if err := s.deps.Subtitles.FetchSubtitle(ctx, meta.SubtitleURL, dest); err != nil {
		s.deps.Logger.Warn("subtitle download failed",
			slog.String("run_id", pctx.RunID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	pctx.SubtitlePath = dest
	s.deps.Logger.Info("subtitle downloaded",
		slog.String("run_id", pctx.RunID),
		slog.String("path", filepath.Base(dest)),
	)
	return nil
}

func (s *downloadSubtitleStage) OutputKeys() []string { return []string{"subtitle_path"} }

// downloadVideoStage fetches the full video. Only reached when the
// subtitle path did not produce a usable transcript, so failures here are
// fatal to the run.
type downloadVideoStage struct {
	id   string
	deps *Deps
}

var _ pipeline.Stage = (*downloadVideoStage)(nil)

func (s *downloadVideoStage) ID() string { return s.id }

func (s *downloadVideoStage) Run(ctx context.Context, pctx *pipeline.Context) error {
	if pctx.SourceURL == "" {
		return fmt.Errorf("source_url must be set")
	}

	path, err := s.deps.Downloader.DownloadVideo(ctx, pctx.SourceURL, pctx.BundleDir)
	if err != nil {
		return fmt.Errorf("failed to download video: %w", err)
	}

	// normalize to the canonical artifact name
	target := filepath.Join(pctx.BundleDir, "video"+strings.ToLower(filepath.Ext(path)))
	if path != target {
		if err := os.Rename(path, target); err != nil {
			return fmt.Errorf("failed to place video artifact: %w", err)
		}
	}

	pctx.VideoPath = target
	s.deps.Logger.Info("video downloaded",
		slog.String("run_id", pctx.RunID),
		slog.String("path", filepath.Base(target)),
	)
	return nil
}

func (s *downloadVideoStage) OutputKeys() []string { return []string{"video_path"} }
