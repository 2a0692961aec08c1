package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hszk-dev/sumcache/internal/pipeline"
)

// inputStage checks the run has a usable source before anything heavier
// starts.
type inputStage struct {
	id   string
	deps *Deps
}

var _ pipeline.Stage = (*inputStage)(nil)

func (s *inputStage) ID() string { return s.id }

func (s *inputStage) Run(_ context.Context, pctx *pipeline.Context) error {
	switch pctx.SourceType {
	case "url":
		if pctx.SourceURL == "" {
			return fmt.Errorf("source_url must be set for url sources")
		}
	case "local":
		var path string
		switch pctx.LocalInputType {
		case "video":
			path = pctx.VideoPath
		case "audio":
			path = pctx.AudioPath
		case "subtitle":
			path = pctx.SubtitlePath
		default:
			return fmt.Errorf("unsupported local_input_type: %q", pctx.LocalInputType)
		}
		if path == "" {
			return fmt.Errorf("%s input path must be set for local sources", pctx.LocalInputType)
		}
	default:
		return fmt.Errorf("unsupported source_type: %q", pctx.SourceType)
	}

	s.deps.Logger.Info("input accepted",
		slog.String("run_id", pctx.RunID),
		slog.String("source_type", pctx.SourceType),
	)
	return nil
}

func (s *inputStage) OutputKeys() []string { return []string{"source_type"} }

// fetchMetadataStage resolves the media duration and basic video
// characteristics. URL sources are queried remotely without downloading;
// local files are probed directly.
type fetchMetadataStage struct {
	id   string
	deps *Deps
}

var _ pipeline.Stage = (*fetchMetadataStage)(nil)

func (s *fetchMetadataStage) ID() string { return s.id }

func (s *fetchMetadataStage) Run(ctx context.Context, pctx *pipeline.Context) error {
	if pctx.SourceType == "url" && pctx.VideoPath == "" {
		meta, err := s.deps.Metadata.FetchMetadata(ctx, pctx.SourceURL)
		if err != nil {
			return fmt.Errorf("failed to fetch metadata: %w", err)
		}
		pctx.VideoDurationSec = meta.DurationSec
		if meta.Title != "" {
			pctx.Extra["video_title"] = meta.Title
		}
		s.deps.Logger.Info("remote metadata resolved",
			slog.String("run_id", pctx.RunID),
			slog.Float64("duration_sec", meta.DurationSec),
		)
		return nil
	}

	path := pctx.VideoPath
	if path == "" {
		path = pctx.AudioPath
	}
	if path == "" {
		return fmt.Errorf("no media file available to probe")
	}

	info, err := s.deps.Prober.Probe(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to probe media: %w", err)
	}

	pctx.VideoDurationSec = info.DurationSec
	pctx.VideoWidth = info.Width
	pctx.VideoHeight = info.Height
	pctx.VideoFPS = info.FPS
	pctx.VideoBitrateKbps = info.BitrateKbps

	s.deps.Logger.Info("media probed",
		slog.String("run_id", pctx.RunID),
		slog.Float64("duration_sec", info.DurationSec),
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
	)
	return nil
}

func (s *fetchMetadataStage) OutputKeys() []string {
	return []string{"video_duration", "video_width", "video_height", "video_fps", "video_bitrate", "video_title"}
}
