// Package stage implements the concrete pipeline stages and the factory
// registry that binds them to DAG node types.
package stage

import (
	"context"
	"log/slog"

	"github.com/hszk-dev/sumcache/internal/asr"
	"github.com/hszk-dev/sumcache/internal/llm"
	"github.com/hszk-dev/sumcache/internal/media"
	"github.com/hszk-dev/sumcache/internal/pipeline"
)

// Stage type names. Node ids in the built-in flows use the same strings so
// traces read the same as the graph definition.
const (
	TypeInput            = "input"
	TypeFetchMetadata    = "fetch_metadata"
	TypeDownloadSubtitle = "download_subtitle"
	TypeDownloadVideo    = "download_video"
	TypeParseSubtitle    = "parse_subtitle"
	TypeValidateSubtitle = "validate_subtitle"
	TypeExtractAudio     = "extract_audio"
	TypeDetectSilence    = "detect_silence"
	TypeTranscribe       = "transcribe"
	TypeTextSummarize    = "text_summarize"
	TypeWarning          = "warning"
)

// SubtitleFetcher downloads a caption file to a local path.
type SubtitleFetcher interface {
	FetchSubtitle(ctx context.Context, url, destPath string) error
}

// RMSMeter measures the loudness of an audio file.
type RMSMeter interface {
	MeasureRMS(ctx context.Context, audioPath string) (float64, error)
}

// Deps carries the external services stages delegate to. Optional fields
// may be nil; the stages that need them fail or degrade accordingly.
type Deps struct {
	Prober     media.Prober
	Metadata   media.MetadataFetcher
	Downloader media.VideoDownloader
	Subtitles  SubtitleFetcher
	Extractor  media.AudioExtractor
	RMS        RMSMeter
	Engine     asr.Engine
	LLM        llm.Client

	TranscodeLimiter  *pipeline.Limiter
	TranscribeLimiter *pipeline.Limiter

	// LLMModel, MaxInputChars and ProfileVersion are recorded in the
	// summary.json artifact.
	LLMModel       string
	MaxInputChars  int
	ProfileVersion string

	Logger *slog.Logger
}

// NewRegistry returns a registry with every built-in stage type bound.
func NewRegistry(deps Deps) *pipeline.Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	d := &deps

	r := pipeline.NewRegistry()
	r.Register(TypeInput, func(id string, _ map[string]any) (pipeline.Stage, error) {
		return &inputStage{id: id, deps: d}, nil
	})
	r.Register(TypeFetchMetadata, func(id string, _ map[string]any) (pipeline.Stage, error) {
		return &fetchMetadataStage{id: id, deps: d}, nil
	})
	r.Register(TypeDownloadSubtitle, func(id string, _ map[string]any) (pipeline.Stage, error) {
		return &downloadSubtitleStage{id: id, deps: d}, nil
	})
	r.Register(TypeDownloadVideo, func(id string, _ map[string]any) (pipeline.Stage, error) {
		return &downloadVideoStage{id: id, deps: d}, nil
	})
	r.Register(TypeParseSubtitle, func(id string, _ map[string]any) (pipeline.Stage, error) {
		return &parseSubtitleStage{id: id, deps: d}, nil
	})
	r.Register(TypeValidateSubtitle, func(id string, _ map[string]any) (pipeline.Stage, error) {
		return &validateSubtitleStage{id: id, deps: d}, nil
	})
	r.Register(TypeExtractAudio, func(id string, params map[string]any) (pipeline.Stage, error) {
		return &extractAudioStage{
			id:         id,
			deps:       d,
			trackIndex: intParam(params, "audio_track_index", 0),
		}, nil
	})
	r.Register(TypeDetectSilence, func(id string, _ map[string]any) (pipeline.Stage, error) {
		return &detectSilenceStage{id: id, deps: d}, nil
	})
	r.Register(TypeTranscribe, func(id string, _ map[string]any) (pipeline.Stage, error) {
		return &transcribeStage{id: id, deps: d}, nil
	})
	r.Register(TypeTextSummarize, func(id string, _ map[string]any) (pipeline.Stage, error) {
		return &textSummarizeStage{id: id, deps: d}, nil
	})
	r.Register(TypeWarning, func(id string, params map[string]any) (pipeline.Stage, error) {
		return &warningStage{
			id:      id,
			deps:    d,
			message: stringParam(params, "message", DefaultWarningMessage),
		}, nil
	})
	return r
}

// acquire takes a slot from the limiter when one is configured. The no-op
// release keeps call sites uniform.
func acquire(ctx context.Context, lim *pipeline.Limiter) (func(), error) {
	if lim == nil {
		return func() {}, nil
	}
	return lim.Acquire(ctx)
}

func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// intParam accepts float64 because JSON-decoded params carry numbers that
// way.
func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
