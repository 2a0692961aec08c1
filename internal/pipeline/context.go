package pipeline

import (
	"github.com/google/uuid"

	"github.com/hszk-dev/sumcache/internal/asr"
)

// Thresholds parameterizes the validation and silence heuristics.
type Thresholds struct {
	// SubtitleCoverageMin is the minimum fraction of the video duration
	// that subtitle segments must cover for the subtitle to count as
	// usable.
	SubtitleCoverageMin float64

	// TranscriptTokenPerMinMin is the minimum transcript density below
	// which a recording is suspected to be silent.
	TranscriptTokenPerMinMin float64

	// AudioRMSMaxForSilence is the loudness at or below which audio is
	// treated as silent.
	AudioRMSMaxForSilence float64
}

// DefaultThresholds returns the production heuristics.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SubtitleCoverageMin:      0.5,
		TranscriptTokenPerMinMin: 5.0,
		AudioRMSMaxForSilence:    0.01,
	}
}

// TraceEvent records one stage's outcome within a run.
type TraceEvent struct {
	NodeID     string   `json:"node_id"`
	Status     string   `json:"status"`
	ElapsedMS  int64    `json:"elapsed_ms,omitempty"`
	Error      string   `json:"error,omitempty"`
	OutputKeys []string `json:"output_keys,omitempty"`
}

// Trace statuses.
const (
	TraceCompleted = "completed"
	TraceSkipped   = "skipped"
	TraceFailed    = "failed"
)

// Context carries the shared state of one pipeline run. Stages communicate
// exclusively through it and through files under BundleDir.
type Context struct {
	RunID string

	// Inputs.
	SourceType   string
	SourceURL    string
	VideoPath    string
	SubtitlePath string
	AudioPath    string

	// BundleDir is the tmp working directory artifacts are written to.
	BundleDir string

	// LocalInputType is "video", "audio" or "subtitle" for local
	// submissions, empty for URLs.
	LocalInputType string

	Thresholds Thresholds

	// Accumulated signals.
	VideoDurationSec       float64
	VideoWidth             int
	VideoHeight            int
	VideoFPS               float64
	VideoBitrateKbps       int
	SubtitleValid          bool
	SubtitleCoverageRatio  float64
	SubtitleDensity        float64
	SubtitleSegmentCount   int
	IsSilent               bool
	AudioRMS               *float64
	TranscriptTokenCount   int
	TranscriptSegmentCount int
	TokensPerMinute        float64

	ASRData *asr.Data

	// Output.
	SummaryText string

	Trace []TraceEvent

	// Extra holds stage-private values not covered by the fields above.
	Extra map[string]any
}

// NewContext creates a run context with a fresh run id.
func NewContext(thresholds Thresholds) *Context {
	return &Context{
		RunID:      uuid.NewString(),
		Thresholds: thresholds,
		Extra:      map[string]any{},
	}
}

// AddTrace appends an execution trace event.
func (c *Context) AddTrace(ev TraceEvent) {
	c.Trace = append(c.Trace, ev)
}

// EvalNamespace exports the context for edge-condition evaluation. Numbers
// are float64 so comparisons against literals behave uniformly.
func (c *Context) EvalNamespace() map[string]any {
	ns := map[string]any{
		"source_type":             c.SourceType,
		"local_input_type":        c.LocalInputType,
		"subtitle_valid":          c.SubtitleValid,
		"is_silent":               c.IsSilent,
		"video_duration":          c.VideoDurationSec,
		"subtitle_coverage_ratio": c.SubtitleCoverageRatio,
		"transcript_token_count":  float64(c.TranscriptTokenCount),
		"tokens_per_minute":       c.TokensPerMinute,

		"subtitle_coverage_min":        c.Thresholds.SubtitleCoverageMin,
		"transcript_token_per_min_min": c.Thresholds.TranscriptTokenPerMinMin,
		"audio_rms_max_for_silence":    c.Thresholds.AudioRMSMaxForSilence,
	}
	if c.AudioRMS != nil {
		ns["audio_rms"] = *c.AudioRMS
	} else {
		ns["audio_rms"] = nil
	}
	for k, v := range c.Extra {
		ns[k] = v
	}
	return ns
}
