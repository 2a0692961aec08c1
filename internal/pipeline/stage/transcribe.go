package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hszk-dev/sumcache/internal/pipeline"
)

// transcribeStage runs the ASR engine on the extracted audio and persists
// the transcript artifact. Bounded by the transcription limiter.
type transcribeStage struct {
	id   string
	deps *Deps
}

var _ pipeline.Stage = (*transcribeStage)(nil)

func (s *transcribeStage) ID() string { return s.id }

func (s *transcribeStage) Run(ctx context.Context, pctx *pipeline.Context) error {
	if pctx.AudioPath == "" {
		return fmt.Errorf("audio path must be set before transcription")
	}

	release, err := acquire(ctx, s.deps.TranscribeLimiter)
	if err != nil {
		return err
	}
	defer release()

	data, err := s.deps.Engine.Transcribe(ctx, pctx.AudioPath)
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}

	pctx.ASRData = data
	pctx.TranscriptTokenCount = data.TokenCount()
	pctx.TranscriptSegmentCount = len(data.Segments)

	if pctx.BundleDir != "" {
		if err := writeTranscript(pctx.BundleDir, data); err != nil {
			return err
		}
	}

	s.deps.Logger.Info("transcription done",
		slog.String("run_id", pctx.RunID),
		slog.Int("segments", len(data.Segments)),
		slog.Int("tokens", pctx.TranscriptTokenCount),
	)
	return nil
}

func (s *transcribeStage) OutputKeys() []string {
	return []string{"transcript_token_count", "asr_data"}
}
