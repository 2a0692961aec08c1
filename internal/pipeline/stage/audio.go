package stage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/hszk-dev/sumcache/internal/pipeline"
)

// extractAudioStage converts the video into a mono WAV suitable for
// transcription. Bounded by the transcode limiter.
type extractAudioStage struct {
	id         string
	deps       *Deps
	trackIndex int
}

var _ pipeline.Stage = (*extractAudioStage)(nil)

func (s *extractAudioStage) ID() string { return s.id }

func (s *extractAudioStage) Run(ctx context.Context, pctx *pipeline.Context) error {
	if pctx.VideoPath == "" {
		return fmt.Errorf("video path must be set before audio extraction")
	}

	release, err := acquire(ctx, s.deps.TranscodeLimiter)
	if err != nil {
		return err
	}
	defer release()

	audioPath := filepath.Join(pctx.BundleDir, "audio.wav")
	if err := s.deps.Extractor.ExtractAudio(ctx, pctx.VideoPath, audioPath, s.trackIndex); err != nil {
		return fmt.Errorf("failed to extract audio: %w", err)
	}

	pctx.AudioPath = audioPath
	s.deps.Logger.Info("audio extracted",
		slog.String("run_id", pctx.RunID),
		slog.Int("track", s.trackIndex),
	)
	return nil
}

func (s *extractAudioStage) OutputKeys() []string { return []string{"audio_path"} }

// detectSilenceStage decides whether the recording carries enough speech
// to be worth summarizing. Two signals: transcript density per minute and
// audio loudness. When no real RMS measurement is available the value is
// estimated from the density signal.
type detectSilenceStage struct {
	id   string
	deps *Deps
}

var _ pipeline.Stage = (*detectSilenceStage)(nil)

func (s *detectSilenceStage) ID() string { return s.id }

func (s *detectSilenceStage) Run(ctx context.Context, pctx *pipeline.Context) error {
	tokenMin := pctx.Thresholds.TranscriptTokenPerMinMin
	rmsMax := pctx.Thresholds.AudioRMSMaxForSilence

	var tokensPerMinute float64
	if pctx.VideoDurationSec > 0 {
		tokensPerMinute = float64(pctx.TranscriptTokenCount) / (pctx.VideoDurationSec / 60)
	}

	rms := pctx.AudioRMS
	if rms == nil && pctx.AudioPath != "" && s.deps.RMS != nil {
		if v, err := s.deps.RMS.MeasureRMS(ctx, pctx.AudioPath); err != nil {
			s.deps.Logger.Warn("loudness measurement failed",
				slog.String("run_id", pctx.RunID),
				slog.String("error", err.Error()),
			)
		} else {
			rms = &v
		}
	}
	if rms == nil {
		// sparse transcripts estimate near the silence threshold
		est := rmsMax * 1.5
		if tokensPerMinute < tokenMin {
			est = rmsMax * 0.9
		}
		rms = &est
	}

	silent := tokensPerMinute < tokenMin || *rms <= rmsMax

	pctx.IsSilent = silent
	pctx.AudioRMS = rms
	pctx.TokensPerMinute = math.Round(tokensPerMinute*100) / 100

	s.deps.Logger.Info("silence detected",
		slog.String("run_id", pctx.RunID),
		slog.Bool("is_silent", silent),
		slog.Float64("tokens_per_minute", pctx.TokensPerMinute),
		slog.Float64("audio_rms", *rms),
	)
	return nil
}

func (s *detectSilenceStage) OutputKeys() []string { return []string{"is_silent", "audio_rms"} }
