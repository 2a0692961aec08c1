package stage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/hszk-dev/sumcache/internal/asr"
	"github.com/hszk-dev/sumcache/internal/bundle"
	"github.com/hszk-dev/sumcache/internal/pipeline"
)

// parseSubtitleStage parses the downloaded or uploaded subtitle into a
// transcript. Parse failures are not fatal; the validate stage treats a
// missing transcript as an invalid subtitle.
type parseSubtitleStage struct {
	id   string
	deps *Deps
}

var _ pipeline.Stage = (*parseSubtitleStage)(nil)

func (s *parseSubtitleStage) ID() string { return s.id }

func (s *parseSubtitleStage) Run(_ context.Context, pctx *pipeline.Context) error {
	if pctx.SubtitlePath == "" {
		s.deps.Logger.Info("no subtitle to parse", slog.String("run_id", pctx.RunID))
		pctx.ASRData = nil
		return nil
	}

	raw, err := os.ReadFile(pctx.SubtitlePath)
	if err != nil {
		s.deps.Logger.Warn("failed to read subtitle",
			slog.String("run_id", pctx.RunID),
			slog.String("error", err.Error()),
		)
		pctx.ASRData = nil
		return nil
	}

	data, err := asr.ParseSubtitle(string(raw))
	if err != nil {
		s.deps.Logger.Warn("subtitle parse failed",
			slog.String("run_id", pctx.RunID),
			slog.String("error", err.Error()),
		)
		pctx.ASRData = nil
		return nil
	}

	pctx.ASRData = data
	pctx.SubtitleSegmentCount = len(data.Segments)

	if pctx.BundleDir != "" {
		if err := writeTranscript(pctx.BundleDir, data); err != nil {
			s.deps.Logger.Warn("failed to persist transcript",
				slog.String("run_id", pctx.RunID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.deps.Logger.Info("subtitle parsed",
		slog.String("run_id", pctx.RunID),
		slog.Int("segments", len(data.Segments)),
	)
	return nil
}

func (s *parseSubtitleStage) OutputKeys() []string {
	return []string{"asr_data", "subtitle_segment_count"}
}

// validateSubtitleStage decides whether the parsed subtitle is dense and
// complete enough to summarize directly, skipping transcription.
type validateSubtitleStage struct {
	id   string
	deps *Deps
}

var _ pipeline.Stage = (*validateSubtitleStage)(nil)

func (s *validateSubtitleStage) ID() string { return s.id }

func (s *validateSubtitleStage) Run(_ context.Context, pctx *pipeline.Context) error {
	coverageMin := pctx.Thresholds.SubtitleCoverageMin

	if pctx.ASRData == nil || !pctx.ASRData.HasData() {
		pctx.SubtitleValid = false
		pctx.SubtitleCoverageRatio = 0
		s.deps.Logger.Info("subtitle invalid: no data", slog.String("run_id", pctx.RunID))
		return nil
	}

	if pctx.VideoDurationSec <= 0 {
		// coverage cannot be computed, assume usable
		pctx.SubtitleValid = true
		pctx.SubtitleCoverageRatio = 1.0
		s.deps.Logger.Info("no media duration, assuming subtitle valid",
			slog.String("run_id", pctx.RunID),
		)
		return nil
	}

	coveredMS := float64(pctx.ASRData.CoveredMS())
	coverage := coveredMS / (pctx.VideoDurationSec * 1000)

	minutes := pctx.VideoDurationSec / 60
	density := float64(len(pctx.ASRData.Segments)) / math.Max(minutes, 0.1)

	valid := coverage >= coverageMin && density >= 1.0

	pctx.SubtitleValid = valid
	pctx.SubtitleCoverageRatio = math.Round(coverage*10000) / 10000
	pctx.SubtitleDensity = math.Round(density*100) / 100

	s.deps.Logger.Info("subtitle validated",
		slog.String("run_id", pctx.RunID),
		slog.Bool("valid", valid),
		slog.Float64("coverage", pctx.SubtitleCoverageRatio),
		slog.Float64("density", pctx.SubtitleDensity),
	)
	return nil
}

func (s *validateSubtitleStage) OutputKeys() []string {
	return []string{"subtitle_valid", "subtitle_coverage_ratio"}
}

// writeTranscript persists the transcript artifact atomically.
func writeTranscript(bundleDir string, data *asr.Data) error {
	payload, err := data.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	path := filepath.Join(bundleDir, bundle.ASRFileName)
	if err := renameio.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}
