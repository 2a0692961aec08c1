package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/hszk-dev/sumcache/internal/bundle"
	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/pipeline"
)

// Sentinel strings written instead of a summary. The worker's publication
// check recognizes them and fails the run.
const (
	NoTextSentinel        = "无法生成摘要：无有效文本内容"
	SummaryFailedPrefix   = "总结生成失败"
	DefaultWarningMessage = "无有效信息"
)

// textSummarizeStage condenses the transcript through the LLM and writes
// the summary.json artifact. LLM failures do not abort the run; the stage
// records a sentinel summary and leaves the verdict to the worker.
type textSummarizeStage struct {
	id   string
	deps *Deps
}

var _ pipeline.Stage = (*textSummarizeStage)(nil)

func (s *textSummarizeStage) ID() string { return s.id }

func (s *textSummarizeStage) Run(ctx context.Context, pctx *pipeline.Context) error {
	if pctx.ASRData == nil || !pctx.ASRData.HasData() {
		pctx.SummaryText = NoTextSentinel
		s.deps.Logger.Warn("no transcript text to summarize",
			slog.String("run_id", pctx.RunID),
		)
		return nil
	}

	text := pctx.ASRData.Text()

	summary, err := s.deps.LLM.Summarize(ctx, text)
	if err != nil {
		pctx.SummaryText = fmt.Sprintf("%s: %v", SummaryFailedPrefix, err)
		pctx.Extra["summary_error"] = err.Error()
		s.deps.Logger.Error("summarization failed",
			slog.String("run_id", pctx.RunID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	pctx.SummaryText = summary

	inputChars := len([]rune(text))
	if max := s.deps.MaxInputChars; max > 0 && inputChars > max {
		inputChars = max
	}

	payload, err := json.MarshalIndent(model.SummaryArtifact{
		SummaryText:    summary,
		Model:          s.deps.LLMModel,
		InputChars:     inputChars,
		ProfileVersion: s.deps.ProfileVersion,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	path := filepath.Join(pctx.BundleDir, bundle.SummaryFileName)
	if err := renameio.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	s.deps.Logger.Info("summary generated",
		slog.String("run_id", pctx.RunID),
		slog.Int("summary_chars", len([]rune(summary))),
	)
	return nil
}

func (s *textSummarizeStage) OutputKeys() []string { return []string{"summary_text"} }

// warningStage records a configured sentinel message as the summary, used
// when a branch concludes the media has nothing to summarize.
type warningStage struct {
	id      string
	deps    *Deps
	message string
}

var _ pipeline.Stage = (*warningStage)(nil)

func (s *warningStage) ID() string { return s.id }

func (s *warningStage) Run(_ context.Context, pctx *pipeline.Context) error {
	pctx.SummaryText = s.message
	s.deps.Logger.Warn("run concluded without usable content",
		slog.String("run_id", pctx.RunID),
		slog.String("message", s.message),
	)
	return nil
}

func (s *warningStage) OutputKeys() []string { return []string{"summary_text"} }
