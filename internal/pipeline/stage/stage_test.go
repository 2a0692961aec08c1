package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hszk-dev/sumcache/internal/asr"
	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/media"
	"github.com/hszk-dev/sumcache/internal/pipeline"
)

const sampleVTT = `WEBVTT

00:00.000 --> 00:15.000
大家好

00:15.000 --> 00:30.000
今天介绍缓存设计

00:30.000 --> 00:40.000
谢谢观看
`

type fakeMetadata struct {
	fn func(url string) (*media.Metadata, error)
}

func (f *fakeMetadata) FetchMetadata(_ context.Context, url string) (*media.Metadata, error) {
	return f.fn(url)
}

type fakeDownloader struct {
	fn func(url, destDir string) (string, error)
}

func (f *fakeDownloader) DownloadVideo(_ context.Context, url, destDir string) (string, error) {
	return f.fn(url, destDir)
}

type fakeSubtitles struct {
	content string
	err     error
}

func (f *fakeSubtitles) FetchSubtitle(_ context.Context, _, destPath string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(destPath, []byte(f.content), 0o644)
}

type fakeProber struct {
	info *media.Info
	err  error
}

func (f *fakeProber) Probe(_ context.Context, _ string) (*media.Info, error) {
	return f.info, f.err
}

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) ExtractAudio(_ context.Context, _, outputPath string, _ int) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outputPath, []byte("wav"), 0o644)
}

type fakeEngine struct {
	data *asr.Data
	err  error
}

func (f *fakeEngine) Transcribe(_ context.Context, _ string) (*asr.Data, error) {
	return f.data, f.err
}

type fakeLLM struct {
	summary string
	err     error
}

func (f *fakeLLM) Summarize(_ context.Context, _ string) (string, error) {
	return f.summary, f.err
}

func speechData(lines int) *asr.Data {
	segments := make([]asr.Segment, lines)
	for i := range segments {
		segments[i] = asr.Segment{
			StartMS: int64(i * 5000),
			EndMS:   int64(i*5000 + 4000),
			Text:    fmt.Sprintf("第%d句话的内容讲解", i+1),
		}
	}
	return asr.NewData(segments)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runFlow(t *testing.T, cfg pipeline.Config, deps Deps, pctx *pipeline.Context) error {
	t.Helper()
	g, err := pipeline.NewGraph(cfg)
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	r, err := pipeline.NewRunner(g, NewRegistry(deps), discardLogger())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r.Run(context.Background(), pctx)
}

func traceByNode(pctx *pipeline.Context) map[string]pipeline.TraceEvent {
	out := map[string]pipeline.TraceEvent{}
	for _, ev := range pctx.Trace {
		out[ev.NodeID] = ev
	}
	return out
}

func TestURLFlow_SubtitleWins(t *testing.T) {
	deps := Deps{
		Metadata: &fakeMetadata{fn: func(string) (*media.Metadata, error) {
			return &media.Metadata{
				Title:       "缓存设计",
				DurationSec: 60,
				SubtitleURL: "https://captions.example.com/t",
				SubtitleExt: "vtt",
			}, nil
		}},
		Subtitles:      &fakeSubtitles{content: sampleVTT},
		LLM:            &fakeLLM{summary: "本视频介绍了缓存设计。"},
		LLMModel:       "gpt-4o-mini",
		ProfileVersion: "v1",
		Logger:         discardLogger(),
	}

	pctx := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx.SourceType = "url"
	pctx.SourceURL = "https://example.com/v/1"
	pctx.BundleDir = t.TempDir()

	if err := runFlow(t, URLFlowConfig(), deps, pctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	trace := traceByNode(pctx)
	for _, id := range []string{"download_subtitle", "parse_subtitle", "validate_subtitle", "text_summarize"} {
		if trace[id].Status != pipeline.TraceCompleted {
			t.Errorf("%s = %s, want completed", id, trace[id].Status)
		}
	}
	for _, id := range []string{"download_video", "extract_audio", "transcribe"} {
		if trace[id].Status != pipeline.TraceSkipped {
			t.Errorf("%s = %s, want skipped", id, trace[id].Status)
		}
	}

	if !pctx.SubtitleValid {
		t.Error("subtitle should validate")
	}
	if pctx.SummaryText != "本视频介绍了缓存设计。" {
		t.Errorf("summary = %q", pctx.SummaryText)
	}

	// artifacts written to the bundle dir
	for _, name := range []string{"subtitle.vtt", "asr.json", "summary.json"} {
		if _, err := os.Stat(filepath.Join(pctx.BundleDir, name)); err != nil {
			t.Errorf("artifact %s missing: %v", name, err)
		}
	}
}

func TestURLFlow_SubtitleFallback(t *testing.T) {
	deps := Deps{
		Metadata: &fakeMetadata{fn: func(string) (*media.Metadata, error) {
			return &media.Metadata{Title: "无字幕视频", DurationSec: 60}, nil
		}},
		Downloader: &fakeDownloader{fn: func(_, destDir string) (string, error) {
			path := filepath.Join(destDir, "无字幕视频.mp4")
			if err := os.WriteFile(path, []byte("mp4"), 0o644); err != nil {
				return "", err
			}
			return path, nil
		}},
		Extractor:      &fakeExtractor{},
		Engine:         &fakeEngine{data: speechData(12)},
		LLM:            &fakeLLM{summary: "视频围绕一个主题展开讲解。"},
		LLMModel:       "gpt-4o-mini",
		ProfileVersion: "v1",
		Logger:         discardLogger(),
	}

	pctx := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx.SourceType = "url"
	pctx.SourceURL = "https://example.com/v/2"
	pctx.BundleDir = t.TempDir()

	if err := runFlow(t, URLFlowConfig(), deps, pctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	trace := traceByNode(pctx)
	for _, id := range []string{"download_video", "extract_audio", "transcribe", "text_summarize"} {
		if trace[id].Status != pipeline.TraceCompleted {
			t.Errorf("%s = %s, want completed", id, trace[id].Status)
		}
	}

	if pctx.SubtitleValid {
		t.Error("missing subtitle must not validate")
	}
	if pctx.VideoPath != filepath.Join(pctx.BundleDir, "video.mp4") {
		t.Errorf("video path = %q, want canonical artifact name", pctx.VideoPath)
	}
	if pctx.AudioPath == "" {
		t.Error("audio path should be set")
	}
	if pctx.TranscriptSegmentCount != 12 {
		t.Errorf("transcript segments = %d, want 12", pctx.TranscriptSegmentCount)
	}
	if pctx.SummaryText != "视频围绕一个主题展开讲解。" {
		t.Errorf("summary = %q", pctx.SummaryText)
	}
}

func TestLocalFlow_SilentAudio(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(audioPath, []byte("wav"), 0o644); err != nil {
		t.Fatal(err)
	}

	// two short utterances over ten minutes: far below the density floor
	sparse := asr.NewData([]asr.Segment{
		{StartMS: 0, EndMS: 1000, Text: "嗯"},
		{StartMS: 300000, EndMS: 301000, Text: "好"},
	})

	deps := Deps{
		Prober: &fakeProber{info: &media.Info{DurationSec: 600, HasAudio: true}},
		Engine: &fakeEngine{data: sparse},
		LLM:    &fakeLLM{summary: "should not be called"},
		Logger: discardLogger(),
	}

	pctx := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx.SourceType = "local"
	pctx.LocalInputType = "audio"
	pctx.AudioPath = audioPath
	pctx.BundleDir = t.TempDir()

	if err := runFlow(t, LocalFlowConfig(""), deps, pctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !pctx.IsSilent {
		t.Error("sparse transcript should be detected as silent")
	}

	trace := traceByNode(pctx)
	if trace["warning"].Status != pipeline.TraceCompleted {
		t.Errorf("warning = %s, want completed", trace["warning"].Status)
	}
	if trace["text_summarize"].Status != pipeline.TraceSkipped {
		t.Errorf("text_summarize = %s, want skipped", trace["text_summarize"].Status)
	}
	if pctx.SummaryText != DefaultWarningMessage {
		t.Errorf("summary = %q, want %q", pctx.SummaryText, DefaultWarningMessage)
	}
}

func TestLocalFlow_SubtitleUpload(t *testing.T) {
	dir := t.TempDir()
	subtitlePath := filepath.Join(dir, "subtitle.vtt")
	if err := os.WriteFile(subtitlePath, []byte(sampleVTT), 0o644); err != nil {
		t.Fatal(err)
	}

	deps := Deps{
		LLM:            &fakeLLM{summary: "字幕内容的总结。"},
		LLMModel:       "gpt-4o-mini",
		ProfileVersion: "v1",
		Logger:         discardLogger(),
	}

	pctx := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx.SourceType = "local"
	pctx.LocalInputType = "subtitle"
	pctx.SubtitlePath = subtitlePath
	pctx.BundleDir = dir

	if err := runFlow(t, LocalFlowConfig(""), deps, pctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	trace := traceByNode(pctx)
	for _, id := range []string{"parse_subtitle", "validate_subtitle", "text_summarize"} {
		if trace[id].Status != pipeline.TraceCompleted {
			t.Errorf("%s = %s, want completed", id, trace[id].Status)
		}
	}
	for _, id := range []string{"fetch_metadata", "transcribe", "detect_silence", "warning"} {
		if trace[id].Status != pipeline.TraceSkipped {
			t.Errorf("%s = %s, want skipped", id, trace[id].Status)
		}
	}
	// no duration available: coverage is assumed complete
	if !pctx.SubtitleValid || pctx.SubtitleCoverageRatio != 1.0 {
		t.Errorf("valid=%v coverage=%v, want assumed valid", pctx.SubtitleValid, pctx.SubtitleCoverageRatio)
	}
}

func TestValidateSubtitle_CoverageMath(t *testing.T) {
	// 40s covered of 120s with 3 segments: coverage 0.3333, density 1.5
	data := asr.NewData([]asr.Segment{
		{StartMS: 0, EndMS: 15000, Text: "一"},
		{StartMS: 20000, EndMS: 35000, Text: "二"},
		{StartMS: 40000, EndMS: 50000, Text: "三"},
	})

	s := &validateSubtitleStage{id: "validate_subtitle", deps: &Deps{Logger: discardLogger()}}

	pctx := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx.ASRData = data
	pctx.VideoDurationSec = 120

	if err := s.Run(context.Background(), pctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if pctx.SubtitleValid {
		t.Error("33% coverage must not validate at a 50% floor")
	}
	if pctx.SubtitleCoverageRatio != 0.3333 {
		t.Errorf("coverage = %v, want 0.3333", pctx.SubtitleCoverageRatio)
	}
	if pctx.SubtitleDensity != 1.5 {
		t.Errorf("density = %v, want 1.5", pctx.SubtitleDensity)
	}

	// same subtitle on a 60s video clears the floor
	pctx2 := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx2.ASRData = data
	pctx2.VideoDurationSec = 60
	if err := s.Run(context.Background(), pctx2); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !pctx2.SubtitleValid {
		t.Error("67% coverage should validate")
	}
}

func TestValidateSubtitle_NoData(t *testing.T) {
	s := &validateSubtitleStage{id: "validate_subtitle", deps: &Deps{Logger: discardLogger()}}

	pctx := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx.VideoDurationSec = 60

	if err := s.Run(context.Background(), pctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if pctx.SubtitleValid || pctx.SubtitleCoverageRatio != 0 {
		t.Errorf("valid=%v coverage=%v, want invalid with zero coverage",
			pctx.SubtitleValid, pctx.SubtitleCoverageRatio)
	}
}

func TestDetectSilence_EstimatedRMS(t *testing.T) {
	s := &detectSilenceStage{id: "detect_silence", deps: &Deps{Logger: discardLogger()}}

	// dense speech: 600 tokens over 10 minutes
	pctx := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx.VideoDurationSec = 600
	pctx.TranscriptTokenCount = 600

	if err := s.Run(context.Background(), pctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if pctx.IsSilent {
		t.Error("dense transcript should not be silent")
	}
	if pctx.TokensPerMinute != 60 {
		t.Errorf("tokens per minute = %v, want 60", pctx.TokensPerMinute)
	}
	if pctx.AudioRMS == nil || math.Abs(*pctx.AudioRMS-0.015) > 1e-12 {
		t.Errorf("estimated rms = %v, want 0.015", pctx.AudioRMS)
	}

	// sparse speech estimates below the silence threshold
	pctx2 := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx2.VideoDurationSec = 600
	pctx2.TranscriptTokenCount = 10

	if err := s.Run(context.Background(), pctx2); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !pctx2.IsSilent {
		t.Error("sparse transcript should be silent")
	}
	if pctx2.AudioRMS == nil || math.Abs(*pctx2.AudioRMS-0.009) > 1e-12 {
		t.Errorf("estimated rms = %v, want 0.009", pctx2.AudioRMS)
	}
}

func TestTextSummarize_NoTranscript(t *testing.T) {
	s := &textSummarizeStage{id: "text_summarize", deps: &Deps{
		LLM:    &fakeLLM{summary: "unused"},
		Logger: discardLogger(),
	}}

	pctx := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx.BundleDir = t.TempDir()

	if err := s.Run(context.Background(), pctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if pctx.SummaryText != NoTextSentinel {
		t.Errorf("summary = %q, want sentinel", pctx.SummaryText)
	}
	if _, err := os.Stat(filepath.Join(pctx.BundleDir, "summary.json")); !os.IsNotExist(err) {
		t.Error("no summary.json should be written without a transcript")
	}
}

func TestTextSummarize_LLMFailure(t *testing.T) {
	s := &textSummarizeStage{id: "text_summarize", deps: &Deps{
		LLM:    &fakeLLM{err: fmt.Errorf("model overloaded")},
		Logger: discardLogger(),
	}}

	pctx := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx.ASRData = speechData(3)
	pctx.BundleDir = t.TempDir()

	if err := s.Run(context.Background(), pctx); err != nil {
		t.Fatalf("sentinel path must not abort the run: %v", err)
	}
	if !strings.HasPrefix(pctx.SummaryText, SummaryFailedPrefix) {
		t.Errorf("summary = %q, want %q prefix", pctx.SummaryText, SummaryFailedPrefix)
	}
	if pctx.Extra["summary_error"] != "model overloaded" {
		t.Errorf("summary_error = %v", pctx.Extra["summary_error"])
	}
}

func TestTextSummarize_WritesArtifact(t *testing.T) {
	s := &textSummarizeStage{id: "text_summarize", deps: &Deps{
		LLM:            &fakeLLM{summary: "要点总结。"},
		LLMModel:       "gpt-4o-mini",
		MaxInputChars:  100000,
		ProfileVersion: "v3",
		Logger:         discardLogger(),
	}}

	pctx := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx.ASRData = speechData(3)
	pctx.BundleDir = t.TempDir()

	if err := s.Run(context.Background(), pctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(pctx.BundleDir, "summary.json"))
	if err != nil {
		t.Fatalf("summary.json missing: %v", err)
	}
	var artifact model.SummaryArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		t.Fatalf("summary.json invalid: %v", err)
	}
	if artifact.SummaryText != "要点总结。" || artifact.Model != "gpt-4o-mini" || artifact.ProfileVersion != "v3" {
		t.Errorf("artifact = %+v", artifact)
	}
	if artifact.InputChars == 0 {
		t.Error("input_chars should be recorded")
	}
}

func TestInputStage_Validation(t *testing.T) {
	s := &inputStage{id: "input", deps: &Deps{Logger: discardLogger()}}

	tests := []struct {
		name    string
		mutate  func(*pipeline.Context)
		wantErr bool
	}{
		{"url ok", func(p *pipeline.Context) {
			p.SourceType = "url"
			p.SourceURL = "https://example.com/v"
		}, false},
		{"url missing source", func(p *pipeline.Context) {
			p.SourceType = "url"
		}, true},
		{"local audio ok", func(p *pipeline.Context) {
			p.SourceType = "local"
			p.LocalInputType = "audio"
			p.AudioPath = "/tmp/a.wav"
		}, false},
		{"local missing path", func(p *pipeline.Context) {
			p.SourceType = "local"
			p.LocalInputType = "video"
		}, true},
		{"local bad type", func(p *pipeline.Context) {
			p.SourceType = "local"
			p.LocalInputType = "image"
		}, true},
		{"bad source type", func(p *pipeline.Context) {
			p.SourceType = "stream"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pctx := pipeline.NewContext(pipeline.DefaultThresholds())
			tt.mutate(pctx)
			err := s.Run(context.Background(), pctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestDownloadSubtitle_NeverFatal(t *testing.T) {
	pctx := pipeline.NewContext(pipeline.DefaultThresholds())
	pctx.SourceType = "url"
	pctx.SourceURL = "https://example.com/v/3"
	pctx.BundleDir = t.TempDir()

	s := &downloadSubtitleStage{id: "download_subtitle", deps: &Deps{
		Metadata: &fakeMetadata{fn: func(string) (*media.Metadata, error) {
			return nil, fmt.Errorf("geo blocked")
		}},
		Logger: discardLogger(),
	}}
	if err := s.Run(context.Background(), pctx); err != nil {
		t.Errorf("metadata failure should not abort: %v", err)
	}
	if pctx.SubtitlePath != "" {
		t.Errorf("subtitle path = %q, want empty", pctx.SubtitlePath)
	}

	s.deps = &Deps{
		Metadata: &fakeMetadata{fn: func(string) (*media.Metadata, error) {
			return &media.Metadata{SubtitleURL: "https://captions.example.com/t"}, nil
		}},
		Subtitles: &fakeSubtitles{err: fmt.Errorf("connection reset")},
		Logger:    discardLogger(),
	}
	if err := s.Run(context.Background(), pctx); err != nil {
		t.Errorf("fetch failure should not abort: %v", err)
	}
	if pctx.SubtitlePath != "" {
		t.Errorf("subtitle path = %q, want empty", pctx.SubtitlePath)
	}
}

func TestFetchMetadata_OutputKeysCoverProbedFields(t *testing.T) {
	s := &fetchMetadataStage{id: "fetch_metadata"}

	keys := map[string]bool{}
	for _, k := range s.OutputKeys() {
		keys[k] = true
	}
	for _, want := range []string{
		"video_duration", "video_width", "video_height",
		"video_fps", "video_bitrate", "video_title",
	} {
		if !keys[want] {
			t.Errorf("expected output key %q to be declared", want)
		}
	}
}
