package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/renameio/v2"

	"github.com/hszk-dev/sumcache/internal/asr"
	"github.com/hszk-dev/sumcache/internal/bundle"
	"github.com/hszk-dev/sumcache/internal/cachekey"
	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
	"github.com/hszk-dev/sumcache/internal/media"
	"github.com/hszk-dev/sumcache/internal/pipeline"
	"github.com/hszk-dev/sumcache/internal/pipeline/stage"
)

const workerVTT = "WEBVTT\n\n" +
	"00:00:00.000 --> 00:00:20.000\n大家好，欢迎收看本期节目。\n\n" +
	"00:00:20.000 --> 00:00:40.000\n今天我们讨论缓存设计的取舍。\n"

type workerMetadata struct {
	meta *media.Metadata
	err  error
}

func (f *workerMetadata) FetchMetadata(context.Context, string) (*media.Metadata, error) {
	return f.meta, f.err
}

type workerSubtitles struct {
	content string
	err     error
}

func (f *workerSubtitles) FetchSubtitle(_ context.Context, _ string, destPath string) error {
	if f.err != nil {
		return f.err
	}
	return renameio.WriteFile(destPath, []byte(f.content), 0o644)
}

type workerDownloader struct{}

func (f *workerDownloader) DownloadVideo(_ context.Context, _, destDir string) (string, error) {
	path := filepath.Join(destDir, "source.mp4")
	return path, os.WriteFile(path, []byte("video-bytes"), 0o644)
}

type workerProber struct{ info *media.Info }

func (f *workerProber) Probe(context.Context, string) (*media.Info, error) {
	return f.info, nil
}

type workerExtractor struct{}

func (f *workerExtractor) ExtractAudio(_ context.Context, _, outputPath string, _ int) error {
	return os.WriteFile(outputPath, []byte("pcm"), 0o644)
}

type workerEngine struct {
	data *asr.Data
	err  error
}

func (f *workerEngine) Transcribe(context.Context, string) (*asr.Data, error) {
	return f.data, f.err
}

type workerLLM struct {
	summary string
	err     error
}

func (f *workerLLM) Summarize(context.Context, string) (string, error) {
	return f.summary, f.err
}

// workerFixture wires a JobWorker over an in-memory entry/job table, real
// bundles, and fake stage dependencies.
type workerFixture struct {
	worker  *JobWorker
	bundles *bundle.Manager
	table   map[string]*model.CacheEntry
	jobs    map[string]*model.Job
}

func newWorkerFixture(t *testing.T, deps stage.Deps, uploads *mockFileStorage) *workerFixture {
	t.Helper()
	root := t.TempDir()
	bundles := bundle.NewManager(filepath.Join(root, "cache"), filepath.Join(root, "tmp"))
	table := map[string]*model.CacheEntry{}
	jobTable := map[string]*model.Job{}

	entries := &mockEntryRepository{
		getByKeyFn: func(_ context.Context, key string) (*model.CacheEntry, error) {
			entry, ok := table[key]
			if !ok {
				return nil, repository.ErrEntryNotFound
			}
			return entry, nil
		},
		updateFn: func(_ context.Context, key string, upd repository.EntryUpdate) error {
			entry, ok := table[key]
			if !ok {
				return repository.ErrEntryNotFound
			}
			if upd.Status != nil {
				entry.Status = *upd.Status
			}
			if upd.SummaryText != nil {
				entry.SummaryText = *upd.SummaryText
			}
			if upd.Error != nil {
				entry.Error = *upd.Error
			}
			entry.UpdatedAt = time.Now()
			return nil
		},
	}
	jobRepo := &mockJobRepository{
		updateFn: func(_ context.Context, jobID string, status model.Status, errMsg string) error {
			job, ok := jobTable[jobID]
			if !ok {
				return repository.ErrJobNotFound
			}
			job.Status = status
			job.Error = errMsg
			return nil
		},
	}

	keys := cachekey.NewService(nil, discardLogger())
	cacheSvc := NewCacheService(entries, jobRepo, keys, bundles, testProfileVersion, discardLogger())

	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	deps.LLMModel = "gpt-4o-mini"
	deps.ProfileVersion = testProfileVersion
	registry := stage.NewRegistry(deps)

	worker := NewJobWorker(cacheSvc, uploads, bundles, registry, pipeline.DefaultThresholds(), testProfileVersion, discardLogger())
	return &workerFixture{worker: worker, bundles: bundles, table: table, jobs: jobTable}
}

func (f *workerFixture) seed(cacheKey string, sourceType model.SourceType) {
	now := time.Now()
	f.table[cacheKey] = &model.CacheEntry{
		CacheKey:       cacheKey,
		SourceType:     sourceType,
		Status:         model.StatusPending,
		ProfileVersion: testProfileVersion,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.jobs["j_test"] = &model.Job{JobID: "j_test", CacheKey: cacheKey, Status: model.StatusPending}
}

func urlJob(cacheKey string) repository.SummaryJob {
	return repository.SummaryJob{
		JobID:      "j_test",
		CacheKey:   cacheKey,
		SourceType: model.SourceURL,
		SourceURL:  "https://example.com/v",
		RequestID:  "req_test",
	}
}

func TestProcess_URLSubtitleFlowPublishesBundle(t *testing.T) {
	deps := stage.Deps{
		Metadata: &workerMetadata{meta: &media.Metadata{
			Title:       "缓存设计漫谈",
			DurationSec: 60,
			SubtitleURL: "https://example.com/sub.vtt",
			SubtitleExt: "vtt",
		}},
		Subtitles: &workerSubtitles{content: workerVTT},
		LLM:       &workerLLM{summary: "这是一段生成的摘要。"},
	}
	f := newWorkerFixture(t, deps, &mockFileStorage{})
	f.seed("k1", model.SourceURL)

	f.worker.Process(context.Background(), urlJob("k1"))

	entry := f.table["k1"]
	if entry.Status != model.StatusCompleted {
		t.Fatalf("entry status = %q (error %q), want completed", entry.Status, entry.Error)
	}
	if entry.SummaryText != "这是一段生成的摘要。" {
		t.Errorf("entry summary = %q", entry.SummaryText)
	}
	if f.jobs["j_test"].Status != model.StatusCompleted {
		t.Errorf("job status = %q, want completed", f.jobs["j_test"].Status)
	}

	manifest, err := f.bundles.ReadManifest("k1", model.SourceURL)
	if err != nil {
		t.Fatalf("published bundle has no manifest: %v", err)
	}
	if manifest.Status != model.StatusCompleted {
		t.Errorf("manifest status = %q, want completed", manifest.Status)
	}
	if manifest.ProfileVersion != testProfileVersion {
		t.Errorf("manifest profile = %q, want %q", manifest.ProfileVersion, testProfileVersion)
	}
	if manifest.SourceName != "缓存设计漫谈" {
		t.Errorf("manifest source_name = %q, want the fetched title", manifest.SourceName)
	}
	for _, kind := range []string{"subtitle", "asr", "summary"} {
		if _, ok := manifest.Artifacts[kind]; !ok {
			t.Errorf("manifest is missing the %s artifact", kind)
		}
		if manifest.Artifacts[kind].SHA256 == "" {
			t.Errorf("%s artifact has no hash", kind)
		}
	}

	dir := f.bundles.BundleDir(model.SourceURL, "k1")
	for _, name := range []string{bundle.SourceFileName, bundle.SummaryFileName, bundle.ASRFileName, "subtitle.vtt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("published bundle is missing %s", name)
		}
	}
	if _, err := os.Stat(f.bundles.TmpDir("j_test")); !errors.Is(err, os.ErrNotExist) {
		t.Error("tmp dir should be gone after finalize")
	}

	// the published bundle must satisfy the strict read path
	if f.table["k1"].Error != "" {
		t.Errorf("completed entry carries error %q", f.table["k1"].Error)
	}
}

func TestProcess_LocalSubtitleInvalidFails(t *testing.T) {
	subtitlePath := filepath.Join(t.TempDir(), "broken.srt")
	if err := os.WriteFile(subtitlePath, []byte("not a subtitle"), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}

	uploads := &mockFileStorage{
		getByHashFn: func(_ context.Context, _ string) (*model.Upload, error) {
			return &model.Upload{
				FileID:       "f_1",
				OriginalName: "broken.srt",
				FileType:     model.FileSubtitle,
				FileHash:     "hash1",
				StoredPath:   subtitlePath,
				TTLSeconds:   3600,
			}, nil
		},
	}
	deps := stage.Deps{LLM: &workerLLM{summary: "不应被调用"}}
	f := newWorkerFixture(t, deps, uploads)
	f.seed("k1", model.SourceLocal)

	f.worker.Process(context.Background(), repository.SummaryJob{
		JobID:      "j_test",
		CacheKey:   "k1",
		SourceType: model.SourceLocal,
		FileHash:   "hash1",
	})

	entry := f.table["k1"]
	if entry.Status != model.StatusFailed {
		t.Fatalf("entry status = %q, want failed", entry.Status)
	}
	if entry.Error != "subtitle_invalid" {
		t.Errorf("entry error = %q, want subtitle_invalid", entry.Error)
	}
	if _, err := os.Stat(f.bundles.TmpDir("j_test")); !errors.Is(err, os.ErrNotExist) {
		t.Error("tmp dir should be cleaned on failure")
	}
	if _, err := f.bundles.ReadManifest("k1", model.SourceLocal); err == nil {
		t.Error("no bundle may be published for a failed run")
	}
}

func TestProcess_LLMFailureRecordsCause(t *testing.T) {
	deps := stage.Deps{
		Metadata: &workerMetadata{meta: &media.Metadata{
			DurationSec: 60,
			SubtitleURL: "https://example.com/sub.vtt",
			SubtitleExt: "vtt",
		}},
		Subtitles: &workerSubtitles{content: workerVTT},
		LLM:       &workerLLM{err: errors.New("model overloaded")},
	}
	f := newWorkerFixture(t, deps, &mockFileStorage{})
	f.seed("k1", model.SourceURL)

	f.worker.Process(context.Background(), urlJob("k1"))

	entry := f.table["k1"]
	if entry.Status != model.StatusFailed {
		t.Fatalf("entry status = %q, want failed", entry.Status)
	}
	if entry.Error != "model overloaded" {
		t.Errorf("entry error = %q, want the summarization cause", entry.Error)
	}
	if entry.SummaryText != "" {
		t.Errorf("failed entry must not keep a summary, got %q", entry.SummaryText)
	}
}

func TestProcess_NoEntryStillRecordsJobFailure(t *testing.T) {
	deps := stage.Deps{LLM: &workerLLM{summary: "x"}}
	f := newWorkerFixture(t, deps, &mockFileStorage{})
	f.jobs["j_test"] = &model.Job{JobID: "j_test", CacheKey: "missing", Status: model.StatusPending}

	f.worker.Process(context.Background(), repository.SummaryJob{
		JobID:      "j_test",
		CacheKey:   "missing",
		SourceType: model.SourceURL,
		SourceURL:  "https://example.com/v",
	})

	if f.jobs["j_test"].Status != model.StatusFailed {
		t.Errorf("job status = %q, want failed", f.jobs["j_test"].Status)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	long := strings.Repeat("错", 200) // 600 bytes
	got := truncate(long)

	if len(got) > maxErrorLen {
		t.Fatalf("truncated length %d exceeds cap %d", len(got), maxErrorLen)
	}
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a multi-byte rune")
	}
	if want := strings.Repeat("错", 166); got != want {
		t.Errorf("expected %d whole runes, got %d", 166, utf8.RuneCountInString(got))
	}

	short := "总结生成失败: 模型服务超时"
	if truncate(short) != short {
		t.Error("short messages must pass through unchanged")
	}
}
