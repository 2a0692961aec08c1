package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hszk-dev/sumcache/internal/bundle"
	"github.com/hszk-dev/sumcache/internal/cachekey"
	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
	"github.com/hszk-dev/sumcache/internal/infrastructure/metrics"
	"github.com/hszk-dev/sumcache/internal/pipeline"
	"github.com/hszk-dev/sumcache/internal/pipeline/stage"
)

// maxErrorLen bounds the error text persisted on jobs and cache entries.
const maxErrorLen = 500

// Terminal failure reasons recorded by the worker's publication checks.
const (
	failSubtitleInvalid = "subtitle_invalid"
	failSummaryInvalid  = "summary_invalid"
	failProfileMismatch = "summary_profile_version_mismatch"
	failBundleFinalize  = "bundle_finalize_failed"
)

// artifactKinds are discovered in the tmp dir at manifest build time.
var artifactKinds = []string{"video", "audio", "subtitle", "asr", "summary"}

// JobWorker executes summary jobs end to end: run the pipeline into a tmp
// dir, validate the result, publish the bundle atomically, and record the
// terminal state. It implements repository.JobProcessor.
type JobWorker struct {
	cache          CacheService
	uploads        repository.FileStorage
	bundles        *bundle.Manager
	registry       *pipeline.Registry
	thresholds     pipeline.Thresholds
	profileVersion string
	logger         *slog.Logger
}

var _ repository.JobProcessor = (*JobWorker)(nil)

// NewJobWorker creates the worker-side job processor.
func NewJobWorker(
	cache CacheService,
	uploads repository.FileStorage,
	bundles *bundle.Manager,
	registry *pipeline.Registry,
	thresholds pipeline.Thresholds,
	profileVersion string,
	logger *slog.Logger,
) *JobWorker {
	return &JobWorker{
		cache:          cache,
		uploads:        uploads,
		bundles:        bundles,
		registry:       registry,
		thresholds:     thresholds,
		profileVersion: profileVersion,
		logger:         logger,
	}
}

// Process runs one job to its terminal state. Errors are persisted on the
// job and cache entry; nothing propagates to the queue.
func (w *JobWorker) Process(ctx context.Context, job repository.SummaryJob) {
	log := w.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("cache_key", job.CacheKey),
		slog.String("source_type", job.SourceType.String()),
		slog.String("request_id", job.RequestID),
	)

	summaryText, reason := w.run(ctx, job, log)
	if reason != "" {
		if err := w.bundles.CleanupTmp(job.JobID); err != nil {
			log.Warn("failed to clean tmp dir", slog.String("error", err.Error()))
		}
		w.finish(ctx, job, model.StatusFailed, "", truncate(reason), log)
		metrics.JobsTotal.WithLabelValues(model.StatusFailed.String()).Inc()
		return
	}

	w.finish(ctx, job, model.StatusCompleted, summaryText, "", log)
	metrics.JobsTotal.WithLabelValues(model.StatusCompleted.String()).Inc()
}

// run executes the job body. An empty reason means success; otherwise the
// reason is the terminal error text.
func (w *JobWorker) run(ctx context.Context, job repository.SummaryJob, log *slog.Logger) (summaryText, reason string) {
	if err := w.cache.UpdateJob(ctx, job.JobID, model.StatusRunning, ""); err != nil {
		return "", fmt.Sprintf("failed to mark job running: %v", err)
	}
	if err := w.cache.UpdateStatus(ctx, job.CacheKey, model.StatusRunning, "", ""); err != nil {
		return "", fmt.Sprintf("failed to mark entry running: %v", err)
	}

	var tmpDir string
	if err := step(log, "create_tmp_dir", func() error {
		var err error
		tmpDir, err = w.bundles.CreateTmpDir(job.JobID)
		return err
	}); err != nil {
		return "", err.Error()
	}

	pctx := pipeline.NewContext(w.thresholds)
	pctx.SourceType = job.SourceType.String()
	pctx.SourceURL = job.SourceURL
	pctx.BundleDir = tmpDir

	if job.SourceType == model.SourceLocal {
		if err := step(log, "prepare_local_input", func() error {
			return w.prepareLocalInput(ctx, job.FileHash, tmpDir, pctx)
		}); err != nil {
			return "", err.Error()
		}
	}

	var cfg pipeline.Config
	if job.SourceType == model.SourceURL {
		cfg = stage.URLFlowConfig()
	} else {
		cfg = stage.LocalFlowConfig("")
	}

	graph, err := pipeline.NewGraph(cfg)
	if err != nil {
		return "", fmt.Sprintf("failed to build graph: %v", err)
	}
	runner, err := pipeline.NewRunner(graph, w.registry, log)
	if err != nil {
		return "", fmt.Sprintf("failed to build runner: %v", err)
	}
	runner.WithObserver(func(nodeID, status string, elapsed time.Duration) {
		metrics.StageDurationSeconds.WithLabelValues(nodeID, status).Observe(elapsed.Seconds())
	})

	if err := step(log, "run_pipeline", func() error {
		return runner.Run(ctx, pctx)
	}); err != nil {
		return "", err.Error()
	}

	// an uploaded subtitle that fails validation has nothing to fall back to
	if pctx.LocalInputType == model.FileSubtitle.String() && !pctx.SubtitleValid {
		return "", failSubtitleInvalid
	}

	if !model.IsSummaryTextValid(pctx.SummaryText) {
		return "", sentinelReason(pctx)
	}

	artifact, err := readSummaryArtifact(tmpDir)
	if err != nil {
		return "", err.Error()
	}
	if artifact.ProfileVersion != w.profileVersion {
		return "", failProfileMismatch
	}

	if err := step(log, "write_bundle_manifest", func() error {
		return w.writeBundleManifest(ctx, job, tmpDir, pctx)
	}); err != nil {
		return "", err.Error()
	}

	if err := step(log, "finalize_bundle", func() error {
		return w.bundles.FinalizeFromTmp(job.JobID, job.CacheKey, job.SourceType)
	}); err != nil {
		log.Error("bundle finalize failed", slog.String("error", err.Error()))
		return "", failBundleFinalize
	}

	return pctx.SummaryText, ""
}

// prepareLocalInput stages the uploaded file into the tmp dir under its
// canonical artifact name and wires the matching context fields.
func (w *JobWorker) prepareLocalInput(ctx context.Context, fileHash, tmpDir string, pctx *pipeline.Context) error {
	upload, err := w.uploads.GetByHash(ctx, fileHash)
	if err != nil {
		return fmt.Errorf("failed to resolve upload by hash: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(upload.OriginalName))
	if ext == "" {
		switch upload.FileType {
		case model.FileVideo:
			ext = ".mp4"
		case model.FileAudio:
			ext = ".wav"
		default:
			ext = ".vtt"
		}
	}

	dest := filepath.Join(tmpDir, upload.FileType.String()+ext)
	if err := copyLocalFile(upload.StoredPath, dest); err != nil {
		return fmt.Errorf("failed to stage upload: %w", err)
	}

	pctx.LocalInputType = upload.FileType.String()
	switch upload.FileType {
	case model.FileVideo:
		pctx.VideoPath = dest
	case model.FileAudio:
		pctx.AudioPath = dest
	case model.FileSubtitle:
		pctx.SubtitlePath = dest
	}
	return nil
}

// writeBundleManifest discovers artifacts in the tmp dir, hashes them, and
// writes the completed manifest plus source.json alongside them.
func (w *JobWorker) writeBundleManifest(ctx context.Context, job repository.SummaryJob, tmpDir string, pctx *pipeline.Context) error {
	sourceRef, err := cachekey.SourceRef(cachekey.SourceRefInput{
		SourceType: job.SourceType,
		SourceURL:  job.SourceURL,
		FileHash:   job.FileHash,
	})
	if err != nil {
		return err
	}

	sourceName := ""
	if entry, err := w.cache.GetEntry(ctx, job.CacheKey); err == nil {
		sourceName = entry.SourceName
	}
	if sourceName == "" {
		if title, ok := pctx.Extra["video_title"].(string); ok {
			sourceName = title
		}
	}

	manifest := bundle.NewManifest(job.CacheKey, job.SourceType, sourceRef)
	manifest.ProfileVersion = w.profileVersion
	manifest.SourceName = sourceName
	manifest.Status = model.StatusCompleted
	manifest.SummaryText = pctx.SummaryText

	for _, kind := range artifactKinds {
		path := bundle.FindArtifact(tmpDir, kind)
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat artifact %s: %w", kind, err)
		}
		hash, err := cachekey.HashFile(path)
		if err != nil {
			return fmt.Errorf("failed to hash artifact %s: %w", kind, err)
		}
		manifest.Artifacts[kind] = bundle.ArtifactInfo{
			Path:   filepath.Base(path),
			Size:   info.Size(),
			SHA256: hash,
		}
	}

	if err := w.bundles.WriteSource(tmpDir, bundle.SourceInfo{
		SourceType: job.SourceType,
		SourceRef:  sourceRef,
		SourceName: sourceName,
	}); err != nil {
		return err
	}
	return w.bundles.WriteManifest(job.CacheKey, job.SourceType, manifest, tmpDir)
}

// finish records the terminal state on the cache entry and the job row.
func (w *JobWorker) finish(ctx context.Context, job repository.SummaryJob, status model.Status, summaryText, errMsg string, log *slog.Logger) {
	if err := w.cache.UpdateStatus(ctx, job.CacheKey, status, summaryText, errMsg); err != nil {
		log.Error("failed to record entry terminal state", slog.String("error", err.Error()))
	}
	if err := w.cache.UpdateJob(ctx, job.JobID, status, errMsg); err != nil {
		log.Error("failed to record job terminal state", slog.String("error", err.Error()))
	}
	log.Info("job finished",
		slog.String("status", status.String()),
		slog.String("error", errMsg),
	)
}

// sentinelReason maps a sentinel or empty summary to the terminal error
// detail: the stage-recorded cause when present, then the sentinel text
// itself, then a generic marker.
func sentinelReason(pctx *pipeline.Context) string {
	if detail, ok := pctx.Extra["summary_error"].(string); ok && detail != "" {
		return detail
	}
	if stripped := strings.TrimSpace(pctx.SummaryText); stripped != "" {
		return stripped
	}
	return failSummaryInvalid
}

// step runs fn with start/done/failed logging and elapsed_ms.
func step(log *slog.Logger, name string, fn func() error) error {
	log.Info("step start", slog.String("step", name))
	start := time.Now()
	err := fn()
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		log.Error("step failed",
			slog.String("step", name),
			slog.Int64("elapsed_ms", elapsed),
			slog.String("error", err.Error()),
		)
		return err
	}
	log.Info("step done",
		slog.String("step", name),
		slog.Int64("elapsed_ms", elapsed),
	)
	return nil
}

// truncate caps an error message without splitting a multi-byte rune.
func truncate(s string) string {
	if len(s) <= maxErrorLen {
		return s
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func copyLocalFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
