package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/sumcache/internal/cachekey"
	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
)

// SubmitInput identifies a source to summarize. Exactly one of SourceURL,
// FileID or FileHash must be set, matching the SourceType.
type SubmitInput struct {
	SourceType model.SourceType
	SourceURL  string
	FileID     string
	FileHash   string
	RequestID  string

	// Refresh forces regeneration even when a completed entry exists.
	Refresh bool
}

// SubmitResult reports what the submission resolved to: a served summary,
// an already in-flight job, or a freshly enqueued one.
type SubmitResult struct {
	Status      string
	CacheKey    string
	JobID       string
	SourceName  string
	SummaryText string
	Error       string

	// Enqueued is true when this call created and queued a new job.
	Enqueued bool
}

// SummaryService is the submission front of the cache: serve a completed
// summary when one exists, otherwise hand the work to the job queue.
type SummaryService interface {
	Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error)
}

type summaryService struct {
	cache   CacheService
	uploads repository.FileStorage
	queue   repository.JobQueue
	sfGroup singleflight.Group
	logger  *slog.Logger
}

var _ SummaryService = (*summaryService)(nil)

// NewSummaryService creates the submission service.
func NewSummaryService(
	cache CacheService,
	uploads repository.FileStorage,
	queue repository.JobQueue,
	logger *slog.Logger,
) SummaryService {
	return &summaryService{
		cache:   cache,
		uploads: uploads,
		queue:   queue,
		logger:  logger,
	}
}

// Submit resolves the source, serves a cache hit when possible, and
// otherwise enqueues a generation job. Concurrent submissions for the same
// cache key are coalesced so only one of them walks the
// get-or-create-entry and create-job sequence.
func (s *summaryService) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	sourceName := ""
	if in.SourceType == model.SourceLocal && in.FileID != "" {
		upload, err := s.uploads.Get(ctx, in.FileID)
		if err != nil {
			if errors.Is(err, repository.ErrUploadNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to resolve upload: %w", err)
		}
		in.FileHash = upload.FileHash
		sourceName = upload.OriginalName
	}

	key, err := s.cache.Key(ctx, cachekey.SourceRefInput{
		SourceType: in.SourceType,
		SourceURL:  in.SourceURL,
		FileHash:   in.FileHash,
	})
	if err != nil {
		return nil, err
	}

	result, err, _ := s.sfGroup.Do(key, func() (any, error) {
		return s.submitKeyed(ctx, key, sourceName, in)
	})
	if err != nil {
		return nil, err
	}
	return result.(*SubmitResult), nil
}

func (s *summaryService) submitKeyed(ctx context.Context, cacheKey, sourceName string, in SubmitInput) (*SubmitResult, error) {
	lookup, err := s.cache.Lookup(ctx, LookupInput{
		SourceType: in.SourceType,
		SourceURL:  in.SourceURL,
		FileHash:   in.FileHash,
		Strict:     true,
	})
	if err != nil {
		return nil, err
	}

	if !in.Refresh {
		if lookup.Hit {
			return &SubmitResult{
				Status:      lookup.Status,
				CacheKey:    lookup.CacheKey,
				SourceName:  lookup.SourceName,
				SummaryText: lookup.SummaryText,
			}, nil
		}
		if lookup.Status == model.StatusPending.String() || lookup.Status == model.StatusRunning.String() {
			return &SubmitResult{
				Status:     lookup.Status,
				CacheKey:   lookup.CacheKey,
				SourceName: lookup.SourceName,
				JobID:      lookup.JobID,
			}, nil
		}
	}

	sourceRef, err := cachekey.SourceRef(cachekey.SourceRefInput{
		SourceType: in.SourceType,
		SourceURL:  in.SourceURL,
		FileHash:   in.FileHash,
	})
	if err != nil {
		return nil, err
	}

	entry, err := s.cache.GetOrCreateEntry(ctx, cacheKey, in.SourceType, sourceRef, sourceName)
	if err != nil {
		return nil, err
	}

	// a refresh or a retry of a failed run resets the row before queueing
	if entry.Status != model.StatusPending {
		if err := s.cache.UpdateStatus(ctx, cacheKey, model.StatusPending, "", ""); err != nil {
			return nil, err
		}
	}

	job, err := s.cache.CreateJob(ctx, cacheKey)
	if err != nil {
		return nil, err
	}

	summaryJob := repository.SummaryJob{
		JobID:      job.JobID,
		CacheKey:   cacheKey,
		SourceType: in.SourceType,
		SourceURL:  in.SourceURL,
		FileHash:   in.FileHash,
		RequestID:  in.RequestID,
	}
	if err := s.queue.Enqueue(ctx, summaryJob); err != nil {
		reason := fmt.Sprintf("failed to enqueue job: %v", err)
		if uerr := s.cache.UpdateJob(ctx, job.JobID, model.StatusFailed, reason); uerr != nil {
			s.logger.Error("failed to mark job failed after enqueue failure",
				slog.String("job_id", job.JobID),
				slog.String("error", uerr.Error()),
			)
		}
		if uerr := s.cache.UpdateStatus(ctx, cacheKey, model.StatusFailed, "", reason); uerr != nil {
			s.logger.Error("failed to mark entry failed after enqueue failure",
				slog.String("cache_key", cacheKey),
				slog.String("error", uerr.Error()),
			)
		}
		return nil, err
	}

	s.logger.Info("summary job enqueued",
		slog.String("job_id", job.JobID),
		slog.String("cache_key", cacheKey),
		slog.String("source_type", in.SourceType.String()),
		slog.String("request_id", in.RequestID),
	)

	return &SubmitResult{
		Status:   model.StatusPending.String(),
		CacheKey: cacheKey,
		JobID:    job.JobID,
		Enqueued: true,
	}, nil
}
