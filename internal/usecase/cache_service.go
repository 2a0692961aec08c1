package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hszk-dev/sumcache/internal/bundle"
	"github.com/hszk-dev/sumcache/internal/cachekey"
	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
	"github.com/hszk-dev/sumcache/internal/infrastructure/metrics"
)

// StatusNotFound is the lookup status for keys without an entry.
const StatusNotFound = "not_found"

// Demotion reasons recorded when a completed entry fails strict validation.
const (
	ReasonCacheStatusInvalid     = "cache_status_invalid"
	ReasonSummaryTextInvalid     = "summary_text_invalid"
	ReasonBundleManifestMissing  = "bundle_manifest_missing"
	ReasonProfileVersionMismatch = "profile_version_mismatch"
	ReasonBundleStatusInvalid    = "bundle_status_invalid"
	ReasonSummaryJSONInvalid     = "summary_json_invalid"
	ReasonSummaryTextMismatch    = "summary_text_mismatch"
)

// LookupInput identifies the source to query and the query semantics.
type LookupInput struct {
	SourceType model.SourceType
	SourceURL  string
	FileHash   string

	// Strict makes completed hits validate the on-disk bundle before
	// being served; invalid entries are demoted to failed.
	Strict bool

	// Touch refreshes last_accessed, feeding the LRU sweep. Read-only
	// surfaces disable it.
	Touch bool
}

// LookupResult is the outcome of one cache query.
type LookupResult struct {
	Hit         bool
	Status      string
	CacheKey    string
	SourceName  string
	SummaryText string
	BundlePath  string
	JobID       string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CacheService is the store-plus-bundle authority for cache entries and
// jobs. The store row leads; the bundle manifest follows it.
type CacheService interface {
	// Lookup resolves a source to its cache state. Incomplete or
	// unsupported sources yield a not_found result, not an error.
	Lookup(ctx context.Context, in LookupInput) (*LookupResult, error)

	// GetOrCreateEntry returns the entry for the key, creating a pending
	// one when absent. A profile version mismatch resets the entry to
	// pending with the current version.
	GetOrCreateEntry(ctx context.Context, cacheKey string, sourceType model.SourceType, sourceRef, sourceName string) (*model.CacheEntry, error)

	// GetEntry returns the entry or repository.ErrEntryNotFound.
	GetEntry(ctx context.Context, cacheKey string) (*model.CacheEntry, error)

	// UpdateStatus writes the status (and optional summary/error) to the
	// store, then mirrors it into the bundle manifest when one exists.
	UpdateStatus(ctx context.Context, cacheKey string, status model.Status, summaryText, errMsg string) error

	// Touch refreshes last_accessed for LRU accounting.
	Touch(ctx context.Context, cacheKey string) error

	// CreateJob inserts a pending job row for the key.
	CreateJob(ctx context.Context, cacheKey string) (*model.Job, error)

	// GetJob returns the job with its cache entry attached when available.
	GetJob(ctx context.Context, jobID string) (*model.Job, error)

	// UpdateJob changes a job's status and error message.
	UpdateJob(ctx context.Context, jobID string, status model.Status, errMsg string) error

	// Delete removes the entry row and its bundle directory.
	Delete(ctx context.Context, cacheKey string) error

	// ListEntries returns entries matching the filter.
	ListEntries(ctx context.Context, filter repository.EntryFilter) ([]*model.CacheEntry, error)

	// Key computes the cache key for a source.
	Key(ctx context.Context, in cachekey.SourceRefInput) (string, error)
}

type cacheService struct {
	entries        repository.CacheEntryRepository
	jobs           repository.JobRepository
	keys           *cachekey.Service
	bundles        *bundle.Manager
	profileVersion string
	logger         *slog.Logger
}

var _ CacheService = (*cacheService)(nil)

// NewCacheService creates the store-backed cache service.
func NewCacheService(
	entries repository.CacheEntryRepository,
	jobs repository.JobRepository,
	keys *cachekey.Service,
	bundles *bundle.Manager,
	profileVersion string,
	logger *slog.Logger,
) CacheService {
	return &cacheService{
		entries:        entries,
		jobs:           jobs,
		keys:           keys,
		bundles:        bundles,
		profileVersion: profileVersion,
		logger:         logger,
	}
}

func (s *cacheService) Key(ctx context.Context, in cachekey.SourceRefInput) (string, error) {
	return s.keys.Key(ctx, in)
}

func (s *cacheService) Lookup(ctx context.Context, in LookupInput) (*LookupResult, error) {
	key, err := s.keys.Key(ctx, cachekey.SourceRefInput{
		SourceType: in.SourceType,
		SourceURL:  in.SourceURL,
		FileHash:   in.FileHash,
	})
	if err != nil {
		return &LookupResult{Hit: false, Status: StatusNotFound, Error: err.Error()}, nil
	}

	entry, err := s.entries.GetByKey(ctx, key)
	if errors.Is(err, repository.ErrEntryNotFound) {
		metrics.CacheLookupsTotal.WithLabelValues(metrics.LookupMiss, in.SourceType.String()).Inc()
		return &LookupResult{Hit: false, Status: StatusNotFound, CacheKey: key}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if in.Touch {
		if err := s.entries.Touch(ctx, key); err != nil {
			s.logger.Warn("failed to touch cache entry",
				slog.String("cache_key", key),
				slog.String("error", err.Error()),
			)
		}
	}

	switch entry.Status {
	case model.StatusCompleted:
		if in.Strict {
			if reason := s.validateCompleted(entry); reason != "" {
				s.logger.Warn("cache entry demoted",
					slog.String("cache_key", key),
					slog.String("reason", reason),
				)
				if err := s.UpdateStatus(ctx, key, model.StatusFailed, "", reason); err != nil {
					s.logger.Error("failed to demote cache entry",
						slog.String("cache_key", key),
						slog.String("error", err.Error()),
					)
				}
				metrics.CacheLookupsTotal.WithLabelValues(metrics.LookupDemoted, in.SourceType.String()).Inc()
				return &LookupResult{
					Hit:        false,
					Status:     model.StatusFailed.String(),
					CacheKey:   key,
					SourceName: entry.SourceName,
					Error:      reason,
					CreatedAt:  entry.CreatedAt,
					UpdatedAt:  entry.UpdatedAt,
				}, nil
			}
		}
		metrics.CacheLookupsTotal.WithLabelValues(metrics.LookupHit, in.SourceType.String()).Inc()
		return &LookupResult{
			Hit:         true,
			Status:      model.StatusCompleted.String(),
			CacheKey:    key,
			SourceName:  entry.SourceName,
			SummaryText: entry.SummaryText,
			BundlePath:  entry.BundlePath,
			CreatedAt:   entry.CreatedAt,
			UpdatedAt:   entry.UpdatedAt,
		}, nil

	case model.StatusRunning, model.StatusPending:
		metrics.CacheLookupsTotal.WithLabelValues(metrics.LookupInFlight, in.SourceType.String()).Inc()
		result := &LookupResult{
			Hit:        false,
			Status:     entry.Status.String(),
			CacheKey:   key,
			SourceName: entry.SourceName,
			CreatedAt:  entry.CreatedAt,
			UpdatedAt:  entry.UpdatedAt,
		}
		if job, err := s.jobs.LatestForKey(ctx, key); err == nil {
			result.JobID = job.JobID
		}
		return result, nil

	case model.StatusFailed:
		// failed entries report as misses so the client may retry
		metrics.CacheLookupsTotal.WithLabelValues(metrics.LookupMiss, in.SourceType.String()).Inc()
		return &LookupResult{
			Hit:        false,
			Status:     model.StatusFailed.String(),
			CacheKey:   key,
			SourceName: entry.SourceName,
			Error:      entry.Error,
			CreatedAt:  entry.CreatedAt,
			UpdatedAt:  entry.UpdatedAt,
		}, nil
	}

	return &LookupResult{Hit: false, Status: StatusNotFound, CacheKey: key}, nil
}

// validateCompleted checks a completed entry against its bundle. An empty
// return means valid; anything else is the demotion reason.
func (s *cacheService) validateCompleted(entry *model.CacheEntry) string {
	if entry.Status != model.StatusCompleted {
		return ReasonCacheStatusInvalid
	}
	if !model.IsSummaryTextValid(entry.SummaryText) {
		return ReasonSummaryTextInvalid
	}

	manifest, err := s.bundles.ReadManifest(entry.CacheKey, entry.SourceType)
	if err != nil {
		return ReasonBundleManifestMissing
	}
	if manifest.ProfileVersion != s.profileVersion {
		return ReasonProfileVersionMismatch
	}
	if manifest.Status != model.StatusCompleted {
		return ReasonBundleStatusInvalid
	}

	artifact, reason := s.loadSummaryArtifact(entry.CacheKey, entry.SourceType)
	if reason != "" {
		return reason
	}
	if !model.IsSummaryTextValid(artifact.SummaryText) {
		return ReasonSummaryTextInvalid
	}
	if entry.SummaryText != "" &&
		strings.TrimSpace(artifact.SummaryText) != strings.TrimSpace(entry.SummaryText) {
		return ReasonSummaryTextMismatch
	}
	return ""
}

func (s *cacheService) loadSummaryArtifact(cacheKey string, sourceType model.SourceType) (*model.SummaryArtifact, string) {
	artifact, err := readSummaryArtifact(s.bundles.BundleDir(sourceType, cacheKey))
	if err != nil {
		return nil, ReasonSummaryJSONInvalid
	}
	if artifact.ProfileVersion != s.profileVersion {
		return nil, ReasonSummaryJSONInvalid
	}
	return artifact, ""
}

func (s *cacheService) GetOrCreateEntry(ctx context.Context, cacheKey string, sourceType model.SourceType, sourceRef, sourceName string) (*model.CacheEntry, error) {
	entry, err := s.entries.GetByKey(ctx, cacheKey)
	if err == nil {
		if entry.ProfileVersion != s.profileVersion {
			// stale profile: reset for regeneration under the new version
			pending := model.StatusPending
			empty := ""
			version := s.profileVersion
			upd := repository.EntryUpdate{
				Status:         &pending,
				SummaryText:    &empty,
				Error:          &empty,
				ProfileVersion: &version,
			}
			if err := s.entries.Update(ctx, cacheKey, upd); err != nil {
				return nil, fmt.Errorf("failed to reset cache entry: %w", err)
			}
			return s.entries.GetByKey(ctx, cacheKey)
		}
		if sourceName != "" && entry.SourceName == "" {
			upd := repository.EntryUpdate{SourceName: &sourceName}
			if err := s.entries.Update(ctx, cacheKey, upd); err != nil {
				return nil, fmt.Errorf("failed to update source name: %w", err)
			}
			return s.entries.GetByKey(ctx, cacheKey)
		}
		return entry, nil
	}
	if !errors.Is(err, repository.ErrEntryNotFound) {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	bundlePath := s.bundles.BundleDir(sourceType, cacheKey)
	created, err := model.NewCacheEntry(cacheKey, sourceType, sourceRef, sourceName, s.profileVersion, bundlePath)
	if err != nil {
		return nil, err
	}

	if err := s.entries.Create(ctx, created); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// lost the race to a concurrent submit
			return s.entries.GetByKey(ctx, cacheKey)
		}
		return nil, fmt.Errorf("failed to create cache entry: %w", err)
	}

	s.logger.Info("cache entry created",
		slog.String("cache_key", cacheKey),
		slog.String("source_type", sourceType.String()),
	)
	return created, nil
}

func (s *cacheService) GetEntry(ctx context.Context, cacheKey string) (*model.CacheEntry, error) {
	return s.entries.GetByKey(ctx, cacheKey)
}

func (s *cacheService) UpdateStatus(ctx context.Context, cacheKey string, status model.Status, summaryText, errMsg string) error {
	upd := repository.EntryUpdate{Status: &status}
	if summaryText != "" {
		upd.SummaryText = &summaryText
	}
	if errMsg != "" {
		upd.Error = &errMsg
	}
	if err := s.entries.Update(ctx, cacheKey, upd); err != nil {
		return fmt.Errorf("failed to update cache entry: %w", err)
	}

	// mirror into the bundle manifest when the bundle already exists
	entry, err := s.entries.GetByKey(ctx, cacheKey)
	if err != nil {
		return nil
	}
	manifest, err := s.bundles.ReadManifest(cacheKey, entry.SourceType)
	if err != nil {
		return nil
	}
	manifest.Status = status
	if summaryText != "" {
		manifest.SummaryText = summaryText
	}
	if errMsg != "" {
		manifest.Error = errMsg
	}
	if err := s.bundles.WriteManifest(cacheKey, entry.SourceType, manifest, ""); err != nil {
		s.logger.Warn("failed to mirror status into manifest",
			slog.String("cache_key", cacheKey),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (s *cacheService) Touch(ctx context.Context, cacheKey string) error {
	return s.entries.Touch(ctx, cacheKey)
}

func (s *cacheService) CreateJob(ctx context.Context, cacheKey string) (*model.Job, error) {
	job := model.NewJob(cacheKey)
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.logger.Info("job created",
		slog.String("job_id", job.JobID),
		slog.String("cache_key", cacheKey),
	)
	return job, nil
}

func (s *cacheService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if entry, err := s.entries.GetByKey(ctx, job.CacheKey); err == nil {
		job.Entry = entry
	}
	return job, nil
}

func (s *cacheService) UpdateJob(ctx context.Context, jobID string, status model.Status, errMsg string) error {
	return s.jobs.Update(ctx, jobID, status, errMsg)
}

func (s *cacheService) Delete(ctx context.Context, cacheKey string) error {
	entry, err := s.entries.GetByKey(ctx, cacheKey)
	if err != nil {
		return err
	}
	if err := s.bundles.DeleteBundle(cacheKey, entry.SourceType); err != nil {
		return fmt.Errorf("failed to delete bundle: %w", err)
	}
	if err := s.entries.Delete(ctx, cacheKey); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	s.logger.Info("cache entry deleted", slog.String("cache_key", cacheKey))
	return nil
}

func (s *cacheService) ListEntries(ctx context.Context, filter repository.EntryFilter) ([]*model.CacheEntry, error) {
	return s.entries.List(ctx, filter)
}
