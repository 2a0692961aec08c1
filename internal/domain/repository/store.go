package repository

import (
	"context"
	"time"

	"github.com/hszk-dev/sumcache/internal/domain/model"
)

// UploadRepository persists upload metadata records.
// Implementations should be provided by the infrastructure layer.
type UploadRepository interface {
	// Upsert inserts the record or overwrites an existing row with the
	// same file_id.
	Upsert(ctx context.Context, upload *model.Upload) error

	// GetByID returns a single upload record.
	// Returns ErrUploadNotFound when no row exists.
	GetByID(ctx context.Context, fileID string) (*model.Upload, error)

	// ListByHash returns all records with the given content hash, newest
	// first. Expiry filtering is the caller's concern.
	ListByHash(ctx context.Context, fileHash string) ([]*model.Upload, error)

	// List returns all upload records.
	List(ctx context.Context) ([]*model.Upload, error)

	// Delete removes the record. Deleting a missing row is not an error.
	Delete(ctx context.Context, fileID string) error
}

// EntryUpdate carries the fields of a cache entry to change. Nil fields are
// left untouched; updated_at is always refreshed.
type EntryUpdate struct {
	Status         *model.Status
	SummaryText    *string
	BundlePath     *string
	Error          *string
	ProfileVersion *string
	SourceName     *string
	LastAccessed   *time.Time
}

// EntryFilter narrows List results.
type EntryFilter struct {
	Status     model.Status
	SourceType model.SourceType
	Limit      int
}

// CacheEntryRepository persists cache entries.
type CacheEntryRepository interface {
	// Create inserts a new entry. Returns ErrDuplicateEntry on key conflict.
	Create(ctx context.Context, entry *model.CacheEntry) error

	// GetByKey returns the entry for a cache key.
	// Returns ErrEntryNotFound when no row exists.
	GetByKey(ctx context.Context, cacheKey string) (*model.CacheEntry, error)

	// Update applies the non-nil fields of upd.
	Update(ctx context.Context, cacheKey string, upd EntryUpdate) error

	// Touch refreshes last_accessed for LRU accounting.
	Touch(ctx context.Context, cacheKey string) error

	// Delete removes the entry and its job rows.
	Delete(ctx context.Context, cacheKey string) error

	// List returns entries matching the filter, newest update first.
	List(ctx context.Context, filter EntryFilter) ([]*model.CacheEntry, error)

	// ListIdle returns entries ordered by ascending
	// COALESCE(last_accessed, updated_at): the least recently used first.
	// Used by the GC size and TTL sweeps.
	ListIdle(ctx context.Context) ([]*model.CacheEntry, error)
}

// JobRepository persists job records.
type JobRepository interface {
	// Create inserts a new job row.
	Create(ctx context.Context, job *model.Job) error

	// GetByID returns a job record.
	// Returns ErrJobNotFound when no row exists.
	GetByID(ctx context.Context, jobID string) (*model.Job, error)

	// LatestForKey returns the newest job for a cache key, or
	// ErrJobNotFound when the key has none.
	LatestForKey(ctx context.Context, cacheKey string) (*model.Job, error)

	// Update changes the job's status and/or error message.
	Update(ctx context.Context, jobID string, status model.Status, errMsg string) error
}
