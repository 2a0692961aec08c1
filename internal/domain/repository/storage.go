package repository

import (
	"context"

	"github.com/hszk-dev/sumcache/internal/domain/model"
)

// ChunkReader yields the next chunk of an upload body, at most max bytes.
// It returns an empty slice (or io.EOF) when the body is exhausted.
type ChunkReader func(max int) ([]byte, error)

// FileStorage defines the interface for streamed upload ingest and
// retrieval. Implementations should be provided by the infrastructure
// layer (local disk).
type FileStorage interface {
	// SaveStream ingests an upload in chunks: validates the type from the
	// filename and content type, enforces the size cap with partial
	// cleanup, computes a running SHA-256, and persists the record.
	// Returns ErrUnsupportedType, ErrTooLarge, ErrEmptyUpload or
	// ErrTimedOut on ingest failure.
	SaveStream(ctx context.Context, read ChunkReader, originalName, contentType string) (*model.Upload, error)

	// Get returns the upload for a file_id. Expired records and records
	// whose stored file is missing are purged and reported as
	// ErrUploadNotFound.
	Get(ctx context.Context, fileID string) (*model.Upload, error)

	// GetByHash returns the first unexpired upload with the given content
	// hash, or ErrUploadNotFound.
	GetByHash(ctx context.Context, fileHash string) (*model.Upload, error)

	// Delete removes the physical file and the record.
	Delete(ctx context.Context, fileID string) error

	// CleanupExpired removes all expired uploads and returns the count.
	CleanupExpired(ctx context.Context) (int, error)

	// List returns all unexpired upload records.
	List(ctx context.Context) ([]*model.Upload, error)
}
