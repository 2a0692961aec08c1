package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
)

// UploadRepository implements repository.UploadRepository using PostgreSQL.
type UploadRepository struct {
	db DBTX
}

// NewUploadRepository creates a new UploadRepository instance.
func NewUploadRepository(db DBTX) *UploadRepository {
	return &UploadRepository{db: db}
}

const uploadColumns = "file_id, original_name, size, mime_type, file_type, stored_path, file_hash, created_at, ttl_seconds"

// Upsert inserts an upload record, overwriting any existing row with the
// same file_id.
func (r *UploadRepository) Upsert(ctx context.Context, upload *model.Upload) error {
	const query = `
		INSERT INTO uploads (file_id, original_name, size, mime_type, file_type, stored_path, file_hash, created_at, ttl_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (file_id) DO UPDATE SET
			original_name = EXCLUDED.original_name,
			size = EXCLUDED.size,
			mime_type = EXCLUDED.mime_type,
			file_type = EXCLUDED.file_type,
			stored_path = EXCLUDED.stored_path,
			file_hash = EXCLUDED.file_hash,
			created_at = EXCLUDED.created_at,
			ttl_seconds = EXCLUDED.ttl_seconds
	`

	_, err := r.db.Exec(ctx, query,
		upload.FileID,
		upload.OriginalName,
		upload.Size,
		nullString(upload.MimeType),
		upload.FileType.String(),
		upload.StoredPath,
		nullString(upload.FileHash),
		upload.CreatedAt,
		upload.TTLSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert upload: %w", err)
	}

	return nil
}

// GetByID retrieves an upload record by file_id.
func (r *UploadRepository) GetByID(ctx context.Context, fileID string) (*model.Upload, error) {
	query := fmt.Sprintf(`SELECT %s FROM uploads WHERE file_id = $1`, uploadColumns)

	upload, err := scanUpload(r.db.QueryRow(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to get upload by ID: %w", err)
	}

	return upload, nil
}

// ListByHash retrieves all uploads with the given content hash, newest first.
func (r *UploadRepository) ListByHash(ctx context.Context, fileHash string) ([]*model.Upload, error) {
	query := fmt.Sprintf(`SELECT %s FROM uploads WHERE file_hash = $1 ORDER BY created_at DESC`, uploadColumns)

	rows, err := r.db.Query(ctx, query, fileHash)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads by hash: %w", err)
	}
	defer rows.Close()

	return collectUploads(rows)
}

// List retrieves all upload records.
func (r *UploadRepository) List(ctx context.Context) ([]*model.Upload, error) {
	query := fmt.Sprintf(`SELECT %s FROM uploads`, uploadColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	return collectUploads(rows)
}

// Delete removes an upload record. Deleting a missing row is not an error.
func (r *UploadRepository) Delete(ctx context.Context, fileID string) error {
	const query = `DELETE FROM uploads WHERE file_id = $1`

	if _, err := r.db.Exec(ctx, query, fileID); err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return nil
}

func collectUploads(rows pgx.Rows) ([]*model.Upload, error) {
	var uploads []*model.Upload
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, upload)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating uploads: %w", err)
	}

	return uploads, nil
}

func scanUpload(row pgx.Row) (*model.Upload, error) {
	var (
		upload   model.Upload
		fileType string
		mimeType *string
		fileHash *string
	)

	err := row.Scan(
		&upload.FileID,
		&upload.OriginalName,
		&upload.Size,
		&mimeType,
		&fileType,
		&upload.StoredPath,
		&fileHash,
		&upload.CreatedAt,
		&upload.TTLSeconds,
	)
	if err != nil {
		return nil, err
	}

	upload.FileType = model.FileType(fileType)
	if mimeType != nil {
		upload.MimeType = *mimeType
	}
	if fileHash != nil {
		upload.FileHash = *fileHash
	}

	return &upload, nil
}

// nullString returns nil for empty strings, otherwise returns a pointer to the string.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time verification that UploadRepository implements repository.UploadRepository.
var _ repository.UploadRepository = (*UploadRepository)(nil)
