package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
)

// EntryRepository implements repository.CacheEntryRepository using PostgreSQL.
type EntryRepository struct {
	db DBTX
}

// NewEntryRepository creates a new EntryRepository instance.
func NewEntryRepository(db DBTX) *EntryRepository {
	return &EntryRepository{db: db}
}

const entryColumns = "cache_key, source_type, source_ref, source_name, status, profile_version, summary_text, bundle_path, error, created_at, updated_at, last_accessed"

// Create persists a new cache entry.
func (r *EntryRepository) Create(ctx context.Context, entry *model.CacheEntry) error {
	const query = `
		INSERT INTO cache_entries (cache_key, source_type, source_ref, source_name, status, profile_version, summary_text, bundle_path, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(ctx, query,
		entry.CacheKey,
		entry.SourceType.String(),
		entry.SourceRef,
		nullString(entry.SourceName),
		entry.Status.String(),
		entry.ProfileVersion,
		nullString(entry.SummaryText),
		nullString(entry.BundlePath),
		nullString(entry.Error),
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create cache entry: %w", err)
	}

	return nil
}

// GetByKey retrieves a cache entry by its key.
func (r *EntryRepository) GetByKey(ctx context.Context, cacheKey string) (*model.CacheEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM cache_entries WHERE cache_key = $1`, entryColumns)

	entry, err := scanEntry(r.db.QueryRow(ctx, query, cacheKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	return entry, nil
}

// Update applies the non-nil fields of upd. updated_at is always refreshed.
func (r *EntryRepository) Update(ctx context.Context, cacheKey string, upd repository.EntryUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now()}

	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Status != nil {
		appendSet("status", upd.Status.String())
	}
	if upd.SummaryText != nil {
		appendSet("summary_text", *upd.SummaryText)
	}
	if upd.BundlePath != nil {
		appendSet("bundle_path", *upd.BundlePath)
	}
	if upd.Error != nil {
		appendSet("error", *upd.Error)
	}
	if upd.ProfileVersion != nil {
		appendSet("profile_version", *upd.ProfileVersion)
	}
	if upd.SourceName != nil {
		appendSet("source_name", *upd.SourceName)
	}
	if upd.LastAccessed != nil {
		appendSet("last_accessed", *upd.LastAccessed)
	}

	args = append(args, cacheKey)
	query := fmt.Sprintf(
		"UPDATE cache_entries SET %s WHERE cache_key = $%d",
		strings.Join(sets, ", "), len(args),
	)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update cache entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrEntryNotFound
	}

	return nil
}

// Touch refreshes last_accessed for LRU accounting.
func (r *EntryRepository) Touch(ctx context.Context, cacheKey string) error {
	const query = `UPDATE cache_entries SET last_accessed = $2 WHERE cache_key = $1`

	if _, err := r.db.Exec(ctx, query, cacheKey, time.Now()); err != nil {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	return nil
}

// Delete removes a cache entry. Job rows follow via ON DELETE CASCADE.
func (r *EntryRepository) Delete(ctx context.Context, cacheKey string) error {
	const query = `DELETE FROM cache_entries WHERE cache_key = $1`

	if _, err := r.db.Exec(ctx, query, cacheKey); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// List retrieves entries matching the filter, newest update first.
func (r *EntryRepository) List(ctx context.Context, filter repository.EntryFilter) ([]*model.CacheEntry, error) {
	var conditions []string
	var args []any

	if filter.Status != "" {
		args = append(args, filter.Status.String())
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SourceType != "" {
		args = append(args, filter.SourceType.String())
		conditions = append(conditions, fmt.Sprintf("source_type = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		"SELECT %s FROM cache_entries %s ORDER BY updated_at DESC LIMIT $%d",
		entryColumns, where, len(args),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// ListIdle retrieves all entries ordered by ascending idle reference time,
// the least recently used first.
func (r *EntryRepository) ListIdle(ctx context.Context) ([]*model.CacheEntry, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM cache_entries ORDER BY COALESCE(last_accessed, updated_at) ASC",
		entryColumns,
	)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query idle entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]*model.CacheEntry, error) {
	var entries []*model.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache entries: %w", err)
	}

	return entries, nil
}

func scanEntry(row pgx.Row) (*model.CacheEntry, error) {
	var (
		entry        model.CacheEntry
		sourceType   string
		status       string
		sourceName   *string
		summaryText  *string
		bundlePath   *string
		errMsg       *string
		lastAccessed *time.Time
	)

	err := row.Scan(
		&entry.CacheKey,
		&sourceType,
		&entry.SourceRef,
		&sourceName,
		&status,
		&entry.ProfileVersion,
		&summaryText,
		&bundlePath,
		&errMsg,
		&entry.CreatedAt,
		&entry.UpdatedAt,
		&lastAccessed,
	)
	if err != nil {
		return nil, err
	}

	entry.SourceType = model.SourceType(sourceType)
	entry.Status = model.Status(status)
	if sourceName != nil {
		entry.SourceName = *sourceName
	}
	if summaryText != nil {
		entry.SummaryText = *summaryText
	}
	if bundlePath != nil {
		entry.BundlePath = *bundlePath
	}
	if errMsg != nil {
		entry.Error = *errMsg
	}
	entry.LastAccessed = lastAccessed

	return &entry, nil
}

// Compile-time verification that EntryRepository implements repository.CacheEntryRepository.
var _ repository.CacheEntryRepository = (*EntryRepository)(nil)
