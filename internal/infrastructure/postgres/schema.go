package postgres

import (
	"context"
	"fmt"
)

// schema holds the DDL for the three store tables. EnsureSchema applies it
// idempotently at startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS uploads (
		file_id       TEXT PRIMARY KEY,
		original_name TEXT NOT NULL,
		size          BIGINT NOT NULL,
		mime_type     TEXT,
		file_type     TEXT NOT NULL,
		stored_path   TEXT NOT NULL,
		file_hash     TEXT,
		created_at    TIMESTAMPTZ NOT NULL,
		ttl_seconds   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_uploads_file_hash ON uploads(file_hash)`,
	`CREATE TABLE IF NOT EXISTS cache_entries (
		cache_key       TEXT PRIMARY KEY,
		source_type     TEXT NOT NULL,
		source_ref      TEXT NOT NULL,
		source_name     TEXT,
		status          TEXT NOT NULL DEFAULT 'pending',
		profile_version TEXT NOT NULL,
		summary_text    TEXT,
		bundle_path     TEXT,
		error           TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		last_accessed   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_source ON cache_entries(source_type, source_ref)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_status ON cache_entries(status)`,
	`CREATE TABLE IF NOT EXISTS cache_jobs (
		job_id     TEXT PRIMARY KEY,
		cache_key  TEXT NOT NULL REFERENCES cache_entries(cache_key) ON DELETE CASCADE,
		status     TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		error      TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_jobs_cache_key ON cache_jobs(cache_key)`,
}

// EnsureSchema creates the store tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db DBTX) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
