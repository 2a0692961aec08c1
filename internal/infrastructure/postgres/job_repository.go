package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
)

// JobRepository implements repository.JobRepository using PostgreSQL.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a new JobRepository instance.
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = "job_id, cache_key, status, error, created_at, updated_at"

// Create inserts a new job row.
func (r *JobRepository) Create(ctx context.Context, job *model.Job) error {
	const query = `
		INSERT INTO cache_jobs (job_id, cache_key, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Exec(ctx, query,
		job.JobID,
		job.CacheKey,
		job.Status.String(),
		nullString(job.Error),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetByID retrieves a job record by job_id.
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*model.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM cache_jobs WHERE job_id = $1`, jobColumns)

	job, err := scanJob(r.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// LatestForKey retrieves the newest job for a cache key.
func (r *JobRepository) LatestForKey(ctx context.Context, cacheKey string) (*model.Job, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM cache_jobs WHERE cache_key = $1 ORDER BY created_at DESC LIMIT 1`,
		jobColumns,
	)

	job, err := scanJob(r.db.QueryRow(ctx, query, cacheKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}

	return job, nil
}

// Update changes the job's status and error message.
func (r *JobRepository) Update(ctx context.Context, jobID string, status model.Status, errMsg string) error {
	const query = `UPDATE cache_jobs SET status = $2, error = $3, updated_at = $4 WHERE job_id = $1`

	tag, err := r.db.Exec(ctx, query, jobID, status.String(), nullString(errMsg), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrJobNotFound
	}

	return nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		job    model.Job
		status string
		errMsg *string
	)

	err := row.Scan(
		&job.JobID,
		&job.CacheKey,
		&status,
		&errMsg,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = model.Status(status)
	if errMsg != nil {
		job.Error = *errMsg
	}

	return &job, nil
}

// Compile-time verification that JobRepository implements repository.JobRepository.
var _ repository.JobRepository = (*JobRepository)(nil)
