package repository

import (
	"context"

	"github.com/hszk-dev/sumcache/internal/domain/model"
)

// SummaryJob is the message a worker dequeues to generate one summary.
type SummaryJob struct {
	JobID      string           `json:"job_id"`
	CacheKey   string           `json:"cache_key"`
	SourceType model.SourceType `json:"source_type"`
	SourceURL  string           `json:"source_url,omitempty"`
	FileHash   string           `json:"file_hash,omitempty"`
	RequestID  string           `json:"request_id,omitempty"`
}

// JobProcessor executes one summary job to its terminal state. Processing
// errors are recorded on the job and cache entry, never returned upward.
type JobProcessor interface {
	Process(ctx context.Context, job SummaryJob)
}

// JobQueue defines the interface for dispatching summary jobs to the
// worker pool. The implementation lives in the infrastructure layer.
type JobQueue interface {
	// Enqueue submits a job for background processing.
	// Returns ErrQueueFull when the queue cannot accept the job and
	// ErrQueueStopped after Stop.
	Enqueue(ctx context.Context, job SummaryJob) error

	// Start launches the worker pool with the given base context.
	// Calling Start twice is a no-op.
	Start(ctx context.Context)

	// Stop signals workers to finish their current job and exit.
	// It does not block.
	Stop()
}
