package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hszk-dev/sumcache/internal/domain/repository"
)

// Config holds configuration for the in-memory job queue.
type Config struct {
	Size    int // channel buffer: enqueue fails with ErrQueueFull beyond it
	Workers int // concurrent consumers; 1 gives strict FIFO processing
}

// DefaultConfig returns a Config with sensible defaults. A single worker
// keeps job execution strictly ordered.
func DefaultConfig() Config {
	return Config{
		Size:    256,
		Workers: 1,
	}
}

// MemoryQueue implements repository.JobQueue on a buffered channel. Jobs
// live only in process memory; the database rows are the durable record and
// in-flight jobs are lost on restart.
type MemoryQueue struct {
	cfg       Config
	processor repository.JobProcessor
	logger    *slog.Logger

	jobs chan repository.SummaryJob

	mu      sync.Mutex
	started bool
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewMemoryQueue creates a new in-memory job queue.
func NewMemoryQueue(cfg Config, processor repository.JobProcessor, logger *slog.Logger) *MemoryQueue {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &MemoryQueue{
		cfg:       cfg,
		processor: processor,
		logger:    logger,
		jobs:      make(chan repository.SummaryJob, cfg.Size),
		quit:      make(chan struct{}),
	}
}

// Enqueue adds a job to the queue without blocking. Returns ErrQueueFull
// when the buffer is saturated and ErrQueueStopped after Stop.
func (q *MemoryQueue) Enqueue(ctx context.Context, job repository.SummaryJob) error {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return repository.ErrQueueStopped
	}

	select {
	case q.jobs <- job:
		q.logger.Info("job enqueued",
			slog.String("job_id", job.JobID),
			slog.String("cache_key", job.CacheKey),
			slog.Int("depth", len(q.jobs)),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return repository.ErrQueueFull
	}
}

// Start launches the worker pool. Calling Start more than once is a no-op.
func (q *MemoryQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop rejects further enqueues and signals workers to exit after their
// current job. It does not block; use Wait to join the workers.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.quit)
}

// Wait blocks until all workers have exited.
func (q *MemoryQueue) Wait() {
	q.wg.Wait()
}

func (q *MemoryQueue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case job := <-q.jobs:
			q.logger.Info("job dequeued",
				slog.String("job_id", job.JobID),
				slog.Int("worker", id),
			)
			q.processor.Process(ctx, job)
		case <-q.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Depth returns the number of queued jobs awaiting a worker.
func (q *MemoryQueue) Depth() int {
	return len(q.jobs)
}

// Compile-time verification that MemoryQueue implements repository.JobQueue.
var _ repository.JobQueue = (*MemoryQueue)(nil)
