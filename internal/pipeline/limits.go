package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrStageUnavailable is returned when a category limiter cannot be
// acquired within the configured wait.
var ErrStageUnavailable = errors.New("stage concurrency limit reached")

// Limiter bounds how many heavy stages of one category run at once.
type Limiter struct {
	name string
	sem  *semaphore.Weighted
	wait time.Duration
}

// NewLimiter creates a named limiter admitting up to max concurrent
// holders, each waiting at most wait for a slot.
func NewLimiter(name string, max int64, wait time.Duration) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{
		name: name,
		sem:  semaphore.NewWeighted(max),
		wait: wait,
	}
}

// Acquire blocks until a slot is free, the wait elapses, or ctx is
// cancelled. The returned release function must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s limiter: %w", l.name, ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w", l.name, ErrStageUnavailable)
	}
	return func() { l.sem.Release(1) }, nil
}
