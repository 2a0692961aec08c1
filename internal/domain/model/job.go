package model

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Job records one background summary generation attempt. The same cache key
// may accumulate several historical jobs; the latest one reflects the
// current in-flight work.
type Job struct {
	JobID     string
	CacheKey  string
	Status    Status
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Entry is the associated cache entry, attached by read paths when
	// available. Not persisted with the job row.
	Entry *CacheEntry
}

// NewJob creates a pending job for the given cache key.
func NewJob(cacheKey string) *Job {
	now := time.Now()
	return &Job{
		JobID:     NewJobID(),
		CacheKey:  cacheKey,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewJobID returns a token of the form "j_" + 32 hex characters.
func NewJobID() string {
	return "j_" + hexUUID()
}

// NewFileID returns a token of the form "f_" + 32 hex characters.
func NewFileID() string {
	return "f_" + hexUUID()
}

// NewRequestID returns a token of the form "req_" + 32 hex characters.
func NewRequestID() string {
	return "req_" + hexUUID()
}

func hexUUID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
