package model

import (
	"errors"
	"time"
)

// SourceType identifies how a submission references its content.
type SourceType string

const (
	SourceURL   SourceType = "url"
	SourceLocal SourceType = "local"
)

func (t SourceType) IsValid() bool {
	return t == SourceURL || t == SourceLocal
}

func (t SourceType) String() string {
	return string(t)
}

// CacheEntry is the durable record for one content-addressed summary.
// The store row is authoritative; the on-disk bundle manifest mirrors it.
type CacheEntry struct {
	CacheKey       string
	SourceType     SourceType
	SourceRef      string
	SourceName     string
	Status         Status
	ProfileVersion string
	SummaryText    string
	BundlePath     string
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessed   *time.Time
}

var (
	ErrInvalidSourceType = errors.New("source type must be url or local")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// NewCacheEntry creates a pending entry for a freshly submitted source.
func NewCacheEntry(cacheKey string, sourceType SourceType, sourceRef, sourceName, profileVersion, bundlePath string) (*CacheEntry, error) {
	if !sourceType.IsValid() {
		return nil, ErrInvalidSourceType
	}

	now := time.Now()
	return &CacheEntry{
		CacheKey:       cacheKey,
		SourceType:     sourceType,
		SourceRef:      sourceRef,
		SourceName:     sourceName,
		Status:         StatusPending,
		ProfileVersion: profileVersion,
		BundlePath:     bundlePath,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// TransitionTo attempts to change the entry status.
func (e *CacheEntry) TransitionTo(next Status) error {
	if !next.IsValid() {
		return ErrInvalidTransition
	}
	if !e.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	e.Status = next
	e.UpdatedAt = time.Now()
	return nil
}

// IdleSince returns the LRU reference time: last access when known,
// otherwise the last update.
func (e *CacheEntry) IdleSince() time.Time {
	if e.LastAccessed != nil {
		return *e.LastAccessed
	}
	return e.UpdatedAt
}

func (e *CacheEntry) IsCompleted() bool {
	return e.Status == StatusCompleted
}

func (e *CacheEntry) IsInFlight() bool {
	return e.Status == StatusPending || e.Status == StatusRunning
}
