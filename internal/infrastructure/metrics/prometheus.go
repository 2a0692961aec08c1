// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sumcache"

var (
	// CacheLookupsTotal tracks cache entry lookups by outcome.
	// Labels:
	//   - outcome: hit, miss, demoted, in_flight
	//   - source_type: url, local
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of cache entry lookups",
		},
		[]string{"outcome", "source_type"},
	)

	// CacheOperationsTotal tracks Redis layer operations.
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, success, error
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of Redis cache operations",
		},
		[]string{"operation", "status"},
	)

	// JobsTotal tracks summary jobs reaching a terminal state.
	// Labels:
	//   - status: completed, failed
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of summary jobs by terminal status",
		},
		[]string{"status"},
	)

	// StageDurationSeconds tracks per-stage pipeline latency.
	// Labels:
	//   - stage: pipeline node name
	//   - status: completed, failed, skipped
	StageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"stage", "status"},
	)

	// UploadsTotal tracks upload ingests by outcome.
	// Labels:
	//   - outcome: stored, rejected, timed_out
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of upload ingest attempts",
		},
		[]string{"outcome"},
	)

	// UploadBytesTotal tracks bytes accepted into the upload store.
	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total bytes accepted into the upload store",
		},
	)

	// GCFreedBytesTotal tracks bytes reclaimed by the garbage collector.
	// Labels:
	//   - sweep: failed, ttl, size
	GCFreedBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_freed_bytes_total",
			Help:      "Total bytes reclaimed by cache garbage collection",
		},
		[]string{"sweep"},
	)

	// SingleflightRequestsTotal tracks singleflight behavior.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)
)

// Cache lookup outcome constants.
const (
	LookupHit      = "hit"
	LookupMiss     = "miss"
	LookupDemoted  = "demoted"
	LookupInFlight = "in_flight"
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
)

// Upload outcome constants.
const (
	UploadStored   = "stored"
	UploadRejected = "rejected"
	UploadTimedOut = "timed_out"
)

// GC sweep constants.
const (
	SweepFailed = "failed"
	SweepTTL    = "ttl"
	SweepSize   = "size"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)
