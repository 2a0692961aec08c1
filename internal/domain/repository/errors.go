package repository

import "errors"

var (
	// ErrEntryNotFound is returned when a cache entry cannot be found.
	ErrEntryNotFound = errors.New("cache entry not found")

	// ErrDuplicateEntry is returned when attempting to create a cache entry
	// that already exists.
	ErrDuplicateEntry = errors.New("cache entry already exists")

	// ErrJobNotFound is returned when a job record cannot be found.
	ErrJobNotFound = errors.New("job not found")

	// ErrUploadNotFound is returned when an upload record cannot be found,
	// has expired, or its stored file is missing.
	ErrUploadNotFound = errors.New("upload not found")

	// ErrInvalidSource is returned when a source reference is incomplete:
	// url without source_url, or local without file_hash.
	ErrInvalidSource = errors.New("invalid source")

	// ErrUnsupportedType is returned when an uploaded file's extension or
	// mime type is not in the allow list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrTooLarge is returned when an upload exceeds the configured size cap.
	ErrTooLarge = errors.New("file too large")

	// ErrEmptyUpload is returned when an upload body contains no bytes.
	ErrEmptyUpload = errors.New("upload is empty")

	// ErrTimedOut is returned when a chunked upload read or write exceeds
	// its per-chunk deadline.
	ErrTimedOut = errors.New("upload timed out")

	// ErrQueueFull is returned when the job queue cannot accept more work.
	ErrQueueFull = errors.New("job queue full")

	// ErrQueueStopped is returned when enqueueing after the queue has been
	// stopped.
	ErrQueueStopped = errors.New("job queue stopped")

	// ErrStageUnavailable is returned when a pipeline stage cannot acquire
	// its concurrency limiter within the configured wait.
	ErrStageUnavailable = errors.New("pipeline stage unavailable")

	// ErrBundleFinalizeFailed is returned when a finished bundle cannot be
	// promoted from its tmp directory to the cache location.
	ErrBundleFinalizeFailed = errors.New("bundle finalize failed")
)
