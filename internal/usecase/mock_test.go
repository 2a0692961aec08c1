package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
)

// mockEntryRepository provides a configurable mock for CacheEntryRepository.
type mockEntryRepository struct {
	createFn   func(ctx context.Context, entry *model.CacheEntry) error
	getByKeyFn func(ctx context.Context, cacheKey string) (*model.CacheEntry, error)
	updateFn   func(ctx context.Context, cacheKey string, upd repository.EntryUpdate) error
	touchFn    func(ctx context.Context, cacheKey string) error
	deleteFn   func(ctx context.Context, cacheKey string) error
	listFn     func(ctx context.Context, filter repository.EntryFilter) ([]*model.CacheEntry, error)
	listIdleFn func(ctx context.Context) ([]*model.CacheEntry, error)
}

func (m *mockEntryRepository) Create(ctx context.Context, entry *model.CacheEntry) error {
	if m.createFn != nil {
		return m.createFn(ctx, entry)
	}
	return nil
}

func (m *mockEntryRepository) GetByKey(ctx context.Context, cacheKey string) (*model.CacheEntry, error) {
	if m.getByKeyFn != nil {
		return m.getByKeyFn(ctx, cacheKey)
	}
	return nil, repository.ErrEntryNotFound
}

func (m *mockEntryRepository) Update(ctx context.Context, cacheKey string, upd repository.EntryUpdate) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, cacheKey, upd)
	}
	return nil
}

func (m *mockEntryRepository) Touch(ctx context.Context, cacheKey string) error {
	if m.touchFn != nil {
		return m.touchFn(ctx, cacheKey)
	}
	return nil
}

func (m *mockEntryRepository) Delete(ctx context.Context, cacheKey string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, cacheKey)
	}
	return nil
}

func (m *mockEntryRepository) List(ctx context.Context, filter repository.EntryFilter) ([]*model.CacheEntry, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockEntryRepository) ListIdle(ctx context.Context) ([]*model.CacheEntry, error) {
	if m.listIdleFn != nil {
		return m.listIdleFn(ctx)
	}
	return nil, nil
}

// mockJobRepository provides a configurable mock for JobRepository.
type mockJobRepository struct {
	createFn       func(ctx context.Context, job *model.Job) error
	getByIDFn      func(ctx context.Context, jobID string) (*model.Job, error)
	latestForKeyFn func(ctx context.Context, cacheKey string) (*model.Job, error)
	updateFn       func(ctx context.Context, jobID string, status model.Status, errMsg string) error
}

func (m *mockJobRepository) Create(ctx context.Context, job *model.Job) error {
	if m.createFn != nil {
		return m.createFn(ctx, job)
	}
	return nil
}

func (m *mockJobRepository) GetByID(ctx context.Context, jobID string) (*model.Job, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, jobID)
	}
	return nil, repository.ErrJobNotFound
}

func (m *mockJobRepository) LatestForKey(ctx context.Context, cacheKey string) (*model.Job, error) {
	if m.latestForKeyFn != nil {
		return m.latestForKeyFn(ctx, cacheKey)
	}
	return nil, repository.ErrJobNotFound
}

func (m *mockJobRepository) Update(ctx context.Context, jobID string, status model.Status, errMsg string) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, jobID, status, errMsg)
	}
	return nil
}

// mockFileStorage provides a configurable mock for FileStorage.
type mockFileStorage struct {
	saveStreamFn func(ctx context.Context, read repository.ChunkReader, originalName, contentType string) (*model.Upload, error)
	getFn        func(ctx context.Context, fileID string) (*model.Upload, error)
	getByHashFn  func(ctx context.Context, fileHash string) (*model.Upload, error)
	deleteFn     func(ctx context.Context, fileID string) error
}

func (m *mockFileStorage) SaveStream(ctx context.Context, read repository.ChunkReader, originalName, contentType string) (*model.Upload, error) {
	if m.saveStreamFn != nil {
		return m.saveStreamFn(ctx, read, originalName, contentType)
	}
	return nil, nil
}

func (m *mockFileStorage) Get(ctx context.Context, fileID string) (*model.Upload, error) {
	if m.getFn != nil {
		return m.getFn(ctx, fileID)
	}
	return nil, repository.ErrUploadNotFound
}

func (m *mockFileStorage) GetByHash(ctx context.Context, fileHash string) (*model.Upload, error) {
	if m.getByHashFn != nil {
		return m.getByHashFn(ctx, fileHash)
	}
	return nil, repository.ErrUploadNotFound
}

func (m *mockFileStorage) Delete(ctx context.Context, fileID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, fileID)
	}
	return nil
}

func (m *mockFileStorage) CleanupExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func (m *mockFileStorage) List(ctx context.Context) ([]*model.Upload, error) {
	return nil, nil
}

// mockJobQueue provides a configurable mock for JobQueue.
type mockJobQueue struct {
	enqueueFn func(ctx context.Context, job repository.SummaryJob) error

	mu       sync.Mutex
	enqueued []repository.SummaryJob
}

func (m *mockJobQueue) Enqueue(ctx context.Context, job repository.SummaryJob) error {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, job)
	return nil
}

func (m *mockJobQueue) Start(ctx context.Context) {}

func (m *mockJobQueue) Stop() {}

func (m *mockJobQueue) jobs() []repository.SummaryJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.SummaryJob, len(m.enqueued))
	copy(out, m.enqueued)
	return out
}

// mockEntryCache provides a configurable mock for cache.EntryCache.
type mockEntryCache struct {
	getFn    func(ctx context.Context, cacheKey string) (*model.CacheEntry, error)
	setFn    func(ctx context.Context, entry *model.CacheEntry, ttl time.Duration) error
	deleteFn func(ctx context.Context, cacheKey string) error
}

func (m *mockEntryCache) Get(ctx context.Context, cacheKey string) (*model.CacheEntry, error) {
	if m.getFn != nil {
		return m.getFn(ctx, cacheKey)
	}
	return nil, nil
}

func (m *mockEntryCache) Set(ctx context.Context, entry *model.CacheEntry, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, entry, ttl)
	}
	return nil
}

func (m *mockEntryCache) Delete(ctx context.Context, cacheKey string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, cacheKey)
	}
	return nil
}
