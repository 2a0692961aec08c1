package handler

import (
	"context"

	"github.com/hszk-dev/sumcache/internal/cachekey"
	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
	"github.com/hszk-dev/sumcache/internal/usecase"
)

// Mock CacheService

type mockCacheService struct {
	lookupFn    func(ctx context.Context, in usecase.LookupInput) (*usecase.LookupResult, error)
	getEntryFn  func(ctx context.Context, cacheKey string) (*model.CacheEntry, error)
	touchFn     func(ctx context.Context, cacheKey string) error
	getJobFn    func(ctx context.Context, jobID string) (*model.Job, error)
	deleteFn    func(ctx context.Context, cacheKey string) error
	touchedKeys []string
	deletedKeys []string
}

func (m *mockCacheService) Lookup(ctx context.Context, in usecase.LookupInput) (*usecase.LookupResult, error) {
	if m.lookupFn != nil {
		return m.lookupFn(ctx, in)
	}
	return &usecase.LookupResult{Status: usecase.StatusNotFound}, nil
}

func (m *mockCacheService) GetOrCreateEntry(ctx context.Context, cacheKey string, sourceType model.SourceType, sourceRef, sourceName string) (*model.CacheEntry, error) {
	return nil, nil
}

func (m *mockCacheService) GetEntry(ctx context.Context, cacheKey string) (*model.CacheEntry, error) {
	if m.getEntryFn != nil {
		return m.getEntryFn(ctx, cacheKey)
	}
	return nil, repository.ErrEntryNotFound
}

func (m *mockCacheService) UpdateStatus(ctx context.Context, cacheKey string, status model.Status, summaryText, errMsg string) error {
	return nil
}

func (m *mockCacheService) Touch(ctx context.Context, cacheKey string) error {
	m.touchedKeys = append(m.touchedKeys, cacheKey)
	if m.touchFn != nil {
		return m.touchFn(ctx, cacheKey)
	}
	return nil
}

func (m *mockCacheService) CreateJob(ctx context.Context, cacheKey string) (*model.Job, error) {
	return model.NewJob(cacheKey), nil
}

func (m *mockCacheService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	if m.getJobFn != nil {
		return m.getJobFn(ctx, jobID)
	}
	return nil, repository.ErrJobNotFound
}

func (m *mockCacheService) UpdateJob(ctx context.Context, jobID string, status model.Status, errMsg string) error {
	return nil
}

func (m *mockCacheService) Delete(ctx context.Context, cacheKey string) error {
	m.deletedKeys = append(m.deletedKeys, cacheKey)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, cacheKey)
	}
	return nil
}

func (m *mockCacheService) ListEntries(ctx context.Context, filter repository.EntryFilter) ([]*model.CacheEntry, error) {
	return nil, nil
}

func (m *mockCacheService) Key(ctx context.Context, in cachekey.SourceRefInput) (string, error) {
	return cachekey.SourceRef(in)
}

var _ usecase.CacheService = (*mockCacheService)(nil)

// Mock SummaryService

type mockSummaryService struct {
	submitFn func(ctx context.Context, in usecase.SubmitInput) (*usecase.SubmitResult, error)
}

func (m *mockSummaryService) Submit(ctx context.Context, in usecase.SubmitInput) (*usecase.SubmitResult, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, in)
	}
	return &usecase.SubmitResult{}, nil
}

var _ usecase.SummaryService = (*mockSummaryService)(nil)

// Mock FileStorage

type mockFileStorage struct {
	saveStreamFn func(ctx context.Context, read repository.ChunkReader, originalName, contentType string) (*model.Upload, error)
	getFn        func(ctx context.Context, fileID string) (*model.Upload, error)
	getByHashFn  func(ctx context.Context, fileHash string) (*model.Upload, error)
}

func (m *mockFileStorage) SaveStream(ctx context.Context, read repository.ChunkReader, originalName, contentType string) (*model.Upload, error) {
	if m.saveStreamFn != nil {
		return m.saveStreamFn(ctx, read, originalName, contentType)
	}
	return nil, repository.ErrUnsupportedType
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
	return nil
}

func (m *mockFileStorage) CleanupExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func (m *mockFileStorage) List(ctx context.Context) ([]*model.Upload, error) {
	return nil, nil
}

var _ repository.FileStorage = (*mockFileStorage)(nil)
