package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
	"github.com/hszk-dev/sumcache/internal/usecase"
)

func TestCacheHandler_Lookup(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    interface{}
		setupMocks     func(cache *mockCacheService, storage *mockFileStorage)
		wantStatusCode int
		checkResponse  func(t *testing.T, body []byte)
	}{
		{
			name:        "completed hit",
			requestBody: LookupRequest{SourceType: "url", SourceURL: "https://example.com/v/1"},
			setupMocks: func(cache *mockCacheService, storage *mockFileStorage) {
				cache.lookupFn = func(ctx context.Context, in usecase.LookupInput) (*usecase.LookupResult, error) {
					if !in.Strict {
						t.Error("expected strict lookup")
					}
					if in.Touch {
						t.Error("lookup must not touch last_accessed")
					}
					return &usecase.LookupResult{
						Hit:         true,
						Status:      model.StatusCompleted.String(),
						CacheKey:    "k1",
						SummaryText: "这是一段摘要",
						CreatedAt:   time.Now(),
						UpdatedAt:   time.Now(),
					}, nil
				}
			},
			wantStatusCode: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var resp LookupResponse
				if err := json.Unmarshal(body, &resp); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if !resp.Hit {
					t.Error("expected a hit")
				}
				if resp.SummaryText != "这是一段摘要" {
					t.Errorf("unexpected summary text %q", resp.SummaryText)
				}
			},
		},
		{
			name:        "miss",
			requestBody: LookupRequest{SourceType: "url", SourceURL: "https://example.com/v/2"},
			setupMocks: func(cache *mockCacheService, storage *mockFileStorage) {
			},
			wantStatusCode: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var resp LookupResponse
				if err := json.Unmarshal(body, &resp); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if resp.Hit {
					t.Error("expected a miss")
				}
				if resp.Status != usecase.StatusNotFound {
					t.Errorf("expected status not_found, got %s", resp.Status)
				}
			},
		},
		{
			name:        "local file id resolved to hash",
			requestBody: LookupRequest{SourceType: "local", FileID: "f_abc"},
			setupMocks: func(cache *mockCacheService, storage *mockFileStorage) {
				storage.getFn = func(ctx context.Context, fileID string) (*model.Upload, error) {
					return &model.Upload{FileID: fileID, FileHash: "deadbeef"}, nil
				}
				cache.lookupFn = func(ctx context.Context, in usecase.LookupInput) (*usecase.LookupResult, error) {
					if in.FileHash != "deadbeef" {
						t.Errorf("expected resolved file hash, got %q", in.FileHash)
					}
					return &usecase.LookupResult{Status: usecase.StatusNotFound}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "unknown file id",
			requestBody:    LookupRequest{SourceType: "local", FileID: "f_missing"},
			setupMocks:     func(cache *mockCacheService, storage *mockFileStorage) {},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name:           "invalid source type",
			requestBody:    LookupRequest{SourceType: "ftp"},
			setupMocks:     func(cache *mockCacheService, storage *mockFileStorage) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON body",
			requestBody:    "not json",
			setupMocks:     func(cache *mockCacheService, storage *mockFileStorage) {},
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &mockCacheService{}
			storage := &mockFileStorage{}
			tt.setupMocks(cache, storage)
			h := NewCacheHandler(cache, storage)

			var body []byte
			switch v := tt.requestBody.(type) {
			case string:
				body = []byte(v)
			default:
				var err error
				body, err = json.Marshal(v)
				if err != nil {
					t.Fatalf("failed to marshal request body: %v", err)
				}
			}

			req := httptest.NewRequest(http.MethodPost, "/api/cache/lookup", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			h.Lookup(rec, req)

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d", tt.wantStatusCode, rec.Code)
			}
			if tt.checkResponse != nil {
				tt.checkResponse(t, rec.Body.Bytes())
			}
		})
	}
}

func TestCacheHandler_Get(t *testing.T) {
	now := time.Now()
	entry := &model.CacheEntry{
		CacheKey:       "k1",
		SourceType:     model.SourceURL,
		SourceRef:      "url:https://example.com/v/1",
		Status:         model.StatusCompleted,
		ProfileVersion: "v1",
		SummaryText:    "这是一段摘要",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	t.Run("found and touched", func(t *testing.T) {
		cache := &mockCacheService{
			getEntryFn: func(ctx context.Context, cacheKey string) (*model.CacheEntry, error) {
				return entry, nil
			},
		}
		h := NewCacheHandler(cache, &mockFileStorage{})

		r := chi.NewRouter()
		r.Get("/api/cache/{cache_key}", h.Get)

		req := httptest.NewRequest(http.MethodGet, "/api/cache/k1", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if len(cache.touchedKeys) != 1 || cache.touchedKeys[0] != "k1" {
			t.Errorf("expected k1 to be touched, got %v", cache.touchedKeys)
		}

		var resp CacheEntryResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if resp.Status != "completed" {
			t.Errorf("expected status completed, got %s", resp.Status)
		}
	})

	t.Run("not found", func(t *testing.T) {
		h := NewCacheHandler(&mockCacheService{}, &mockFileStorage{})

		r := chi.NewRouter()
		r.Get("/api/cache/{cache_key}", h.Get)

		req := httptest.NewRequest(http.MethodGet, "/api/cache/nope", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
}

func TestCacheHandler_Delete(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		cache := &mockCacheService{}
		h := NewCacheHandler(cache, &mockFileStorage{})

		r := chi.NewRouter()
		r.Delete("/api/cache/{cache_key}", h.Delete)

		req := httptest.NewRequest(http.MethodDelete, "/api/cache/k1", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if len(cache.deletedKeys) != 1 || cache.deletedKeys[0] != "k1" {
			t.Errorf("expected k1 to be deleted, got %v", cache.deletedKeys)
		}
	})

	t.Run("not found", func(t *testing.T) {
		cache := &mockCacheService{
			deleteFn: func(ctx context.Context, cacheKey string) error {
				return repository.ErrEntryNotFound
			},
		}
		h := NewCacheHandler(cache, &mockFileStorage{})

		r := chi.NewRouter()
		r.Delete("/api/cache/{cache_key}", h.Delete)

		req := httptest.NewRequest(http.MethodDelete, "/api/cache/nope", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
}
