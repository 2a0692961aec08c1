package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
	"github.com/hszk-dev/sumcache/internal/usecase"
)

type LookupRequest struct {
	SourceType string `json:"source_type"`
	SourceURL  string `json:"source_url,omitempty"`
	FileID     string `json:"file_id,omitempty"`
	FileHash   string `json:"file_hash,omitempty"`
}

type LookupResponse struct {
	Hit         bool   `json:"hit"`
	Status      string `json:"status"`
	CacheKey    string `json:"cache_key,omitempty"`
	SourceName  string `json:"source_name,omitempty"`
	SummaryText string `json:"summary_text,omitempty"`
	JobID       string `json:"job_id,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type CacheEntryResponse struct {
	CacheKey       string `json:"cache_key"`
	SourceType     string `json:"source_type"`
	SourceRef      string `json:"source_ref"`
	SourceName     string `json:"source_name,omitempty"`
	Status         string `json:"status"`
	ProfileVersion string `json:"profile_version"`
	SummaryText    string `json:"summary_text,omitempty"`
	BundlePath     string `json:"bundle_path,omitempty"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	LastAccessed   string `json:"last_accessed,omitempty"`
}

// CacheHandler serves lookups and direct cache entry access.
type CacheHandler struct {
	cache   usecase.CacheService
	storage repository.FileStorage
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(cache usecase.CacheService, storage repository.FileStorage) *CacheHandler {
	return &CacheHandler{cache: cache, storage: storage}
}

// Lookup handles POST /api/cache/lookup: a strict read that does not touch
// last_accessed.
func (h *CacheHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, r, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}

	sourceType := model.SourceType(req.SourceType)
	if !sourceType.IsValid() {
		Error(w, r, http.StatusBadRequest, CodeValidationError, "source_type must be url or local")
		return
	}

	fileHash := req.FileHash
	if sourceType == model.SourceLocal && req.FileID != "" {
		upload, err := h.storage.Get(r.Context(), req.FileID)
		if err != nil {
			DomainError(w, r, err)
			return
		}
		fileHash = upload.FileHash
	}

	result, err := h.cache.Lookup(r.Context(), usecase.LookupInput{
		SourceType: sourceType,
		SourceURL:  req.SourceURL,
		FileHash:   fileHash,
		Strict:     true,
	})
	if err != nil {
		DomainError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, lookupResponse(result))
}

// Get handles GET /api/cache/{cache_key}: returns the full entry and
// refreshes last_accessed.
func (h *CacheHandler) Get(w http.ResponseWriter, r *http.Request) {
	cacheKey := chi.URLParam(r, "cache_key")

	entry, err := h.cache.GetEntry(r.Context(), cacheKey)
	if err != nil {
		DomainError(w, r, err)
		return
	}
	if err := h.cache.Touch(r.Context(), cacheKey); err != nil && !errors.Is(err, repository.ErrEntryNotFound) {
		DomainError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, entryResponse(entry))
}

// Delete handles DELETE /api/cache/{cache_key}.
func (h *CacheHandler) Delete(w http.ResponseWriter, r *http.Request) {
	cacheKey := chi.URLParam(r, "cache_key")

	if err := h.cache.Delete(r.Context(), cacheKey); err != nil {
		DomainError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"cache_key": cacheKey, "status": "deleted"})
}

func lookupResponse(result *usecase.LookupResult) LookupResponse {
	resp := LookupResponse{
		Hit:         result.Hit,
		Status:      result.Status,
		CacheKey:    result.CacheKey,
		SourceName:  result.SourceName,
		SummaryText: result.SummaryText,
		JobID:       result.JobID,
		Error:       result.Error,
	}
	if !result.CreatedAt.IsZero() {
		resp.CreatedAt = result.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !result.UpdatedAt.IsZero() {
		resp.UpdatedAt = result.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func entryResponse(e *model.CacheEntry) CacheEntryResponse {
	resp := CacheEntryResponse{
		CacheKey:       e.CacheKey,
		SourceType:     e.SourceType.String(),
		SourceRef:      e.SourceRef,
		SourceName:     e.SourceName,
		Status:         e.Status.String(),
		ProfileVersion: e.ProfileVersion,
		SummaryText:    e.SummaryText,
		BundlePath:     e.BundlePath,
		Error:          e.Error,
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      e.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if e.LastAccessed != nil {
		resp.LastAccessed = e.LastAccessed.UTC().Format(time.RFC3339)
	}
	return resp
}
