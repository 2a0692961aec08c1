package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/sumcache/internal/api/middleware"
	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/usecase"
)

type SummaryRequest struct {
	SourceType string `json:"source_type"`
	SourceURL  string `json:"source_url,omitempty"`
	FileID     string `json:"file_id,omitempty"`
	FileHash   string `json:"file_hash,omitempty"`
	Refresh    bool   `json:"refresh,omitempty"`
}

type SummaryResponse struct {
	Status      string `json:"status"`
	CacheKey    string `json:"cache_key"`
	JobID       string `json:"job_id,omitempty"`
	SourceName  string `json:"source_name,omitempty"`
	SummaryText string `json:"summary_text,omitempty"`
}

type JobResponse struct {
	JobID    string              `json:"job_id"`
	CacheKey string              `json:"cache_key"`
	Status   string              `json:"status"`
	Error    string              `json:"error,omitempty"`
	Entry    *CacheEntryResponse `json:"cache_entry,omitempty"`
}

// SummaryHandler serves summary submissions and job reads.
type SummaryHandler struct {
	summaries usecase.SummaryService
	cache     usecase.CacheService
}

// NewSummaryHandler creates a new SummaryHandler.
func NewSummaryHandler(summaries usecase.SummaryService, cache usecase.CacheService) *SummaryHandler {
	return &SummaryHandler{summaries: summaries, cache: cache}
}

// Submit handles POST /api/summaries: 200 with the summary on a completed
// hit, 202 with a job id otherwise.
func (h *SummaryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, r, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}

	sourceType := model.SourceType(req.SourceType)
	if !sourceType.IsValid() {
		Error(w, r, http.StatusBadRequest, CodeValidationError, "source_type must be url or local")
		return
	}

	result, err := h.summaries.Submit(r.Context(), usecase.SubmitInput{
		SourceType: sourceType,
		SourceURL:  req.SourceURL,
		FileID:     req.FileID,
		FileHash:   req.FileHash,
		RequestID:  middleware.GetRequestID(r.Context()),
		Refresh:    req.Refresh,
	})
	if err != nil {
		DomainError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if result.Status == model.StatusCompleted.String() {
		status = http.StatusOK
	}
	JSON(w, status, SummaryResponse{
		Status:      result.Status,
		CacheKey:    result.CacheKey,
		JobID:       result.JobID,
		SourceName:  result.SourceName,
		SummaryText: result.SummaryText,
	})
}

// GetJob handles GET /api/jobs/{job_id}.
func (h *SummaryHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	job, err := h.cache.GetJob(r.Context(), jobID)
	if err != nil {
		DomainError(w, r, err)
		return
	}

	resp := JobResponse{
		JobID:    job.JobID,
		CacheKey: job.CacheKey,
		Status:   job.Status.String(),
		Error:    job.Error,
	}
	if job.Entry != nil {
		entry := entryResponse(job.Entry)
		resp.Entry = &entry
	}
	JSON(w, http.StatusOK, resp)
}
