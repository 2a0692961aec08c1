package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
	"github.com/hszk-dev/sumcache/internal/infrastructure/metrics"
)

type UploadResponse struct {
	FileID       string `json:"file_id"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type"`
	FileType     string `json:"file_type"`
	FileHash     string `json:"file_hash"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
}

// UploadHandler handles file ingest and upload metadata reads.
type UploadHandler struct {
	storage repository.FileStorage
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(storage repository.FileStorage) *UploadHandler {
	return &UploadHandler{storage: storage}
}

// Create handles POST /api/uploads. The multipart body is streamed straight
// into storage; the file never lands in memory whole.
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		Error(w, r, http.StatusBadRequest, CodeBadRequest, "request body must be multipart/form-data")
		return
	}

	var part *multipartFilePart
	for {
		p, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			Error(w, r, http.StatusBadRequest, CodeBadRequest, "malformed multipart body")
			return
		}
		if p.FormName() == "file" && p.FileName() != "" {
			part = &multipartFilePart{name: p.FileName(), contentType: p.Header.Get("Content-Type"), body: p}
			break
		}
		p.Close()
	}
	if part == nil {
		Error(w, r, http.StatusBadRequest, CodeValidationError, "multipart field 'file' is required")
		return
	}
	defer part.body.Close()

	read := func(max int) ([]byte, error) {
		buf := make([]byte, max)
		n, err := part.body.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}

	upload, err := h.storage.SaveStream(r.Context(), read, part.name, part.contentType)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(uploadOutcome(err)).Inc()
		DomainError(w, r, err)
		return
	}
	metrics.UploadsTotal.WithLabelValues(metrics.UploadStored).Inc()
	metrics.UploadBytesTotal.Add(float64(upload.Size))

	JSON(w, http.StatusCreated, uploadResponse(upload))
}

// Get handles GET /api/uploads/{file_id}.
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	upload, err := h.storage.Get(r.Context(), fileID)
	if err != nil {
		DomainError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, uploadResponse(upload))
}

type multipartFilePart struct {
	name        string
	contentType string
	body        io.ReadCloser
}

func uploadResponse(u *model.Upload) UploadResponse {
	return UploadResponse{
		FileID:       u.FileID,
		OriginalName: u.OriginalName,
		Size:         u.Size,
		MimeType:     u.MimeType,
		FileType:     u.FileType.String(),
		FileHash:     u.FileHash,
		CreatedAt:    u.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:    u.ExpiresAt().UTC().Format(time.RFC3339),
	}
}

func uploadOutcome(err error) string {
	if errors.Is(err, repository.ErrTimedOut) {
		return metrics.UploadTimedOut
	}
	return metrics.UploadRejected
}
