package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hszk-dev/sumcache/internal/api/middleware"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
)

// Error codes carried in the envelope.
const (
	CodeBadRequest           = "BAD_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodePayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeRequestTimeout       = "REQUEST_TIMEOUT"
	CodeTooManyRequests      = "TOO_MANY_REQUESTS"
	CodeValidationError      = "VALIDATION_ERROR"
	CodeInternalServerError  = "INTERNAL_SERVER_ERROR"
)

// internalErrorMessage is the generic text for unexpected failures.
const internalErrorMessage = "服务器内部错误"

// ErrorEnvelope is the uniform error body for every failed request.
type ErrorEnvelope struct {
	Message   string   `json:"message"`
	Code      string   `json:"code"`
	Status    int      `json:"status"`
	RequestID string   `json:"request_id"`
	Detail    string   `json:"detail,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	}
}

// Error writes the standard error envelope.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	JSON(w, status, ErrorEnvelope{
		Message:   message,
		Code:      code,
		Status:    status,
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

// DomainError maps well-known domain errors onto status codes and codes;
// anything unknown becomes a 500 with the generic message.
func DomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrInvalidSource):
		Error(w, r, http.StatusBadRequest, CodeBadRequest, err.Error())
	case errors.Is(err, repository.ErrEntryNotFound),
		errors.Is(err, repository.ErrJobNotFound),
		errors.Is(err, repository.ErrUploadNotFound):
		Error(w, r, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, repository.ErrTooLarge):
		Error(w, r, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, err.Error())
	case errors.Is(err, repository.ErrUnsupportedType):
		Error(w, r, http.StatusUnsupportedMediaType, CodeUnsupportedMediaType, err.Error())
	case errors.Is(err, repository.ErrTimedOut):
		Error(w, r, http.StatusRequestTimeout, CodeRequestTimeout, err.Error())
	case errors.Is(err, repository.ErrEmptyUpload):
		Error(w, r, http.StatusBadRequest, CodeValidationError, err.Error())
	case errors.Is(err, repository.ErrQueueFull), errors.Is(err, repository.ErrQueueStopped):
		Error(w, r, http.StatusServiceUnavailable, CodeInternalServerError, err.Error())
	default:
		Error(w, r, http.StatusInternalServerError, CodeInternalServerError, internalErrorMessage)
	}
}
