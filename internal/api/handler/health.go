package handler

import (
	"net/http"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health reports process liveness. Version is injected at router build time.
func Health(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: version,
		})
	}
}
