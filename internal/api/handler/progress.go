package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/fragility/internal/api/response"
	"github.com/kiranshivaraju/fragility/internal/progress"
)

// ProgressSource is the running pipeline as seen by the status API.
type ProgressSource interface {
	RunID() uuid.UUID
	Progress() (progress.Snapshot, bool)
}

// NewProgressHandler returns an http.HandlerFunc for GET /api/v1/progress.
func NewProgressHandler(src ProgressSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := src.Progress()
		if !ok {
			response.Error(w, http.StatusNotFound, "NO_ACTIVE_RUN", "No run in progress", nil)
			return
		}
		response.JSON(w, map[string]any{
			"run_id":   src.RunID(),
			"progress": snap,
		})
	}
}
