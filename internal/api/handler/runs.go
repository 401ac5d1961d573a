package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/fragility/internal/api/response"
	"github.com/kiranshivaraju/fragility/internal/counters"
	"github.com/kiranshivaraju/fragility/internal/store"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

var validOutcomeStatuses = map[models.TaskStatus]bool{
	models.TaskStatusCompleted: true,
	models.TaskStatusFailed:    true,
}

// RunView is a stored run plus its live counters, when available.
type RunView struct {
	*models.Run
	LiveStatus string           `json:"live_status,omitempty"`
	Counters   map[string]int64 `json:"counters,omitempty"`
}

// NewGetRunHandler returns an http.HandlerFunc for GET /api/v1/runs/{runID}.
// c may be nil.
func NewGetRunHandler(s store.Store, c counters.Counters) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, ok := parseRunID(w, r)
		if !ok {
			return
		}

		run, err := s.GetRun(r.Context(), runID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Run not found", nil)
			return
		}
		if err != nil {
			slog.Error("loading run failed", "run_id", runID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load run", nil)
			return
		}

		view := RunView{Run: run}
		if c != nil {
			if status, found, err := c.RunStatus(r.Context(), runID); err == nil && found {
				view.LiveStatus = status
			}
			if counts, err := c.Counts(r.Context(), runID); err == nil {
				view.Counters = counts
			} else {
				slog.Warn("reading run counters failed", "run_id", runID, "error", err)
			}
		}
		response.JSON(w, view)
	}
}

// NewListOutcomesHandler returns an http.HandlerFunc for GET
// /api/v1/runs/{runID}/outcomes. Supports page, limit, status and
// archetype query parameters.
func NewListOutcomesHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, ok := parseRunID(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		details := map[string][]string{}
		page := 1
		if v := q.Get("page"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				details["page"] = append(details["page"], "page must be a positive integer")
			} else {
				page = n
			}
		}
		limit := defaultPageLimit
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxPageLimit {
				details["limit"] = append(details["limit"], "limit must be between 1 and 500")
			} else {
				limit = n
			}
		}
		status := models.TaskStatus(q.Get("status"))
		if status != "" && !validOutcomeStatuses[status] {
			details["status"] = append(details["status"], "status must be one of completed, failed")
		}
		if len(details) > 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid query parameters", details)
			return
		}

		outcomes, total, err := s.ListOutcomes(r.Context(), store.OutcomeFilter{
			RunID:         runID,
			Status:        status,
			ArchetypeCode: q.Get("archetype"),
			Page:          page,
			Limit:         limit,
		})
		if err != nil {
			slog.Error("listing outcomes failed", "run_id", runID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list outcomes", nil)
			return
		}
		if outcomes == nil {
			outcomes = []*models.TaskOutcome{}
		}
		response.Collection(w, outcomes, response.NewPaginationMeta(page, limit, total))
	}
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_RUN_ID", "Run ID must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
