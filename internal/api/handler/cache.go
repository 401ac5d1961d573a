package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/fragility/internal/api/response"
	"github.com/kiranshivaraju/fragility/internal/cache"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

// NewCacheStatsHandler returns an http.HandlerFunc for GET
// /api/v1/cache/stats. The master file is read fresh on every request and
// never written.
func NewCacheStatsHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := cache.Open(path, cache.Options{Role: cache.RoleWorker, LoadRetries: 1})
		if err != nil {
			slog.Error("reading cache for stats failed", "path", path, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read cache", nil)
			return
		}
		response.JSON(w, c.ExportStatistics())
	}
}

// NewCacheEntryHandler returns an http.HandlerFunc for GET
// /api/v1/cache/entries/{code}.
func NewCacheEntryHandler(view *cache.MasterView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "code")
		code, err := models.ParseArchetypeCode(raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_ARCHETYPE_CODE", err.Error(), nil)
			return
		}

		entry, ok := view.Get(r.Context(), code.String())
		if !ok {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "No cached result for archetype", nil)
			return
		}
		response.JSON(w, entry)
	}
}
