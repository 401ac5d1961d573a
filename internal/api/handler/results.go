package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/fragility/internal/api/response"
	"github.com/kiranshivaraju/fragility/internal/store"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

const maxLookupCodes = 200

// NewGetResultHandler returns an http.HandlerFunc for GET
// /api/v1/results/{code}, served from the database copy of the results.
func NewGetResultHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := models.ParseArchetypeCode(chi.URLParam(r, "code"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_ARCHETYPE_CODE", err.Error(), nil)
			return
		}

		result, err := s.GetFragilityResult(r.Context(), code.String())
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "No stored result for archetype", nil)
			return
		}
		if err != nil {
			slog.Error("loading fragility result failed", "archetype", code.String(), "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load result", nil)
			return
		}
		response.JSON(w, result)
	}
}

// NewLookupResultsHandler returns an http.HandlerFunc for POST
// /api/v1/results/lookup. The body is {"codes": [...]}; codes without a
// stored result are listed under "missing".
func NewLookupResultsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Codes []string `json:"codes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		details := map[string][]string{}
		if len(req.Codes) == 0 {
			details["codes"] = append(details["codes"], "codes is required")
		}
		if len(req.Codes) > maxLookupCodes {
			details["codes"] = append(details["codes"], "at most 200 codes per request")
		}
		codes := make([]string, 0, len(req.Codes))
		for _, raw := range req.Codes {
			code, err := models.ParseArchetypeCode(raw)
			if err != nil {
				details["codes"] = append(details["codes"], err.Error())
				continue
			}
			codes = append(codes, code.String())
		}
		if len(details) > 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", details)
			return
		}

		results, err := s.GetFragilityResultsByCodes(r.Context(), codes)
		if err != nil {
			slog.Error("looking up fragility results failed", "codes", len(codes), "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load results", nil)
			return
		}

		found := make(map[string]bool, len(results))
		for _, res := range results {
			found[models.NormalizeKey(res.ArchetypeCode)] = true
		}
		missing := []string{}
		for _, c := range codes {
			if !found[c] {
				missing = append(missing, c)
			}
		}
		if results == nil {
			results = []*models.FragilityCurveResult{}
		}
		response.JSON(w, map[string]any{
			"results": results,
			"missing": missing,
		})
	}
}
