// Package api serves the read-only status API of a fragility run.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/kiranshivaraju/fragility/internal/api/middleware"
	"github.com/kiranshivaraju/fragility/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler        http.HandlerFunc
	ProgressHandler      http.HandlerFunc
	CacheStatsHandler    http.HandlerFunc
	CacheEntryHandler    http.HandlerFunc
	GetRunHandler        http.HandlerFunc
	ListOutcomesHandler  http.HandlerFunc
	GetResultHandler     http.HandlerFunc
	LookupResultsHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Get("/api/v1/progress", orNotImplemented(deps.ProgressHandler))

		r.Get("/api/v1/cache/stats", orNotImplemented(deps.CacheStatsHandler))
		r.Get("/api/v1/cache/entries/{code}", orNotImplemented(deps.CacheEntryHandler))

		r.Get("/api/v1/runs/{runID}", orNotImplemented(deps.GetRunHandler))
		r.Get("/api/v1/runs/{runID}/outcomes", orNotImplemented(deps.ListOutcomesHandler))

		r.Get("/api/v1/results/{code}", orNotImplemented(deps.GetResultHandler))
		r.Post("/api/v1/results/lookup", orNotImplemented(deps.LookupResultsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not available in this configuration", nil)
	}
}
