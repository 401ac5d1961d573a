// Package backend constructs the structural analysis backend a run uses.
package backend

import (
	"fmt"

	"github.com/kiranshivaraju/fragility/internal/backend/process"
	"github.com/kiranshivaraju/fragility/internal/backend/remote"
	"github.com/kiranshivaraju/fragility/internal/config"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

// NewBackend constructs the backend selected by cfg.Kind.
// Called once at startup.
func NewBackend(cfg config.BackendConfig) (models.StructuralBackend, error) {
	switch cfg.Kind {
	case "exec":
		if cfg.Exec.Command == "" {
			return nil, fmt.Errorf("exec backend requires a solver command")
		}
		return process.NewBackend(cfg.Exec.Command, cfg.Exec.Args...), nil
	case "http":
		return remote.NewHTTPBackend(cfg.HTTP.BaseURL, cfg.HTTP.Token, cfg.Timeout), nil
	case "mock":
		return NewPowerLaw(cfg.Mock.A, cfg.Mock.B, cfg.Mock.DivergeAt), nil
	default:
		return nil, fmt.Errorf("unknown backend %q: must be one of exec, http, mock", cfg.Kind)
	}
}
