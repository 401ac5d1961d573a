package models

import (
	"context"
	"errors"
)

var (
	// ErrDivergence marks a solver run that did not converge. It is a valid
	// terminal collapse sample, not a failure.
	ErrDivergence         = errors.New("structural analysis diverged")
	ErrBackendUnavailable = errors.New("structural backend unavailable")
	ErrBackendTimeout     = errors.New("structural backend timeout")
	ErrInvalidResponse    = errors.New("structural backend returned invalid response")
)

// BackendRequest is one nonlinear time-history run of a stick model.
type BackendRequest struct {
	Params        StructuralParameterSet `json:"params"`
	Waveform      []float64              `json:"waveform"`
	DT            float64                `json:"dt"`
	Damping       float64                `json:"damping"`
	CollapseDrift float64                `json:"collapse_drift"`
}

type BackendResponse struct {
	MaxDriftRatio float64 `json:"max_drift_ratio"`
	Converged     bool    `json:"converged"`
}

// StructuralBackend runs one analysis per call. Implementations rebuild
// solver state every call and keep nothing between calls.
type StructuralBackend interface {
	Name() string
	RunOnce(ctx context.Context, req BackendRequest) (BackendResponse, error)
}
