package backend

import (
	"context"
	"fmt"
	"math"

	"github.com/kiranshivaraju/fragility/internal/groundmotion"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

// PowerLaw answers every run with the closed-form demand
// drift = A·PGA^B, where PGA is that of the scaled waveform in g.
// It is meant for dry runs and tests, not for engineering results.
type PowerLaw struct {
	A         float64
	B         float64
	DivergeAt float64
}

// NewPowerLaw returns a PowerLaw backend. divergeAt <= 0 never diverges.
func NewPowerLaw(a, b, divergeAt float64) *PowerLaw {
	return &PowerLaw{A: a, B: b, DivergeAt: divergeAt}
}

func (p *PowerLaw) Name() string { return "mock" }

func (p *PowerLaw) RunOnce(ctx context.Context, req models.BackendRequest) (models.BackendResponse, error) {
	if err := ctx.Err(); err != nil {
		return models.BackendResponse{}, fmt.Errorf("%w: %v", models.ErrBackendTimeout, err)
	}
	if err := req.Params.Validate(); err != nil {
		return models.BackendResponse{}, err
	}
	pga := groundmotion.PGA(req.Waveform, req.DT)
	drift := p.A * math.Pow(pga, p.B)
	if math.IsNaN(drift) || math.IsInf(drift, 0) {
		return models.BackendResponse{}, fmt.Errorf("%w: drift %v", models.ErrInvalidResponse, drift)
	}
	if p.DivergeAt > 0 && drift > p.DivergeAt {
		return models.BackendResponse{MaxDriftRatio: drift, Converged: false}, nil
	}
	return models.BackendResponse{MaxDriftRatio: drift, Converged: true}, nil
}

var _ models.StructuralBackend = (*PowerLaw)(nil)
