// Package analysis runs incremental dynamic analysis for an archetype and
// turns the samples into a fragility result.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kiranshivaraju/fragility/internal/groundmotion"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

var ErrNoSamples = errors.New("no analysis samples produced")

// WaveformSource loads one component of a catalogued record.
type WaveformSource interface {
	Load(id string, component models.Component) ([]float64, error)
}

// Settings control one IDA sweep.
type Settings struct {
	PGATargets    []float64
	CollapseDrift float64
	Damping       float64
}

// Runner drives the backend through increasing intensities per record.
type Runner struct {
	backend  models.StructuralBackend
	waves    WaveformSource
	targets  []float64
	settings Settings
}

// NewRunner creates a Runner. Targets are sorted ascending; the stop-at-
// collapse rule depends on that order.
func NewRunner(backend models.StructuralBackend, waves WaveformSource, s Settings) *Runner {
	targets := append([]float64(nil), s.PGATargets...)
	sort.Float64s(targets)
	return &Runner{backend: backend, waves: waves, targets: targets, settings: s}
}

// Run sweeps every record's FN component. A collapsed sample ends that
// record's sweep only. A backend error skips that level. Cancellation of
// ctx aborts the whole run.
func (r *Runner) Run(ctx context.Context, params models.StructuralParameterSet, records []models.GroundMotionRecord) ([]models.AnalysisSample, error) {
	var samples []models.AnalysisSample
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wave, err := r.waves.Load(rec.ID, models.ComponentFN)
		if err != nil {
			slog.Warn("skipping ground motion", "archetype", params.Code, "gm_id", rec.ID, "error", err)
			continue
		}
		got, err := r.sweep(ctx, params, rec, wave)
		if err != nil {
			return nil, err
		}
		samples = append(samples, got...)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSamples, params.Code)
	}
	return samples, nil
}

func (r *Runner) sweep(ctx context.Context, params models.StructuralParameterSet, rec models.GroundMotionRecord, wave []float64) ([]models.AnalysisSample, error) {
	var out []models.AnalysisSample
	for i, target := range r.targets {
		scaled, factor, err := groundmotion.Scale(wave, rec.DT, target)
		if err != nil {
			slog.Warn("cannot scale ground motion", "gm_id", rec.ID, "error", err)
			return out, nil
		}

		resp, err := r.backend.RunOnce(ctx, models.BackendRequest{
			Params:        params,
			Waveform:      scaled,
			DT:            rec.DT,
			Damping:       r.settings.Damping,
			CollapseDrift: r.settings.CollapseDrift,
		})
		if err != nil && !errors.Is(err, models.ErrDivergence) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("backend run failed, skipping level",
				"archetype", params.Code, "gm_id", rec.ID, "target_pga", target, "error", err)
			continue
		}
		if err != nil {
			resp = models.BackendResponse{Converged: false}
		}

		s := models.AnalysisSample{
			GMID:        rec.ID,
			Level:       i + 1,
			TargetPGA:   target,
			ScaleFactor: factor,
			MaxDrift:    resp.MaxDriftRatio,
			Converged:   resp.Converged,
			Collapsed:   !resp.Converged || resp.MaxDriftRatio > r.settings.CollapseDrift,
		}
		out = append(out, s)
		if s.Collapsed {
			slog.Debug("collapse reached, stopping sweep",
				"archetype", params.Code, "gm_id", rec.ID, "level", s.Level, "max_idr", s.MaxDrift)
			break
		}
	}
	return out, nil
}
