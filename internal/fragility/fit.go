// Package fragility turns IDA samples into lognormal fragility parameters
// and maps the collapse curve onto intensity bins.
package fragility

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

var (
	// ErrRegression means the PSDM regression could not be used. Fit falls
	// back to per-state fitting when it sees this.
	ErrRegression = errors.New("demand regression failed")
	// ErrExhausted means every fitting method failed for the collapse state.
	ErrExhausted = errors.New("all fragility fitting methods failed")
	ErrNoStates  = errors.New("no damage state thresholds")
)

const (
	minPSDMPoints     = 3
	extremeMedian     = 10.0
	extremeDispersion = 3.0
	poorFitRSquared   = 0.3
	highConfidenceR2  = 0.5
)

// Threshold is a damage state and its interstory drift limit.
type Threshold struct {
	Name string  `json:"name"`
	IDR  float64 `json:"idr"`
}

// DefaultThresholds are the HAZUS-style drift limits. The last is collapse.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Name: "Slight", IDR: 0.005},
		{Name: "Moderate", IDR: 0.015},
		{Name: "Extensive", IDR: 0.035},
		{Name: "Complete", IDR: 0.080},
	}
}

// PSDMFit is ln(IDR) = Slope·ln(IM) + Intercept with residual std BetaD.
type PSDMFit struct {
	Slope     float64 `json:"slope_a"`
	Intercept float64 `json:"intercept_b"`
	BetaD     float64 `json:"beta_d_given_im"`
	RSquared  float64 `json:"r_squared"`
	N         int     `json:"n_points"`
}

// CurveParams holds the fitted parameters of one archetype.
type CurveParams struct {
	States     map[string]models.DamageStateParams
	Collapse   string
	Method     models.SourceMethod
	Confidence models.Confidence
	PSDM       *PSDMFit
}

// CollapseParams returns the parameters of the highest-threshold state.
func (p CurveParams) CollapseParams() (models.DamageStateParams, bool) {
	ds, ok := p.States[p.Collapse]
	return ds, ok
}

// Fit derives fragility parameters from samples. It tries the PSDM
// regression first, then per-state empirical fitting, then a heuristic.
func Fit(samples []models.AnalysisSample, thresholds []Threshold) (CurveParams, error) {
	if len(thresholds) == 0 {
		return CurveParams{}, ErrNoStates
	}
	sorted := append([]Threshold(nil), thresholds...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].IDR < sorted[j].IDR })
	collapse := sorted[len(sorted)-1].Name

	psdm, err := FitPSDM(samples)
	if err == nil {
		states, err := statesFromPSDM(psdm, sorted)
		if err == nil {
			conf := models.ConfidenceMedium
			if psdm.RSquared >= highConfidenceR2 {
				conf = models.ConfidenceHigh
			}
			return CurveParams{
				States:     states,
				Collapse:   collapse,
				Method:     models.MethodPSDM,
				Confidence: conf,
				PSDM:       &psdm,
			}, nil
		}
		slog.Warn("PSDM parameters rejected, falling back", "error", err)
	} else {
		slog.Debug("PSDM regression unavailable, falling back", "error", err)
	}

	curves := EmpiricalCurves(samples, sorted)
	states := make(map[string]models.DamageStateParams, len(sorted))
	for _, th := range sorted {
		ds, ok := fitState(curves[th.Name], th)
		if !ok {
			slog.Warn("no fragility fit for damage state", "damage_state", th.Name)
			continue
		}
		states[th.Name] = ds
	}

	col, ok := states[collapse]
	if !ok {
		return CurveParams{}, fmt.Errorf("%w: collapse state %q", ErrExhausted, collapse)
	}
	conf := models.ConfidenceMedium
	if col.Method == models.MethodHeuristic {
		conf = models.ConfidenceLow
	}
	return CurveParams{
		States:     states,
		Collapse:   collapse,
		Method:     col.Method,
		Confidence: conf,
	}, nil
}

// FitPSDM regresses ln(drift) on ln(PGA) over converged, non-collapsed
// samples with positive drift and intensity.
func FitPSDM(samples []models.AnalysisSample) (PSDMFit, error) {
	var x, y []float64
	for _, s := range samples {
		if !s.Converged || s.Collapsed || !(s.MaxDrift > 0) || !(s.TargetPGA > 0) {
			continue
		}
		if math.IsInf(s.MaxDrift, 0) || math.IsInf(s.TargetPGA, 0) {
			continue
		}
		x = append(x, math.Log(s.TargetPGA))
		y = append(y, math.Log(s.MaxDrift))
	}
	if len(x) < minPSDMPoints {
		return PSDMFit{}, fmt.Errorf("%w: %d usable samples, need %d", ErrRegression, len(x), minPSDMPoints)
	}

	b, a := stat.LinearRegression(x, y, nil, false)
	if !(a > 0) || math.IsInf(a, 0) || math.IsNaN(b) {
		return PSDMFit{}, fmt.Errorf("%w: non-positive slope %g", ErrRegression, a)
	}

	var sse float64
	for i := range x {
		r := y[i] - (a*x[i] + b)
		sse += r * r
	}
	betaD := math.Sqrt(sse / float64(len(x)-2))
	r2 := stat.RSquared(x, y, nil, b, a)

	if r2 < poorFitRSquared {
		slog.Warn("poor PSDM fit", "r_squared", r2, "n_points", len(x))
	}
	return PSDMFit{Slope: a, Intercept: b, BetaD: betaD, RSquared: r2, N: len(x)}, nil
}

func statesFromPSDM(fit PSDMFit, thresholds []Threshold) (map[string]models.DamageStateParams, error) {
	states := make(map[string]models.DamageStateParams, len(thresholds))
	for _, th := range thresholds {
		theta := math.Exp((math.Log(th.IDR) - fit.Intercept) / fit.Slope)
		beta := fit.BetaD / math.Abs(fit.Slope)
		if !finitePositive(theta) || !finitePositive(beta) {
			return nil, fmt.Errorf("%w: %s: median %g, dispersion %g", ErrRegression, th.Name, theta, beta)
		}
		if theta > extremeMedian || beta > extremeDispersion {
			slog.Warn("extreme fragility parameters", "damage_state", th.Name, "median", theta, "beta", beta)
		}
		states[th.Name] = models.DamageStateParams{
			DamageState: th.Name,
			Threshold:   th.IDR,
			Median:      theta,
			Beta:        beta,
			RSquared:    fit.RSquared,
			Method:      models.MethodPSDM,
		}
	}
	return states, nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
