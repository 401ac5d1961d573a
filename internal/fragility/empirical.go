package fragility

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// Parameter bounds shared by the probit and curve fits.
const (
	MinMedian = 0.01
	MaxMedian = 10.0
	MinBeta   = 0.1
	MaxBeta   = 2.0

	heuristicBeta = 0.5
	heuristicR2   = 0.3
)

// Point is the empirical exceedance probability at one intensity level.
type Point struct {
	IM          float64 `json:"im"`
	Probability float64 `json:"probability"`
	Total       int     `json:"n_total"`
}

// EmpiricalCurves computes, per damage state, the fraction of ground
// motions whose demand reaches the threshold at each intensity level.
// Non-converged and collapsed samples exceed every threshold, and a ground
// motion that collapsed at a lower level counts as exceeding at the levels
// its sweep never reached.
func EmpiricalCurves(samples []models.AnalysisSample, thresholds []Threshold) map[string][]Point {
	levels := make(map[float64]struct{})
	collapsedAt := make(map[string]float64)
	byLevel := make(map[float64]map[string]models.AnalysisSample)
	for _, s := range samples {
		if !(s.TargetPGA > 0) {
			continue
		}
		levels[s.TargetPGA] = struct{}{}
		if byLevel[s.TargetPGA] == nil {
			byLevel[s.TargetPGA] = make(map[string]models.AnalysisSample)
		}
		byLevel[s.TargetPGA][s.GMID] = s
		if s.Collapsed || !s.Converged {
			if at, ok := collapsedAt[s.GMID]; !ok || s.TargetPGA < at {
				collapsedAt[s.GMID] = s.TargetPGA
			}
		}
	}

	ims := make([]float64, 0, len(levels))
	for im := range levels {
		ims = append(ims, im)
	}
	sort.Float64s(ims)

	out := make(map[string][]Point, len(thresholds))
	for _, th := range thresholds {
		points := make([]Point, 0, len(ims))
		for _, im := range ims {
			var total, exceed int
			at := byLevel[im]
			for _, s := range at {
				total++
				if s.Collapsed || !s.Converged || s.MaxDrift >= th.IDR {
					exceed++
				}
			}
			for gm, c := range collapsedAt {
				if _, ran := at[gm]; !ran && c < im {
					total++
					exceed++
				}
			}
			if total == 0 {
				continue
			}
			points = append(points, Point{IM: im, Probability: float64(exceed) / float64(total), Total: total})
		}
		out[th.Name] = points
	}
	return out
}

// fitState runs the per-state fallback chain: probit regression, bounded
// lognormal CDF fit, heuristic.
func fitState(points []Point, th Threshold) (models.DamageStateParams, bool) {
	params := models.DamageStateParams{DamageState: th.Name, Threshold: th.IDR}

	if theta, beta, r2, ok := FitProbit(points); ok {
		params.Median, params.Beta, params.RSquared, params.Method = theta, beta, r2, models.MethodTraditional
		return params, true
	}
	if theta, beta, r2, ok := FitLognormalCDF(points); ok {
		params.Median, params.Beta, params.RSquared, params.Method = theta, beta, r2, models.MethodTraditional
		return params, true
	}
	if theta, ok := HeuristicMedian(points); ok {
		params.Median, params.Beta, params.RSquared, params.Method = theta, heuristicBeta, heuristicR2, models.MethodHeuristic
		return params, true
	}
	return params, false
}

// FitProbit regresses ln(IM) on Φ⁻¹(p) over points with 0.001 < p < 0.999.
// The fit is accepted only inside the parameter bounds with R² >= 0.3.
func FitProbit(points []Point) (theta, beta, r2 float64, ok bool) {
	var z, lnIM []float64
	for _, p := range points {
		if p.Probability > 0.001 && p.Probability < 0.999 && p.IM > 0 {
			z = append(z, distuv.UnitNormal.Quantile(p.Probability))
			lnIM = append(lnIM, math.Log(p.IM))
		}
	}
	if len(z) < 3 {
		return 0, 0, 0, false
	}

	intercept, slope := stat.LinearRegression(z, lnIM, nil, false)
	theta = math.Exp(intercept)
	beta = math.Abs(slope)
	r2 = stat.RSquared(z, lnIM, nil, intercept, slope)

	if theta < MinMedian || theta > MaxMedian || beta < MinBeta || beta > MaxBeta || !(r2 >= poorFitRSquared) {
		return 0, 0, 0, false
	}
	return theta, beta, r2, true
}

// FitLognormalCDF least-squares fits a lognormal CDF to the points with
// probabilities clipped to [0.01, 0.99]. It needs two points and a
// probability spread above 0.1.
func FitLognormalCDF(points []Point) (theta, beta, r2 float64, ok bool) {
	var xs, ps []float64
	for _, p := range points {
		if p.IM > 0 {
			xs = append(xs, p.IM)
			ps = append(ps, math.Min(math.Max(p.Probability, 0.01), 0.99))
		}
	}
	if len(xs) < 2 {
		return 0, 0, 0, false
	}
	lo, hi := ps[0], ps[0]
	for _, p := range ps {
		lo, hi = math.Min(lo, p), math.Max(hi, p)
	}
	if hi-lo <= 0.1 {
		return 0, 0, 0, false
	}

	sse := func(theta, beta float64) float64 {
		var s float64
		for i, x := range xs {
			d := ps[i] - LogNormalCDF(x, theta, beta)
			s += d * d
		}
		return s
	}

	problem := optimize.Problem{
		Func: func(v []float64) float64 {
			if v[0] < MinMedian || v[0] > MaxMedian || v[1] < MinBeta || v[1] > MaxBeta {
				return math.Inf(1)
			}
			return sse(v[0], v[1])
		},
	}
	init := []float64{clamp(initialMedian(xs, ps), MinMedian, MaxMedian), heuristicBeta}
	// A termination error still leaves the best point found in result.
	result, _ := optimize.Minimize(problem, init, &optimize.Settings{FuncEvaluations: 2000}, &optimize.NelderMead{})
	if result == nil || len(result.X) != 2 || math.IsNaN(result.X[0]) || math.IsNaN(result.X[1]) {
		return 0, 0, 0, false
	}
	theta = clamp(result.X[0], MinMedian, MaxMedian)
	beta = clamp(result.X[1], MinBeta, MaxBeta)

	mean := stat.Mean(ps, nil)
	var ssTot float64
	for _, p := range ps {
		ssTot += (p - mean) * (p - mean)
	}
	if ssTot > 0 {
		r2 = 1 - sse(theta, beta)/ssTot
	}
	return theta, beta, r2, true
}

func initialMedian(xs, ps []float64) float64 {
	var above []float64
	for i, p := range ps {
		if p >= 0.5 {
			above = append(above, xs[i])
		}
	}
	if len(above) == 0 {
		above = append(above, xs...)
	}
	sorted := append([]float64(nil), above...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.LinInterp, sorted, nil)
}

// HeuristicMedian takes the first intensity with p >= 0.5, or extrapolates
// linearly to 0.5, or doubles the last intensity. The result is clipped to
// the median bounds. It fails when no point has a positive probability.
func HeuristicMedian(points []Point) (float64, bool) {
	var xs, ps []float64
	maxP := 0.0
	for _, p := range points {
		if p.IM > 0 {
			xs = append(xs, p.IM)
			ps = append(ps, p.Probability)
			maxP = math.Max(maxP, p.Probability)
		}
	}
	if len(xs) == 0 || maxP <= 0 {
		return 0, false
	}

	theta := xs[len(xs)-1] * 2
	found := false
	for i, p := range ps {
		if p >= 0.5 {
			theta, found = xs[i], true
			break
		}
	}
	if !found && len(xs) > 1 && xs[len(xs)-1] != xs[0] {
		slope := (ps[len(ps)-1] - ps[0]) / (xs[len(xs)-1] - xs[0])
		if slope > 0 {
			theta = xs[0] + (0.5-ps[0])/slope
		}
	}
	return clamp(theta, MinMedian, MaxMedian), true
}

// LogNormalCDF is P(X <= x) for ln X ~ N(ln theta, beta²).
func LogNormalCDF(x, theta, beta float64) float64 {
	if !(x > 0) || !(theta > 0) || !(beta > 0) {
		return 0
	}
	return distuv.LogNormal{Mu: math.Log(theta), Sigma: beta}.CDF(x)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
