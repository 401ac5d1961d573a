package fragility

import (
	"math"
	"sort"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// Gravity converts cm/s² to g.
const Gravity = 980.665

// IntensityBin is one CWA intensity level with its PGA band in cm/s².
type IntensityBin struct {
	Level             string  `json:"level"`
	MinPGA            float64 `json:"min_pga"`
	MaxPGA            float64 `json:"max_pga"`
	RepresentativePGA float64 `json:"representative_pga"`
}

// IntensityBins lists the bins in increasing order of intensity.
var IntensityBins = []IntensityBin{
	{Level: "3", MinPGA: 8, MaxPGA: 25, RepresentativePGA: 16.5},
	{Level: "4", MinPGA: 25, MaxPGA: 80, RepresentativePGA: 44.7},
	{Level: "5弱", MinPGA: 80, MaxPGA: 140, RepresentativePGA: 105.8},
	{Level: "5強", MinPGA: 140, MaxPGA: 250, RepresentativePGA: 187.1},
	{Level: "6弱", MinPGA: 250, MaxPGA: 440, RepresentativePGA: 331.7},
	{Level: "6強", MinPGA: 440, MaxPGA: 800, RepresentativePGA: 592.8},
	{Level: "7", MinPGA: 800, MaxPGA: 2000, RepresentativePGA: 1265.0},
}

// ToIntensityBins evaluates the collapse curve at each bin's representative
// PGA. It returns nil when params carries no collapse state.
func ToIntensityBins(params CurveParams) map[string]float64 {
	ds, ok := params.CollapseParams()
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(IntensityBins))
	for _, b := range IntensityBins {
		out[b.Level] = clamp(LogNormalCDF(b.RepresentativePGA/Gravity, ds.Median, ds.Beta), 0, 1)
	}
	return out
}

// ProbabilityAt is the collapse probability at an arbitrary PGA in cm/s².
func ProbabilityAt(params CurveParams, pgaCms2 float64) float64 {
	ds, ok := params.CollapseParams()
	if !ok {
		return 0
	}
	return clamp(LogNormalCDF(pgaCms2/Gravity, ds.Median, ds.Beta), 0, 1)
}

// IntensityLevelFor returns the bin containing pga (cm/s²). Bands are
// half-open [min, max); the top bin also takes anything above its max.
func IntensityLevelFor(pgaCms2 float64) (string, bool) {
	if math.IsNaN(pgaCms2) || pgaCms2 < IntensityBins[0].MinPGA {
		return "", false
	}
	for _, b := range IntensityBins {
		if pgaCms2 < b.MaxPGA {
			return b.Level, true
		}
	}
	return IntensityBins[len(IntensityBins)-1].Level, true
}

// NoDamage is the state below the first threshold.
const NoDamage = "None"

// DamageState classifies a drift. Non-converged runs and drifts at or above
// the highest threshold land in the highest state.
func DamageState(idr float64, converged bool, thresholds []Threshold) string {
	if len(thresholds) == 0 {
		return NoDamage
	}
	sorted := append([]Threshold(nil), thresholds...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].IDR < sorted[j].IDR })

	if !converged || math.IsNaN(idr) {
		return sorted[len(sorted)-1].Name
	}
	state := NoDamage
	for _, th := range sorted {
		if idr < th.IDR {
			break
		}
		state = th.Name
	}
	return state
}

// Result assembles the cached result for code from fitted params.
func Result(code string, params CurveParams, samples int) *models.FragilityCurveResult {
	states := make(map[string]models.DamageStateParams, len(params.States))
	for k, v := range params.States {
		states[k] = v
	}
	return &models.FragilityCurveResult{
		ArchetypeCode:         code,
		CollapseProbabilities: ToIntensityBins(params),
		FragilityParams:       states,
		SourceMethod:          params.Method,
		Confidence:            params.Confidence,
		SampleCount:           samples,
	}
}
