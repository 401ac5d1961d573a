// Package archetype expands an archetype code into per-story stick-model
// parameters. All quantities are in kgf, cm and s.
package archetype

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// ErrSynthesis is fatal to one archetype only.
var ErrSynthesis = errors.New("parameter synthesis failed")

const (
	Gravity        = 980.665 // cm/s²
	StoryHeight    = 350.0   // cm
	ConcreteEcCoef = 15000.0 // Ec = 15000·√fc'
	SteelE         = 2.04e6  // kgf/cm²
	UnitWeight     = 1000.0  // kgf/m²

	minDensity      = 200.0  // kgf/m²
	maxDensity      = 1000.0 // kgf/m²
	minSafeDensity  = 100.0  // kgf/m²
	absoluteMinMass = 1e-3   // kgf·s²/cm
)

// Synthesize builds the structural parameters of code. It is deterministic:
// equal codes give bit-identical results.
func Synthesize(code models.ArchetypeCode) (models.StructuralParameterSet, error) {
	if code.Stories < 1 {
		return models.StructuralParameterSet{}, fmt.Errorf("%w: %s: story count %d", ErrSynthesis, code, code.Stories)
	}
	area := code.Scale.RepresentativeArea()
	if area <= 0 {
		return models.StructuralParameterSet{}, fmt.Errorf("%w: %s: unknown area scale %q", ErrSynthesis, code, code.Scale)
	}

	var storyFn func(story int) (k, fy, alpha float64)
	n := float64(ColumnCount(area, code.Scale))

	switch code.System {
	case models.SystemRC:
		bands, ok := rcTable[code.Era]
		if !ok {
			return models.StructuralParameterSet{}, fmt.Errorf("%w: %s: unknown era %q", ErrSynthesis, code, code.Era)
		}
		band := bands[rcBandFor(code.Stories)]
		storyFn = func(story int) (float64, float64, float64) {
			k, fy := rcStory(band.rowFor(story), n)
			return k, fy, band.alpha
		}
	case models.SystemSC:
		bands, ok := scTable[code.Era]
		if !ok {
			return models.StructuralParameterSet{}, fmt.Errorf("%w: %s: unknown era %q", ErrSynthesis, code, code.Era)
		}
		band := bands[scBandFor(code.Stories)]
		storyFn = func(story int) (float64, float64, float64) {
			k, fy := scStory(band.rowFor(story), n, area)
			return k, fy, band.alpha
		}
	default:
		return models.StructuralParameterSet{}, fmt.Errorf("%w: %s: unknown structural system %q", ErrSynthesis, code, code.System)
	}

	mass := storyMass(code, area)
	material := code.System.Material()
	params := models.StructuralParameterSet{
		Code:               code.String(),
		Stories:            make([]models.StorySpec, code.Stories),
		ColumnCount:        int(n),
		RepresentativeArea: area,
		Material:           material,
	}
	for i := range params.Stories {
		story := i + 1
		k, fy, alpha := storyFn(story)
		params.Stories[i] = models.StorySpec{
			Story:         story,
			Mass:          mass,
			Stiffness:     k,
			YieldStrength: fy,
			Hardening:     alpha,
			Height:        StoryHeight,
			Material:      material,
		}
	}

	if err := params.Validate(); err != nil {
		return models.StructuralParameterSet{}, fmt.Errorf("%w: %s: %v", ErrSynthesis, code, err)
	}
	return params, nil
}

// ColumnCount estimates the number of columns per story from the footprint.
func ColumnCount(areaSqm float64, scale models.AreaScale) int {
	switch scale {
	case models.ScaleSmall:
		return max(4, int(areaSqm/30))
	case models.ScaleMedium:
		return max(6, int(areaSqm/40))
	default:
		return max(8, int(areaSqm/50))
	}
}

func rcStory(row rcRow, n float64) (k, fy float64) {
	b, h := row.section, row.section
	ic := b * h * h * h / 12
	ast := row.rho * b * h
	my := 0.8 * ast * row.fy * h
	ec := ConcreteEcCoef * math.Sqrt(row.fc)

	kc := 12 * ec * ic / (StoryHeight * StoryHeight * StoryHeight)
	vy := 2 * my / StoryHeight
	return n * kc, n * vy
}

func scStory(row scRow, n, areaSqm float64) (k, fy float64) {
	k = n * 12 * SteelE * row.colIx / (StoryHeight * StoryHeight * StoryHeight)
	mp := row.fy * row.beamZx
	span := math.Sqrt(areaSqm*10000) / 2
	// one beam per column
	return k, n * 2 * mp / span
}

// ExpectedMassRange is the plausible story mass for a footprint, in kgf·s²/cm.
func ExpectedMassRange(areaSqm float64) (lo, hi float64) {
	return minDensity * areaSqm / Gravity, maxDensity * areaSqm / Gravity
}

// MinimumSafeMass is the floor applied to any implausible story mass.
func MinimumSafeMass(areaSqm float64) float64 {
	return math.Max(minSafeDensity*areaSqm/Gravity, absoluteMinMass)
}

func storyMass(code models.ArchetypeCode, areaSqm float64) float64 {
	m := UnitWeight * areaSqm / Gravity
	lo, hi := ExpectedMassRange(areaSqm)
	floor := MinimumSafeMass(areaSqm)

	switch {
	case math.IsNaN(m) || math.IsInf(m, 0) || m <= 0:
		slog.Warn("invalid story mass, clamping", "archetype", code.String(), "mass", m, "clamped", floor)
		return floor
	case m < lo || m > hi:
		slog.Warn("story mass outside expected range",
			"archetype", code.String(), "mass", m, "expected_min", lo, "expected_max", hi)
	}
	return math.Max(m, floor)
}
