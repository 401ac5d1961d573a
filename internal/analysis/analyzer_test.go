package analysis_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/kiranshivaraju/fragility/internal/analysis"
	"github.com/kiranshivaraju/fragility/internal/archetype"
	"github.com/kiranshivaraju/fragility/internal/backend/mock"
	"github.com/kiranshivaraju/fragility/internal/fragility"
	"github.com/kiranshivaraju/fragility/internal/groundmotion"
	"github.com/kiranshivaraju/fragility/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scatteredBackend answers drift = 0.02·PGA^1.2 times a per-record factor
// so the demand regression has a non-zero residual.
func scatteredBackend() *mock.MockBackend {
	factors := []float64{0.8, 1.0, 1.25}
	return &mock.MockBackend{
		Name_: "scattered",
		RunOnceFunc: func(_ context.Context, req models.BackendRequest) (models.BackendResponse, error) {
			pga := groundmotion.PGA(req.Waveform, req.DT)
			f := factors[(len(req.Waveform)-300)%len(factors)]
			return models.BackendResponse{MaxDriftRatio: 0.02 * math.Pow(pga, 1.2) * f, Converged: true}, nil
		},
	}
}

func TestAnalyze_ProducesSevenBins(t *testing.T) {
	w, recs := fixture("EQ001", "EQ002", "EQ003")
	runner := analysis.NewRunner(scatteredBackend(), w, settings())
	a := analysis.NewAnalyzer(runner, recs, nil)

	code, err := models.ParseArchetypeCode("SC-POST-7F-M")
	require.NoError(t, err)

	before := time.Now().UTC()
	result, err := a.Analyze(context.Background(), code)
	require.NoError(t, err)

	assert.Equal(t, "SC-POST-7F-M", result.ArchetypeCode)
	assert.Len(t, result.CollapseProbabilities, len(models.IntensityLevels))
	for _, level := range models.IntensityLevels {
		p, ok := result.CollapseProbabilities[level]
		require.True(t, ok, level)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
	assert.Equal(t, 30, result.SampleCount)
	assert.Equal(t, models.MethodPSDM, result.SourceMethod)
	assert.False(t, result.ComputedAt.Before(before))
	assert.GreaterOrEqual(t, result.ComputationTime, 0.0)
	assert.Contains(t, result.FragilityParams, "Complete")
}

func TestAnalyze_InvalidCode(t *testing.T) {
	w, recs := fixture("EQ001")
	a := analysis.NewAnalyzer(analysis.NewRunner(mock.NewPowerLawBackend(0.02, 1.2), w, settings()), recs, nil)

	_, err := a.Analyze(context.Background(), models.ArchetypeCode{System: "XX", Era: models.EraPre, Stories: 3, Scale: models.ScaleSmall})
	assert.ErrorIs(t, err, archetype.ErrSynthesis)
}

func TestAnalyze_FitExhausted(t *testing.T) {
	w, recs := fixture("EQ001")
	zero := &mock.MockBackend{}
	a := analysis.NewAnalyzer(analysis.NewRunner(zero, w, settings()), recs, nil)

	code, _ := models.ParseArchetypeCode("RC-POST-3F-L")
	_, err := a.Analyze(context.Background(), code)
	assert.ErrorIs(t, err, fragility.ErrExhausted)
}
