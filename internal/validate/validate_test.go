package validate_test

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/fragility/internal/validate"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func goodCurve() map[string]float64 {
	return map[string]float64{
		"3": 0.001, "4": 0.005, "5弱": 0.02, "5強": 0.05,
		"6弱": 0.15, "6強": 0.35, "7": 0.65,
	}
}

func result(code string, probs map[string]float64) *models.FragilityCurveResult {
	return &models.FragilityCurveResult{
		ArchetypeCode:         code,
		CollapseProbabilities: probs,
		ComputationTime:       120,
		ComputedAt:            now.Add(-time.Hour),
	}
}

func validator() *validate.Validator {
	return validate.New(validate.WithClock(func() time.Time { return now }))
}

func checks(rep validate.Report, sev validate.Severity) []string {
	var out []string
	for _, f := range rep.Findings {
		if f.Severity == sev {
			out = append(out, f.Check)
		}
	}
	return out
}

// --- Single result ---

func TestValidate_GoodCurve(t *testing.T) {
	rep := validator().Validate("RC-PRE-5F-S", result("RC-PRE-5F-S", goodCurve()))
	assert.True(t, rep.Valid)
	assert.Empty(t, rep.Findings)
}

func TestValidate_BadCurve(t *testing.T) {
	probs := map[string]float64{"3": 0.1, "4": 0.08, "5弱": 1.2, "6弱": 0.2, "7": 0.05}
	rep := validator().Validate("RC-POST-8F-M", result("RC-POST-8F-M", probs))

	assert.False(t, rep.Valid)
	errs := checks(rep, validate.SeverityError)
	assert.Contains(t, errs, validate.CheckCompleteness)
	assert.Contains(t, errs, validate.CheckRange)

	warns := checks(rep, validate.SeverityWarning)
	assert.Contains(t, warns, validate.CheckPlausibility)
	assert.NotContains(t, warns, validate.CheckMonotonicity, "only adjacent present levels are compared")
}

func TestValidate_Completeness(t *testing.T) {
	probs := goodCurve()
	delete(probs, "5強")
	delete(probs, "6強")

	rep := validator().Validate("", result("RC-PRE-5F-S", probs))
	assert.False(t, rep.Valid)

	var levels []string
	for _, f := range rep.Findings {
		if f.Check == validate.CheckCompleteness {
			levels = append(levels, f.Level)
		}
	}
	assert.Equal(t, []string{"5強", "6強"}, levels)
}

func TestValidate_Range(t *testing.T) {
	tests := []struct {
		name string
		p    float64
	}{
		{"negative", -0.01},
		{"above one", 1.0001},
		{"nan", math.NaN()},
		{"inf", math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probs := goodCurve()
			probs["6弱"] = tt.p
			rep := validator().Validate("", result("RC-PRE-5F-S", probs))
			assert.False(t, rep.Valid)
			assert.Contains(t, checks(rep, validate.SeverityError), validate.CheckRange)
		})
	}
}

func TestValidate_MonotonicityTolerance(t *testing.T) {
	probs := goodCurve()
	probs["6強"] = 0.11 // 0.04 below 6弱: tolerated
	rep := validator().Validate("", result("RC-PRE-5F-S", probs))
	assert.NotContains(t, checks(rep, validate.SeverityWarning), validate.CheckMonotonicity)

	probs["6強"] = 0.09 // 0.06 below 6弱: flagged
	rep = validator().Validate("", result("RC-PRE-5F-S", probs))
	assert.True(t, rep.Valid, "monotonicity is a warning")
	require.Contains(t, checks(rep, validate.SeverityWarning), validate.CheckMonotonicity)
	for _, f := range rep.Findings {
		if f.Check == validate.CheckMonotonicity {
			assert.Equal(t, "6強", f.Level)
		}
	}
}

func TestValidate_Plausibility(t *testing.T) {
	tests := []struct {
		name  string
		level string
		p     float64
	}{
		{"level 3 too high", "3", 0.02},
		{"level 4 too high", "4", 0.06},
		{"level 7 too low", "7", 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probs := map[string]float64{
				"3": 0, "4": 0, "5弱": 0.06, "5強": 0.06,
				"6弱": 0.1, "6強": 0.2, "7": 0.5,
			}
			probs[tt.level] = tt.p
			rep := validator().Validate("", result("RC-PRE-5F-S", probs))
			assert.True(t, rep.Valid)

			found := false
			for _, f := range rep.Findings {
				if f.Check == validate.CheckPlausibility && f.Level == tt.level {
					found = true
				}
			}
			assert.True(t, found, "expected plausibility warning at level %s", tt.level)
		})
	}
}

func TestValidate_Consistency(t *testing.T) {
	t.Run("code mismatch", func(t *testing.T) {
		rep := validator().Validate("SC-PRE-5F-S", result("RC-PRE-5F-S", goodCurve()))
		assert.False(t, rep.Valid)
		assert.Contains(t, checks(rep, validate.SeverityError), validate.CheckCode)
	})

	t.Run("key compared normalized", func(t *testing.T) {
		rep := validator().Validate(" rc-pre-5f-s ", result("RC-PRE-5F-S", goodCurve()))
		assert.True(t, rep.Valid)
	})

	t.Run("future timestamp", func(t *testing.T) {
		r := result("RC-PRE-5F-S", goodCurve())
		r.ComputedAt = now.Add(time.Hour)
		rep := validator().Validate("", r)
		assert.True(t, rep.Valid)
		assert.Contains(t, checks(rep, validate.SeverityWarning), validate.CheckTimestamp)
	})

	t.Run("missing timestamp", func(t *testing.T) {
		r := result("RC-PRE-5F-S", goodCurve())
		r.ComputedAt = time.Time{}
		rep := validator().Validate("", r)
		assert.Contains(t, checks(rep, validate.SeverityError), validate.CheckTimestamp)
	})

	t.Run("negative computation time", func(t *testing.T) {
		r := result("RC-PRE-5F-S", goodCurve())
		r.ComputationTime = -1
		rep := validator().Validate("", r)
		assert.Contains(t, checks(rep, validate.SeverityError), validate.CheckComputationTime)
	})

	t.Run("long computation time", func(t *testing.T) {
		r := result("RC-PRE-5F-S", goodCurve())
		r.ComputationTime = 7201
		rep := validator().Validate("", r)
		assert.True(t, rep.Valid)
		assert.Contains(t, checks(rep, validate.SeverityWarning), validate.CheckComputationTime)
	})
}

func TestValidate_NilResult(t *testing.T) {
	rep := validate.Validate("RC-PRE-5F-S", nil)
	assert.False(t, rep.Valid)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, validate.CheckAnalysis, rep.Findings[0].Check)
}

// --- Batch ---

func TestValidateBatch(t *testing.T) {
	warn := goodCurve()
	warn["3"] = 0.05

	bad := goodCurve()
	bad["5弱"] = 1.5

	items := []validate.Item{
		{ID: "building_000001", Key: "RC-PRE-5F-S", Result: result("RC-PRE-5F-S", goodCurve())},
		{ID: "building_000002", Key: "RC-PRE-5F-S", Result: result("RC-PRE-5F-S", warn)},
		{ID: "building_000003", Key: "RC-POST-8F-M", Result: result("RC-POST-8F-M", bad)},
		{ID: "building_000004", Key: "SC-PRE-3F-L"},
	}

	m := validator().ValidateBatch(items)
	assert.Equal(t, 4, m.TotalItems)
	assert.Equal(t, 2, m.ValidItems)
	assert.Equal(t, 2, m.ErrorCount)
	assert.Equal(t, 1, m.WarningCount)
	assert.InDelta(t, 0.5, m.QualityScore, 1e-9)
	assert.InDelta(t, 0.75, m.CompletenessRate, 1e-9)

	assert.Equal(t, 1, m.Checks[validate.CheckRange].Errors)
	assert.Equal(t, 1, m.Checks[validate.CheckAnalysis].Errors)
	assert.Equal(t, 1, m.Checks[validate.CheckPlausibility].Warnings)

	for _, f := range m.Findings {
		assert.NotEmpty(t, f.Item)
	}
}

func TestValidateBatch_Empty(t *testing.T) {
	m := validate.ValidateBatch(nil)
	assert.Zero(t, m.TotalItems)
	assert.Zero(t, m.QualityScore)
	assert.NotNil(t, m.Findings)
}

func TestWriteReport(t *testing.T) {
	m := validator().ValidateBatch([]validate.Item{
		{ID: "b1", Key: "RC-PRE-5F-S", Result: result("RC-PRE-5F-S", goodCurve())},
		{ID: "b2", Key: "RC-PRE-5F-M"},
	})

	path := filepath.Join(t.TempDir(), "reports", "validation_report.json")
	require.NoError(t, validate.WriteReport(m, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got validate.QualityMetrics
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 2, got.TotalItems)
	assert.Equal(t, 1, got.ValidItems)
	assert.InDelta(t, 0.5, got.QualityScore, 1e-9)
	require.Len(t, got.Findings, 1)
	assert.Equal(t, "b2", got.Findings[0].Item)
	assert.Equal(t, 0.05, got.Rules.MaxDecrease)
}
