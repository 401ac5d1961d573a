package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/fragility/internal/archetype"
	"github.com/kiranshivaraju/fragility/internal/fragility"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

// Analyzer computes the fragility result of one archetype:
// synthesize, sweep every record, fit.
type Analyzer struct {
	runner     *Runner
	records    []models.GroundMotionRecord
	thresholds []fragility.Threshold
}

func NewAnalyzer(runner *Runner, records []models.GroundMotionRecord, thresholds []fragility.Threshold) *Analyzer {
	if len(thresholds) == 0 {
		thresholds = fragility.DefaultThresholds()
	}
	return &Analyzer{runner: runner, records: records, thresholds: thresholds}
}

// Analyze returns a fresh result stamped with its computation time.
func (a *Analyzer) Analyze(ctx context.Context, code models.ArchetypeCode) (*models.FragilityCurveResult, error) {
	start := time.Now()

	params, err := archetype.Synthesize(code)
	if err != nil {
		return nil, err
	}

	samples, err := a.runner.Run(ctx, params, a.records)
	if err != nil {
		return nil, fmt.Errorf("running IDA for %s: %w", code, err)
	}

	fit, err := fragility.Fit(samples, a.thresholds)
	if err != nil {
		return nil, fmt.Errorf("fitting %s: %w", code, err)
	}

	result := fragility.Result(code.String(), fit, len(samples))
	result.ComputationTime = time.Since(start).Seconds()
	result.ComputedAt = time.Now().UTC()

	slog.Info("archetype analyzed",
		"archetype", result.ArchetypeCode,
		"method", result.SourceMethod,
		"confidence", result.Confidence,
		"n_samples", result.SampleCount,
		"duration", time.Since(start),
	)
	return result, nil
}
