// Package validate checks fragility curves for completeness, range,
// monotonicity, plausibility and consistency, and scores a batch.
package validate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Check names as they appear in findings and reports.
const (
	CheckAnalysis        = "analysis_success"
	CheckCompleteness    = "completeness"
	CheckRange           = "probability_range"
	CheckMonotonicity    = "monotonicity"
	CheckPlausibility    = "plausibility"
	CheckCode            = "archetype_code_consistency"
	CheckTimestamp       = "timestamp_validity"
	CheckComputationTime = "computation_time_validity"
)

// Rules are the thresholds the checks apply.
type Rules struct {
	MaxDecrease        float64 `json:"monotonicity_max_decrease"`
	Level3Max          float64 `json:"level_3_max"`
	Level4Max          float64 `json:"level_4_max"`
	Level7Min          float64 `json:"level_7_min"`
	MaxComputationTime float64 `json:"max_computation_time_s"`
}

func DefaultRules() Rules {
	return Rules{
		MaxDecrease:        0.05,
		Level3Max:          0.01,
		Level4Max:          0.05,
		Level7Min:          0.1,
		MaxComputationTime: 7200,
	}
}

// Finding is one failed check.
type Finding struct {
	Item     string   `json:"item_id,omitempty"`
	Severity Severity `json:"severity"`
	Check    string   `json:"check_name"`
	Level    string   `json:"level,omitempty"`
	Message  string   `json:"message"`
}

// Report is the outcome of validating one result. Valid is false when any
// finding is an error.
type Report struct {
	Valid    bool      `json:"valid"`
	Findings []Finding `json:"findings"`
}

func (r Report) has(sev Severity) bool {
	for _, f := range r.Findings {
		if f.Severity == sev {
			return true
		}
	}
	return false
}

type Validator struct {
	rules Rules
	now   func() time.Time
}

type Option func(*Validator)

func WithRules(r Rules) Option {
	return func(v *Validator) {
		v.rules = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{rules: DefaultRules(), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks r with the default rules. key is the cache key r was
// stored under; an empty key skips the code check.
func Validate(key string, r *models.FragilityCurveResult) Report {
	return New().Validate(key, r)
}

func (v *Validator) Validate(key string, r *models.FragilityCurveResult) Report {
	rep := Report{Findings: []Finding{}}
	add := func(sev Severity, check, level, format string, args ...any) {
		rep.Findings = append(rep.Findings, Finding{
			Severity: sev,
			Check:    check,
			Level:    level,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if r == nil {
		add(SeverityError, CheckAnalysis, "", "analysis failed, no result available")
		return rep
	}

	probs := r.CollapseProbabilities
	for _, level := range models.IntensityLevels {
		if _, ok := probs[level]; !ok {
			add(SeverityError, CheckCompleteness, level, "missing intensity level %s", level)
		}
	}

	for _, level := range sortedLevels(probs) {
		p := probs[level]
		switch {
		case math.IsNaN(p) || math.IsInf(p, 0):
			add(SeverityError, CheckRange, level, "probability at level %s is not finite", level)
		case p < 0 || p > 1:
			add(SeverityError, CheckRange, level, "probability %.4f at level %s outside [0, 1]", p, level)
		}
	}

	for i := 1; i < len(models.IntensityLevels); i++ {
		from, to := models.IntensityLevels[i-1], models.IntensityLevels[i]
		a, okA := probs[from]
		b, okB := probs[to]
		if !okA || !okB {
			continue
		}
		if drop := a - b; drop > v.rules.MaxDecrease {
			add(SeverityWarning, CheckMonotonicity, to, "probability drops by %.4f from level %s to %s", drop, from, to)
		}
	}

	if p, ok := probs["3"]; ok && p > v.rules.Level3Max {
		add(SeverityWarning, CheckPlausibility, "3", "level 3 probability too high: %.4f", p)
	}
	if p, ok := probs["4"]; ok && p > v.rules.Level4Max {
		add(SeverityWarning, CheckPlausibility, "4", "level 4 probability too high: %.4f", p)
	}
	if p, ok := probs["7"]; ok && p < v.rules.Level7Min {
		add(SeverityWarning, CheckPlausibility, "7", "level 7 probability too low: %.4f", p)
	}

	if key != "" && models.NormalizeKey(key) != models.NormalizeKey(r.ArchetypeCode) {
		add(SeverityError, CheckCode, "", "archetype code mismatch: expected %s, got %s", key, r.ArchetypeCode)
	}
	switch {
	case r.ComputedAt.IsZero():
		add(SeverityError, CheckTimestamp, "", "missing computation timestamp")
	case r.ComputedAt.After(v.now()):
		add(SeverityWarning, CheckTimestamp, "", "computation timestamp %s is in the future", r.ComputedAt.Format(time.RFC3339))
	}
	switch {
	case r.ComputationTime < 0:
		add(SeverityError, CheckComputationTime, "", "negative computation time: %.1fs", r.ComputationTime)
	case r.ComputationTime > v.rules.MaxComputationTime:
		add(SeverityWarning, CheckComputationTime, "", "very long computation time: %.1fs", r.ComputationTime)
	}

	rep.Valid = !rep.has(SeverityError)
	return rep
}

// Item is one entry of a batch. A nil Result is a failed analysis.
type Item struct {
	ID     string
	Key    string
	Result *models.FragilityCurveResult
}

type CheckCounts struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// QualityMetrics aggregates a batch. ErrorCount counts items with at least
// one error; WarningCount counts the remaining items with a warning.
type QualityMetrics struct {
	Timestamp        time.Time              `json:"timestamp"`
	TotalItems       int                    `json:"total_items"`
	ValidItems       int                    `json:"valid_items"`
	ErrorCount       int                    `json:"error_count"`
	WarningCount     int                    `json:"warning_count"`
	QualityScore     float64                `json:"quality_score"`
	CompletenessRate float64                `json:"completeness_rate"`
	Checks           map[string]CheckCounts `json:"check_summary"`
	Rules            Rules                  `json:"validation_rules"`
	Findings         []Finding              `json:"detailed_results"`
}

func ValidateBatch(items []Item) QualityMetrics {
	return New().ValidateBatch(items)
}

func (v *Validator) ValidateBatch(items []Item) QualityMetrics {
	m := QualityMetrics{
		Timestamp:  v.now(),
		TotalItems: len(items),
		Checks:     make(map[string]CheckCounts),
		Rules:      v.rules,
		Findings:   []Finding{},
	}

	withResult := 0
	for _, it := range items {
		if it.Result != nil {
			withResult++
		}
		rep := v.Validate(it.Key, it.Result)
		for _, f := range rep.Findings {
			f.Item = it.ID
			m.Findings = append(m.Findings, f)
			c := m.Checks[f.Check]
			if f.Severity == SeverityError {
				c.Errors++
			} else {
				c.Warnings++
			}
			m.Checks[f.Check] = c
		}
		switch {
		case !rep.Valid:
			m.ErrorCount++
		case rep.has(SeverityWarning):
			m.WarningCount++
			m.ValidItems++
		default:
			m.ValidItems++
		}
	}

	if m.TotalItems > 0 {
		m.QualityScore = float64(m.ValidItems) / float64(m.TotalItems)
		m.CompletenessRate = float64(withResult) / float64(m.TotalItems)
	}

	slog.Info("batch validation complete",
		"total", m.TotalItems,
		"valid", m.ValidItems,
		"errors", m.ErrorCount,
		"warnings", m.WarningCount,
		"quality_score", m.QualityScore,
		"completeness_rate", m.CompletenessRate,
	)
	return m
}

// WriteReport writes m as indented JSON, creating parent directories.
func WriteReport(m QualityMetrics, path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding validation report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing validation report: %w", err)
	}
	return nil
}

// sortedLevels orders known levels first, then any extra keys.
func sortedLevels(probs map[string]float64) []string {
	rank := make(map[string]int, len(models.IntensityLevels))
	for i, l := range models.IntensityLevels {
		rank[l] = i
	}
	out := make([]string, 0, len(probs))
	for l := range probs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, okI := rank[out[i]]
		rj, okJ := rank[out[j]]
		switch {
		case okI && okJ:
			return ri < rj
		case okI != okJ:
			return okI
		default:
			return out[i] < out[j]
		}
	})
	return out
}
