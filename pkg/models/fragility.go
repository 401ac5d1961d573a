package models

import "time"

// IntensityLevels are the Taiwan CWA intensity labels every curve is reported on, in order.
var IntensityLevels = []string{"3", "4", "5弱", "5強", "6弱", "6強", "7"}

type SourceMethod string

const (
	MethodPSDM        SourceMethod = "PSDM"
	MethodTraditional SourceMethod = "Traditional"
	MethodHeuristic   SourceMethod = "Heuristic"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DamageStateParams is the lognormal fragility of one damage state.
type DamageStateParams struct {
	DamageState string       `json:"damage_state"`
	Threshold   float64      `json:"threshold_idr"`
	Median      float64      `json:"median_theta"`
	Beta        float64      `json:"lognormal_beta"`
	RSquared    float64      `json:"r_squared"`
	Method      SourceMethod `json:"source_method"`
}

// FragilityCurveResult is the cached unit of value: one archetype's collapse
// probability per intensity level.
type FragilityCurveResult struct {
	ArchetypeCode         string                       `json:"archetype_code"`
	CollapseProbabilities map[string]float64           `json:"collapse_probabilities"`
	FragilityParams       map[string]DamageStateParams `json:"fragility_params,omitempty"`
	SourceMethod          SourceMethod                 `json:"source_method,omitempty"`
	Confidence            Confidence                   `json:"confidence,omitempty"`
	ComputationTime       float64                      `json:"computation_time"`
	ComputedAt            time.Time                    `json:"computed_timestamp"`
	SampleCount           int                          `json:"n_samples,omitempty"`
}

// NewerThan reports whether r was computed strictly after other.
func (r *FragilityCurveResult) NewerThan(other *FragilityCurveResult) bool {
	if other == nil {
		return true
	}
	return r.ComputedAt.After(other.ComputedAt)
}

// Clone returns a deep copy so cached entries are never shared for mutation.
func (r *FragilityCurveResult) Clone() *FragilityCurveResult {
	if r == nil {
		return nil
	}
	c := *r
	c.CollapseProbabilities = make(map[string]float64, len(r.CollapseProbabilities))
	for k, v := range r.CollapseProbabilities {
		c.CollapseProbabilities[k] = v
	}
	if r.FragilityParams != nil {
		c.FragilityParams = make(map[string]DamageStateParams, len(r.FragilityParams))
		for k, v := range r.FragilityParams {
			c.FragilityParams[k] = v
		}
	}
	return &c
}
