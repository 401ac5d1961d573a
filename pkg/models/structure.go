package models

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidParameters = errors.New("invalid structural parameters")

// StorySpec holds the lumped properties of one story, in kgf·cm·s units.
type StorySpec struct {
	Story         int     `json:"story"`
	Mass          float64 `json:"mass"`
	Stiffness     float64 `json:"k"`
	YieldStrength float64 `json:"fy"`
	Hardening     float64 `json:"alpha"`
	Height        float64 `json:"story_height"`
	Material      string  `json:"material_type"`
}

// StructuralParameterSet is the stick model handed to the analysis backend.
// Stories are ordered bottom to top starting at 1.
type StructuralParameterSet struct {
	Code               string      `json:"archetype_code"`
	Stories            []StorySpec `json:"stories"`
	ColumnCount        int         `json:"column_count"`
	RepresentativeArea float64     `json:"representative_area_sqm"`
	Material           string      `json:"material_type"`
}

// TotalMass sums the story masses.
func (p StructuralParameterSet) TotalMass() float64 {
	var m float64
	for _, s := range p.Stories {
		m += s.Mass
	}
	return m
}

// Validate checks ordering and that every value is finite and positive.
func (p StructuralParameterSet) Validate() error {
	if len(p.Stories) == 0 {
		return fmt.Errorf("%w: no stories", ErrInvalidParameters)
	}
	for i, s := range p.Stories {
		if s.Story != i+1 {
			return fmt.Errorf("%w: story %d out of order at index %d", ErrInvalidParameters, s.Story, i)
		}
		for name, v := range map[string]float64{
			"mass":           s.Mass,
			"stiffness":      s.Stiffness,
			"yield_strength": s.YieldStrength,
			"story_height":   s.Height,
		} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return fmt.Errorf("%w: story %d %s=%v", ErrInvalidParameters, s.Story, name, v)
			}
		}
		if math.IsNaN(s.Hardening) || s.Hardening < 0 {
			return fmt.Errorf("%w: story %d hardening=%v", ErrInvalidParameters, s.Story, s.Hardening)
		}
	}
	return nil
}
