package models

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type StructuralSystem string

const (
	SystemRC StructuralSystem = "RC"
	SystemSC StructuralSystem = "SC"
)

type Era string

const (
	EraPre  Era = "PRE"
	EraPost Era = "POST"
)

type AreaScale string

const (
	ScaleSmall  AreaScale = "S"
	ScaleMedium AreaScale = "M"
	ScaleLarge  AreaScale = "L"
)

// ErrInvalidArchetypeCode is returned when a string does not parse as an archetype code.
var ErrInvalidArchetypeCode = errors.New("invalid archetype code")

var archetypeCodePattern = regexp.MustCompile(`^(RC|SC)-(PRE|POST)-(\d+)F-([SML])$`)

// ArchetypeCode identifies a bucket of structurally similar buildings.
// Two buildings with equal codes share one cache entry.
type ArchetypeCode struct {
	System  StructuralSystem `json:"structural_system"`
	Era     Era              `json:"era"`
	Stories int              `json:"story_count"`
	Scale   AreaScale        `json:"area_scale"`
}

// String renders the canonical form, e.g. "RC-PRE-5F-S".
func (c ArchetypeCode) String() string {
	return fmt.Sprintf("%s-%s-%dF-%s", c.System, c.Era, c.Stories, c.Scale)
}

// ParseArchetypeCode parses the canonical form. Input is normalized first.
func ParseArchetypeCode(s string) (ArchetypeCode, error) {
	m := archetypeCodePattern.FindStringSubmatch(NormalizeKey(s))
	if m == nil {
		return ArchetypeCode{}, fmt.Errorf("%w: %q", ErrInvalidArchetypeCode, s)
	}
	stories, err := strconv.Atoi(m[3])
	if err != nil || stories < 1 {
		return ArchetypeCode{}, fmt.Errorf("%w: story count in %q", ErrInvalidArchetypeCode, s)
	}
	return ArchetypeCode{
		System:  StructuralSystem(m[1]),
		Era:     Era(m[2]),
		Stories: stories,
		Scale:   AreaScale(m[4]),
	}, nil
}

// NormalizeKey is the cache key form of an archetype code.
func NormalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// RepresentativeArea is the fixed footprint (m²) used for every building of a scale.
func (s AreaScale) RepresentativeArea() float64 {
	switch s {
	case ScaleSmall:
		return 100
	case ScaleMedium:
		return 300
	case ScaleLarge:
		return 700
	default:
		return 0
	}
}

// Material returns "concrete" or "steel".
func (s StructuralSystem) Material() string {
	if s == SystemSC {
		return "steel"
	}
	return "concrete"
}
