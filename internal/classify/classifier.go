// Package classify maps raw building records onto archetype codes.
package classify

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// ErrClassification excludes one building from the batch.
var ErrClassification = errors.New("building classification failed")

// ReferenceYear separates the PRE and POST construction eras. Buildings
// completed in or before this year are PRE.
const ReferenceYear = 1999

const (
	smallAreaLimit = 150.0
	largeAreaLimit = 500.0
)

var floorCodePattern = regexp.MustCompile(`^(\d+)([A-Z])$`)

type AgeSource string

const (
	AgeFromMaxAge     AgeSource = "max_age"
	AgeFromPolygonMax AgeSource = "polygon_max_age"
	AgeFromDefault    AgeSource = "default"
)

// Classification is the outcome of classifying one building.
type Classification struct {
	BuildingID         string               `json:"building_id"`
	Code               models.ArchetypeCode `json:"archetype"`
	Age                int                  `json:"age"`
	AgeSource          AgeSource            `json:"age_source"`
	AreaSqm            float64              `json:"area_sqm"`
	RepresentativeArea float64              `json:"representative_area_sqm"`
	Height             float64              `json:"height"`
}

// Classify derives the archetype code of rec. It has no side effects;
// age-source counting is done by AgeTally.
func Classify(rec models.BuildingRecord, currentYear int) (Classification, error) {
	if !positive(rec.AreaSqm) || !positive(rec.Height) {
		return Classification{}, fmt.Errorf("%w: building %s: area=%v height=%v",
			ErrClassification, rec.ID, rec.AreaSqm, rec.Height)
	}

	stories, system, err := resolveFloors(rec)
	if err != nil {
		return Classification{}, fmt.Errorf("%w: building %s: %v", ErrClassification, rec.ID, err)
	}

	age, src := resolveAge(rec, currentYear)
	scale := ScaleFor(rec.AreaSqm)

	return Classification{
		BuildingID: rec.ID,
		Code: models.ArchetypeCode{
			System:  system,
			Era:     EraFor(age, currentYear),
			Stories: stories,
			Scale:   scale,
		},
		Age:                age,
		AgeSource:          src,
		AreaSqm:            rec.AreaSqm,
		RepresentativeArea: scale.RepresentativeArea(),
		Height:             rec.Height,
	}, nil
}

// ParseFloorCode parses a "<digits><letter>" floor code such as "5R" or "12M".
func ParseFloorCode(code string) (int, models.StructuralSystem, error) {
	m := floorCodePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(code)))
	if m == nil {
		return 0, "", fmt.Errorf("invalid floor code %q", code)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, "", fmt.Errorf("invalid story count in floor code %q", code)
	}
	if m[2] == "M" {
		return n, models.SystemSC, nil
	}
	return n, models.SystemRC, nil
}

// EraFor returns PRE when the construction year is on or before ReferenceYear.
func EraFor(age, currentYear int) models.Era {
	if currentYear-age <= ReferenceYear {
		return models.EraPre
	}
	return models.EraPost
}

// ScaleFor buckets a footprint area: S below 150 m², L above 500 m², M otherwise.
func ScaleFor(areaSqm float64) models.AreaScale {
	switch {
	case areaSqm < smallAreaLimit:
		return models.ScaleSmall
	case areaSqm <= largeAreaLimit:
		return models.ScaleMedium
	default:
		return models.ScaleLarge
	}
}

// DefaultAge is assigned when no age is known, placing the building in the PRE era.
func DefaultAge(currentYear int) int {
	return currentYear - ReferenceYear
}

func resolveFloors(rec models.BuildingRecord) (int, models.StructuralSystem, error) {
	if strings.TrimSpace(rec.FloorCode) != "" {
		return ParseFloorCode(rec.FloorCode)
	}
	if len(rec.SubPolygons) == 0 {
		return 0, "", errors.New("floor code missing and no sub-polygons")
	}

	best := 0
	system := models.SystemRC
	for _, p := range rec.SubPolygons {
		if p.FloorCode == "" {
			continue
		}
		n, sys, err := ParseFloorCode(p.FloorCode)
		if err != nil {
			continue
		}
		if n > best {
			best, system = n, sys
		}
	}
	if best == 0 {
		return 0, "", errors.New("floor code missing in all sub-polygons")
	}
	return best, system, nil
}

func resolveAge(rec models.BuildingRecord, currentYear int) (int, AgeSource) {
	if rec.MaxAge != nil && positive(*rec.MaxAge) {
		if a := int(*rec.MaxAge); a > 0 {
			return a, AgeFromMaxAge
		}
	}

	best := 0
	for _, p := range rec.SubPolygons {
		if p.Age == nil || !positive(*p.Age) {
			continue
		}
		if a := int(*p.Age); a > best {
			best = a
		}
	}
	if best > 0 {
		return best, AgeFromPolygonMax
	}

	return DefaultAge(currentYear), AgeFromDefault
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Statistics summarizes a classified batch.
type Statistics struct {
	TotalBuildings        int            `json:"total_buildings"`
	UniqueArchetypes      int            `json:"unique_archetypes"`
	ArchetypeDistribution map[string]int `json:"archetype_distribution"`
	BySystem              map[string]int `json:"by_structural_system"`
	ByEra                 map[string]int `json:"by_era"`
	ByScale               map[string]int `json:"by_area_scale"`
	MeanStories           float64        `json:"mean_stories"`
	MaxStories            int            `json:"max_stories"`
}

// Summarize computes the archetype distribution of a batch.
func Summarize(items []Classification) Statistics {
	st := Statistics{
		TotalBuildings:        len(items),
		ArchetypeDistribution: make(map[string]int),
		BySystem:              make(map[string]int),
		ByEra:                 make(map[string]int),
		ByScale:               make(map[string]int),
	}
	var stories int
	for _, c := range items {
		st.ArchetypeDistribution[c.Code.String()]++
		st.BySystem[string(c.Code.System)]++
		st.ByEra[string(c.Code.Era)]++
		st.ByScale[string(c.Code.Scale)]++
		stories += c.Code.Stories
		if c.Code.Stories > st.MaxStories {
			st.MaxStories = c.Code.Stories
		}
	}
	st.UniqueArchetypes = len(st.ArchetypeDistribution)
	if len(items) > 0 {
		st.MeanStories = float64(stories) / float64(len(items))
	}
	return st
}

// TopArchetypes returns the n most frequent codes, most frequent first.
func (s Statistics) TopArchetypes(n int) []string {
	codes := make([]string, 0, len(s.ArchetypeDistribution))
	for c := range s.ArchetypeDistribution {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		ci, cj := s.ArchetypeDistribution[codes[i]], s.ArchetypeDistribution[codes[j]]
		if ci != cj {
			return ci > cj
		}
		return codes[i] < codes[j]
	})
	if n > 0 && len(codes) > n {
		codes = codes[:n]
	}
	return codes
}
