package archetype

import "github.com/kiranshivaraju/fragility/pkg/models"

type storyRange struct{ lo, hi int }

func (r storyRange) contains(story int) bool { return r.lo <= story && story <= r.hi }

// rcRow is one story-range row of the RC reference table. Sections are square (b = h).
type rcRow struct {
	stories storyRange
	section float64 // cm
	fc      float64 // kgf/cm²
	fy      float64 // kgf/cm²
	rho     float64
}

type rcBand struct {
	rows  []rcRow
	alpha float64
}

// scRow is one story-range row of the SC reference table.
type scRow struct {
	stories storyRange
	colIx   float64 // cm⁴
	colZx   float64 // cm³
	beamIx  float64 // cm⁴
	beamZx  float64 // cm³
	fy      float64 // kgf/cm²
}

type scBand struct {
	rows  []scRow
	alpha float64
}

func rcBandFor(stories int) string {
	switch {
	case stories <= 7:
		return "low"
	case stories <= 14:
		return "mid"
	case stories <= 19:
		return "high"
	default:
		return "very_high"
	}
}

func scBandFor(stories int) string {
	switch {
	case stories <= 5:
		return "low"
	case stories <= 11:
		return "mid"
	default:
		return "high"
	}
}

var (
	lowRanges      = []storyRange{{7, 7}, {3, 6}, {1, 2}}
	midRanges      = []storyRange{{11, 14}, {5, 10}, {1, 4}}
	highRanges     = []storyRange{{11, 999}, {6, 10}, {1, 5}}
	veryHighRanges = []storyRange{{20, 999}, {8, 19}, {1, 7}}
)

func rcRows(ranges []storyRange, sections, fc, fy, rho [3]float64) []rcRow {
	rows := make([]rcRow, len(ranges))
	for i, r := range ranges {
		rows[i] = rcRow{stories: r, section: sections[i], fc: fc[i], fy: fy[i], rho: rho[i]}
	}
	return rows
}

var rcTable = map[models.Era]map[string]rcBand{
	models.EraPre: {
		"low": {rows: rcRows(lowRanges,
			[3]float64{40, 45, 50}, [3]float64{150, 150, 150}, [3]float64{2800, 2800, 2800},
			[3]float64{0.01, 0.015, 0.015}), alpha: 0.001},
		"mid": {rows: rcRows(midRanges,
			[3]float64{50, 60, 70}, [3]float64{150, 150, 150}, [3]float64{2800, 2800, 2800},
			[3]float64{0.015, 0.02, 0.022}), alpha: 0.001},
		"high": {rows: rcRows(highRanges,
			[3]float64{60, 75, 90}, [3]float64{175, 175, 175}, [3]float64{2800, 2800, 2800},
			[3]float64{0.02, 0.02, 0.025}), alpha: 0.001},
		"very_high": {rows: rcRows(veryHighRanges,
			[3]float64{70, 90, 120}, [3]float64{180, 180, 180}, [3]float64{2800, 2800, 2800},
			[3]float64{0.02, 0.02, 0.025}), alpha: 0.001},
	},
	models.EraPost: {
		"low": {rows: rcRows(lowRanges,
			[3]float64{40, 45, 50}, [3]float64{210, 210, 210}, [3]float64{4200, 4200, 4200},
			[3]float64{0.01, 0.015, 0.015}), alpha: 0.02},
		"mid": {rows: rcRows(midRanges,
			[3]float64{50, 60, 70}, [3]float64{280, 280, 280}, [3]float64{4200, 4200, 4200},
			[3]float64{0.018, 0.02, 0.022}), alpha: 0.02},
		"high": {rows: rcRows(highRanges,
			[3]float64{60, 75, 90}, [3]float64{280, 350, 350}, [3]float64{4200, 4200, 4200},
			[3]float64{0.02, 0.025, 0.025}), alpha: 0.02},
		"very_high": {rows: rcRows(veryHighRanges,
			[3]float64{70, 90, 120}, [3]float64{350, 420, 420}, [3]float64{4200, 4200, 4200},
			[3]float64{0.025, 0.025, 0.025}), alpha: 0.02},
	},
}

var (
	scLowRanges  = []storyRange{{5, 5}, {3, 4}, {1, 2}}
	scMidRanges  = []storyRange{{11, 12}, {7, 10}, {4, 6}, {1, 3}}
	scHighRanges = []storyRange{{12, 999}, {8, 11}, {5, 7}, {1, 4}}
)

func scRows(ranges []storyRange, colIx, colZx, beamIx, beamZx, fy []float64) []scRow {
	rows := make([]scRow, len(ranges))
	for i, r := range ranges {
		rows[i] = scRow{stories: r, colIx: colIx[i], colZx: colZx[i], beamIx: beamIx[i], beamZx: beamZx[i], fy: fy[i]}
	}
	return rows
}

var (
	scLowSections = [4][]float64{
		{18400, 34800, 57900}, {1320, 2150, 3140}, {19800, 29600, 42800}, {1080, 1420, 1840},
	}
	scMidSections = [4][]float64{
		{57900, 81500, 134000, 241000}, {3140, 3950, 5880, 9900},
		{59100, 115000, 136000, 136000}, {2110, 3780, 4180, 4180},
	}
	scHighSections = [4][]float64{
		{134000, 241000, 360000, 360000}, {5880, 9900, 13200, 13200},
		{136000, 182000, 268000, 268000}, {4180, 4910, 6460, 6460},
	}
)

func scBandOf(ranges []storyRange, s [4][]float64, fy []float64, alpha float64) scBand {
	return scBand{rows: scRows(ranges, s[0], s[1], s[2], s[3], fy), alpha: alpha}
}

var scTable = map[models.Era]map[string]scBand{
	models.EraPre: {
		"low":  scBandOf(scLowRanges, scLowSections, []float64{2400, 2400, 2400}, 0.001),
		"mid":  scBandOf(scMidRanges, scMidSections, []float64{3200, 3200, 3200, 3200}, 0.001),
		"high": scBandOf(scHighRanges, scHighSections, []float64{3200, 3200, 3200, 3250}, 0.001),
	},
	models.EraPost: {
		"low":  scBandOf(scLowRanges, scLowSections, []float64{3250, 3250, 3250}, 0.025),
		"mid":  scBandOf(scMidRanges, scMidSections, []float64{3250, 3250, 3250, 3250}, 0.025),
		"high": scBandOf(scHighRanges, scHighSections, []float64{3250, 3250, 3250, 3250}, 0.025),
	},
}

// rowFor returns the row whose range contains story, or the last row.
func (b rcBand) rowFor(story int) rcRow {
	for _, r := range b.rows {
		if r.stories.contains(story) {
			return r
		}
	}
	return b.rows[len(b.rows)-1]
}

func (b scBand) rowFor(story int) scRow {
	for _, r := range b.rows {
		if r.stories.contains(story) {
			return r
		}
	}
	return b.rows[len(b.rows)-1]
}
