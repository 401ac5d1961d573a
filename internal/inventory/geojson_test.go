package inventory_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/fragility/internal/inventory"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

const sample = `{
  "type": "FeatureCollection",
  "name": "buildings",
  "metadata": {"source": "survey"},
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [121.5, 25.0]},
     "properties": {"area_sqm": 120, "max_height": 17.5, "floor": "5R", "max_age": 30, "owner": "city"}},
    {"type": "Feature", "area_sqm": "800", "max_height": 42, "floor": "12M",
     "polygons": [{"properties": {"floor": "12M", "age": 35}}, {"properties": {"floor": "3R", "age": null}}]},
    {"type": "Feature", "properties": {"area_sqm": 200, "max_height": null, "floor": "2R"}, "max_height": 7}
  ]
}`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buildings.geojson")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func curve() map[string]float64 {
	out := make(map[string]float64, len(models.IntensityLevels))
	for i, l := range models.IntensityLevels {
		out[l] = float64(i+1) / 10
	}
	return out
}

// --- Read ---

func TestRead(t *testing.T) {
	recs, err := inventory.Read(writeSample(t), 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "building_000000", recs[0].ID)
	assert.Equal(t, 120.0, recs[0].AreaSqm)
	assert.Equal(t, 17.5, recs[0].Height)
	assert.Equal(t, "5R", recs[0].FloorCode)
	require.NotNil(t, recs[0].MaxAge)
	assert.Equal(t, 30.0, *recs[0].MaxAge)

	assert.Equal(t, "building_000001", recs[1].ID)
	assert.Equal(t, 800.0, recs[1].AreaSqm, "numeric strings are accepted")
	assert.Nil(t, recs[1].MaxAge)
	require.Len(t, recs[1].SubPolygons, 2)
	assert.Equal(t, "12M", recs[1].SubPolygons[0].FloorCode)
	require.NotNil(t, recs[1].SubPolygons[0].Age)
	assert.Equal(t, 35.0, *recs[1].SubPolygons[0].Age)
	assert.Nil(t, recs[1].SubPolygons[1].Age)

	assert.Equal(t, 7.0, recs[2].Height, "null property falls back to the top level")
}

func TestRead_Max(t *testing.T) {
	recs, err := inventory.Read(writeSample(t), 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRead_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := inventory.Read(filepath.Join(dir, "missing.geojson"), 0)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.geojson")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = inventory.Read(bad, 0)
	assert.ErrorIs(t, err, inventory.ErrInvalidGeoJSON)

	empty := filepath.Join(dir, "empty.geojson")
	require.NoError(t, os.WriteFile(empty, []byte(`{"type":"FeatureCollection"}`), 0o644))
	_, err = inventory.Read(empty, 0)
	assert.ErrorIs(t, err, inventory.ErrInvalidGeoJSON)
}

// --- WriteResults ---

func TestWriteResults(t *testing.T) {
	in := writeSample(t)
	out := filepath.Join(t.TempDir(), "out", "building_data_with_fragility.geojson")

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	results := map[string]*models.FragilityCurveResult{
		"building_000000": {
			ArchetypeCode:         "RC-PRE-5F-S",
			CollapseProbabilities: curve(),
			ComputedAt:            at,
			ComputationTime:       12.5,
			SourceMethod:          models.MethodPSDM,
		},
		"building_000001": nil,
	}

	meta, err := inventory.WriteResults(in, out, results)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.BuildingsAnalyzed)
	assert.Equal(t, 1, meta.Successful)
	assert.Equal(t, 1, meta.Failed)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var doc struct {
		Name     string `json:"name"`
		Metadata struct {
			Source   string                     `json:"source"`
			Analysis inventory.AnalysisMetadata `json:"fragility_analysis"`
		} `json:"metadata"`
		Features []struct {
			Geometry   json.RawMessage `json:"geometry"`
			Properties struct {
				Owner    string             `json:"owner"`
				Curve    map[string]float64 `json:"fragility_curve"`
				Failed   bool               `json:"fragility_analysis_failed"`
				Metadata struct {
					Code   string  `json:"archetype_code"`
					Time   float64 `json:"computation_time"`
					Method string  `json:"source_method"`
				} `json:"fragility_metadata"`
			} `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "buildings", doc.Name)
	assert.Equal(t, "survey", doc.Metadata.Source)
	assert.Equal(t, 1, doc.Metadata.Analysis.Successful)
	require.Len(t, doc.Features, 3)

	f0 := doc.Features[0]
	assert.NotEmpty(t, f0.Geometry)
	assert.Equal(t, "city", f0.Properties.Owner)
	assert.Equal(t, "RC-PRE-5F-S", f0.Properties.Metadata.Code)
	assert.Equal(t, "PSDM", f0.Properties.Metadata.Method)
	assert.Equal(t, 12.5, f0.Properties.Metadata.Time)
	for l, p := range curve() {
		assert.InDelta(t, p, f0.Properties.Curve[l], 1e-9, "level %s", l)
	}

	assert.True(t, doc.Features[1].Properties.Failed)
	assert.Empty(t, doc.Features[1].Properties.Curve)
	assert.False(t, doc.Features[2].Properties.Failed)
	assert.Empty(t, doc.Features[2].Properties.Curve)

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteResults_InPlace(t *testing.T) {
	path := writeSample(t)
	_, err := inventory.WriteResults(path, path, map[string]*models.FragilityCurveResult{
		"building_000002": {ArchetypeCode: "RC-PRE-2F-M", CollapseProbabilities: curve()},
	})
	require.NoError(t, err)

	rep := inventory.Integrity(path)
	assert.True(t, rep.ValidGeoJSON)
	assert.Equal(t, 1, rep.FeaturesWithFragility)
}

// --- Integrity ---

func TestIntegrity(t *testing.T) {
	in := writeSample(t)
	out := filepath.Join(t.TempDir(), "with.geojson")
	_, err := inventory.WriteResults(in, out, map[string]*models.FragilityCurveResult{
		"building_000000": {ArchetypeCode: "RC-PRE-5F-S", CollapseProbabilities: curve()},
		"building_000001": {ArchetypeCode: "SC-PRE-12F-L", CollapseProbabilities: curve()},
		"building_000002": nil,
	})
	require.NoError(t, err)

	rep := inventory.Integrity(out)
	assert.True(t, rep.FileExists)
	assert.True(t, rep.ValidJSON)
	assert.True(t, rep.ValidGeoJSON)
	assert.Equal(t, 3, rep.FeatureCount)
	assert.Equal(t, 2, rep.FeaturesWithFragility)
	assert.Equal(t, 1, rep.FeaturesFailed)
	assert.Positive(t, rep.FileSizeBytes)
	assert.Empty(t, rep.Errors)
}

func TestIntegrity_Problems(t *testing.T) {
	dir := t.TempDir()

	rep := inventory.Integrity(filepath.Join(dir, "missing.geojson"))
	assert.False(t, rep.FileExists)
	assert.NotEmpty(t, rep.Errors)

	bad := filepath.Join(dir, "bad.geojson")
	require.NoError(t, os.WriteFile(bad, []byte("[1,2"), 0o644))
	rep = inventory.Integrity(bad)
	assert.True(t, rep.FileExists)
	assert.False(t, rep.ValidJSON)

	wrong := filepath.Join(dir, "wrong.geojson")
	require.NoError(t, os.WriteFile(wrong, []byte(`{"type":"Feature","features":[]}`), 0o644))
	rep = inventory.Integrity(wrong)
	assert.True(t, rep.ValidJSON)
	assert.False(t, rep.ValidGeoJSON)
}
