// Package inventory reads building records from a GeoJSON feature collection
// and writes fragility results back into it. Fields it does not know about
// are carried through unchanged.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

var ErrInvalidGeoJSON = errors.New("invalid geojson")

// BuildingID is the id of the i-th feature.
func BuildingID(i int) string {
	return fmt.Sprintf("building_%06d", i)
}

type collection struct {
	fields   map[string]json.RawMessage
	features []map[string]json.RawMessage
}

func readCollection(path string) (*collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidGeoJSON, path, err)
	}
	raw, ok := fields["features"]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no features", ErrInvalidGeoJSON, path)
	}
	var features []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &features); err != nil {
		return nil, fmt.Errorf("%w: %s features: %v", ErrInvalidGeoJSON, path, err)
	}
	return &collection{fields: fields, features: features}, nil
}

// Read parses up to max buildings from path (all when max <= 0). Features
// that do not decode are returned as records with only an id, so that the
// classifier excludes them and ids stay aligned with feature positions.
func Read(path string, max int) ([]models.BuildingRecord, error) {
	c, err := readCollection(path)
	if err != nil {
		return nil, err
	}
	n := len(c.features)
	if max > 0 && max < n {
		n = max
	}
	records := make([]models.BuildingRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := decodeFeature(c.features[i])
		if err != nil {
			slog.Debug("skipping feature attributes", "building_id", BuildingID(i), "error", err)
		}
		rec.ID = BuildingID(i)
		records = append(records, rec)
	}
	slog.Info("inventory read", "path", path, "features", len(c.features), "records", len(records))
	return records, nil
}

// attrs looks a name up in properties first, then on the feature itself.
type attrs struct {
	props   map[string]json.RawMessage
	feature map[string]json.RawMessage
}

func (a attrs) get(name string) (json.RawMessage, bool) {
	if v, ok := a.props[name]; ok && !isNull(v) {
		return v, true
	}
	if v, ok := a.feature[name]; ok && !isNull(v) {
		return v, true
	}
	return nil, false
}

func decodeFeature(feature map[string]json.RawMessage) (models.BuildingRecord, error) {
	var rec models.BuildingRecord
	a := attrs{feature: feature}
	if raw, ok := feature["properties"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &a.props); err != nil {
			return rec, fmt.Errorf("properties: %w", err)
		}
	}

	if v, ok := a.get("area_sqm"); ok {
		rec.AreaSqm, _ = number(v)
	}
	if v, ok := a.get("max_height"); ok {
		rec.Height, _ = number(v)
	}
	if v, ok := a.get("floor"); ok {
		rec.FloorCode = text(v)
	}
	if v, ok := a.get("max_age"); ok {
		if age, ok := number(v); ok {
			rec.MaxAge = &age
		}
	}
	if v, ok := a.get("polygons"); ok {
		polys, err := decodePolygons(v)
		if err != nil {
			return rec, err
		}
		rec.SubPolygons = polys
	}
	return rec, nil
}

func decodePolygons(raw json.RawMessage) ([]models.SubPolygon, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("polygons: %w", err)
	}
	out := make([]models.SubPolygon, 0, len(items))
	for _, item := range items {
		a := attrs{feature: item}
		if p, ok := item["properties"]; ok && !isNull(p) {
			_ = json.Unmarshal(p, &a.props)
		}
		var sp models.SubPolygon
		if v, ok := a.get("floor"); ok {
			sp.FloorCode = text(v)
		}
		if v, ok := a.get("age"); ok {
			if age, ok := number(v); ok {
				sp.Age = &age
			}
		}
		out = append(out, sp)
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// number accepts a JSON number or a numeric string.
func number(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func text(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

type fragilityMetadata struct {
	ArchetypeCode   string              `json:"archetype_code"`
	ComputedAt      time.Time           `json:"computed_timestamp"`
	ComputationTime float64             `json:"computation_time"`
	SourceMethod    models.SourceMethod `json:"source_method,omitempty"`
	Confidence      models.Confidence   `json:"confidence,omitempty"`
}

// AnalysisMetadata is written under metadata.fragility_analysis.
type AnalysisMetadata struct {
	AnalysisTimestamp time.Time `json:"analysis_timestamp"`
	BuildingsAnalyzed int       `json:"buildings_analyzed"`
	Successful        int       `json:"successful_results"`
	Failed            int       `json:"failed_analyses"`
}

// WriteResults copies the collection at in to out, adding each building's
// fragility curve. A nil result marks the feature as failed; buildings
// absent from results are left untouched. out is replaced atomically.
func WriteResults(in, out string, results map[string]*models.FragilityCurveResult) (AnalysisMetadata, error) {
	c, err := readCollection(in)
	if err != nil {
		return AnalysisMetadata{}, err
	}

	meta := AnalysisMetadata{AnalysisTimestamp: time.Now().UTC(), BuildingsAnalyzed: len(results)}
	for _, r := range results {
		if r != nil {
			meta.Successful++
		} else {
			meta.Failed++
		}
	}

	for i, feature := range c.features {
		r, ok := results[BuildingID(i)]
		if !ok {
			continue
		}
		props := map[string]json.RawMessage{}
		if raw, ok := feature["properties"]; ok && !isNull(raw) {
			if err := json.Unmarshal(raw, &props); err != nil {
				return meta, fmt.Errorf("%w: feature %d properties: %v", ErrInvalidGeoJSON, i, err)
			}
		}
		if r == nil {
			props["fragility_analysis_failed"] = json.RawMessage("true")
		} else {
			if err := setJSON(props, "fragility_curve", r.CollapseProbabilities); err != nil {
				return meta, err
			}
			if err := setJSON(props, "fragility_metadata", fragilityMetadata{
				ArchetypeCode:   r.ArchetypeCode,
				ComputedAt:      r.ComputedAt,
				ComputationTime: r.ComputationTime,
				SourceMethod:    r.SourceMethod,
				Confidence:      r.Confidence,
			}); err != nil {
				return meta, err
			}
		}
		if err := setJSON(feature, "properties", props); err != nil {
			return meta, err
		}
	}

	metadata := map[string]json.RawMessage{}
	if raw, ok := c.fields["metadata"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return meta, fmt.Errorf("%w: metadata: %v", ErrInvalidGeoJSON, err)
		}
	}
	if err := setJSON(metadata, "fragility_analysis", meta); err != nil {
		return meta, err
	}
	if err := setJSON(c.fields, "metadata", metadata); err != nil {
		return meta, err
	}
	if err := setJSON(c.fields, "features", c.features); err != nil {
		return meta, err
	}

	data, err := json.Marshal(c.fields)
	if err != nil {
		return meta, fmt.Errorf("encoding %s: %w", out, err)
	}
	if err := writeAtomic(out, data); err != nil {
		return meta, err
	}
	slog.Info("fragility results written",
		"path", out,
		"analyzed", meta.BuildingsAnalyzed,
		"successful", meta.Successful,
		"failed", meta.Failed,
	)
	return meta, nil
}

func setJSON(m map[string]json.RawMessage, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	m[key] = raw
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// IntegrityReport summarizes a written collection.
type IntegrityReport struct {
	FileExists            bool     `json:"file_exists"`
	ValidJSON             bool     `json:"valid_json"`
	ValidGeoJSON          bool     `json:"valid_geojson"`
	FeatureCount          int      `json:"feature_count"`
	FeaturesWithFragility int      `json:"features_with_fragility"`
	FeaturesFailed        int      `json:"features_failed"`
	FileSizeBytes         int64    `json:"file_size_bytes"`
	Errors                []string `json:"validation_errors"`
}

// Integrity inspects path. Problems are reported, not returned as errors.
func Integrity(path string) IntegrityReport {
	rep := IntegrityReport{Errors: []string{}}
	info, err := os.Stat(path)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}
	rep.FileExists = true
	rep.FileSizeBytes = info.Size()

	data, err := os.ReadFile(path)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}
	var doc struct {
		Type     string                       `json:"type"`
		Features []map[string]json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}
	rep.ValidJSON = true

	switch {
	case doc.Type != "FeatureCollection":
		rep.Errors = append(rep.Errors, fmt.Sprintf("unexpected type %q", doc.Type))
	case doc.Features == nil:
		rep.Errors = append(rep.Errors, "missing features")
	default:
		rep.ValidGeoJSON = true
	}

	rep.FeatureCount = len(doc.Features)
	for _, f := range doc.Features {
		var props struct {
			Curve  map[string]float64 `json:"fragility_curve"`
			Failed bool               `json:"fragility_analysis_failed"`
		}
		if raw, ok := f["properties"]; ok {
			_ = json.Unmarshal(raw, &props)
		}
		if len(props.Curve) > 0 {
			rep.FeaturesWithFragility++
		}
		if props.Failed {
			rep.FeaturesFailed++
		}
	}
	return rep
}
