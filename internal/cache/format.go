package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// FormatVersion is written into every cache file.
const FormatVersion = "1.0"

// ErrCorrupt is returned when a cache file cannot be decoded.
var ErrCorrupt = errors.New("cache file corrupt")

// Stats are the request counters persisted alongside the entries.
type Stats struct {
	TotalEntries  int       `json:"total_entries"`
	CacheHits     int64     `json:"cache_hits"`
	CacheMisses   int64     `json:"cache_misses"`
	TotalRequests int64     `json:"total_requests"`
	HitRate       float64   `json:"hit_rate"`
	LastUpdated   time.Time `json:"last_updated"`
}

// document is the on-disk layout. Top-level keys this version does not know
// about are kept in extra and written back unchanged.
type document struct {
	Version    string
	CreatedAt  time.Time
	Entries    map[string]*models.FragilityCurveResult
	Statistics Stats
	extra      map[string]json.RawMessage
}

var knownKeys = []string{"version", "created_at", "cache_entries", "statistics"}

func decodeDocument(data []byte) (*document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	doc := &document{Entries: make(map[string]*models.FragilityCurveResult)}
	fields := map[string]any{
		"version":       &doc.Version,
		"created_at":    &doc.CreatedAt,
		"cache_entries": &doc.Entries,
		"statistics":    &doc.Statistics,
	}
	for _, key := range knownKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, fields[key]); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrCorrupt, key, err)
		}
		delete(raw, key)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]*models.FragilityCurveResult)
	}
	normalized := make(map[string]*models.FragilityCurveResult, len(doc.Entries))
	for k, v := range doc.Entries {
		if v == nil {
			continue
		}
		key := models.NormalizeKey(k)
		// Spellings of one code collapse to the newest entry; on a tie the
		// canonical spelling wins.
		if prev, ok := normalized[key]; ok && !v.NewerThan(prev) &&
			!(v.ComputedAt.Equal(prev.ComputedAt) && k == key) {
			continue
		}
		normalized[key] = v
	}
	doc.Entries = normalized
	if len(raw) > 0 {
		doc.extra = raw
	}
	return doc, nil
}

func (d *document) encode() ([]byte, error) {
	out := make(map[string]any, len(d.extra)+len(knownKeys))
	for k, v := range d.extra {
		out[k] = v
	}
	out["version"] = d.Version
	out["created_at"] = d.CreatedAt
	out["cache_entries"] = d.Entries
	out["statistics"] = d.Statistics
	return json.MarshalIndent(out, "", "  ")
}

// readDocument loads path. A missing file yields (nil, nil).
func readDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	return decodeDocument(data)
}
