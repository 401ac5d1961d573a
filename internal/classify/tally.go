package classify

import (
	"log/slog"
	"sync"
)

// AgeTally counts which age tier resolved each classified building.
// It is safe for concurrent use.
type AgeTally struct {
	mu      sync.Mutex
	counts  map[AgeSource]int
	total   int
	skipped int
}

func NewAgeTally() *AgeTally {
	return &AgeTally{counts: make(map[AgeSource]int)}
}

// Record counts a classification's age source.
func (t *AgeTally) Record(c Classification) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[c.AgeSource]++
	t.total++
}

// RecordFailure counts a building that could not be classified.
func (t *AgeTally) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
}

// AgeStatistics is the audit record of age filling.
type AgeStatistics struct {
	TotalProcessed     int `json:"total_processed"`
	UsedMaxAge         int `json:"used_max_age"`
	UsedPolygonMaxAge  int `json:"used_polygon_max_age"`
	UsedDefaultAge     int `json:"used_default_age"`
	ClassificationErrs int `json:"classification_errors"`
}

func (t *AgeTally) Snapshot() AgeStatistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return AgeStatistics{
		TotalProcessed:     t.total,
		UsedMaxAge:         t.counts[AgeFromMaxAge],
		UsedPolygonMaxAge:  t.counts[AgeFromPolygonMax],
		UsedDefaultAge:     t.counts[AgeFromDefault],
		ClassificationErrs: t.skipped,
	}
}

// Log writes the tally as one structured log line.
func (t *AgeTally) Log() {
	s := t.Snapshot()
	slog.Info("age filling summary",
		"total", s.TotalProcessed,
		"from_max_age", s.UsedMaxAge,
		"from_polygons", s.UsedPolygonMaxAge,
		"from_default", s.UsedDefaultAge,
		"classification_errors", s.ClassificationErrs,
	)
}
