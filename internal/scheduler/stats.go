package scheduler

import (
	"math"
	"time"

	"github.com/kiranshivaraju/fragility/internal/cache"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

// Statistics summarizes the current or last run.
type Statistics struct {
	TotalTasks   int              `json:"total_tasks"`
	Completed    int              `json:"completed"`
	Successful   int              `json:"successful"`
	Failed       int              `json:"failed"`
	CacheHits    int              `json:"cache_hits"`
	NewAnalyses  int              `json:"new_analyses"`
	SuccessRate  float64          `json:"success_rate"`
	CacheHitRate float64          `json:"cache_hit_rate"`
	Throughput   float64          `json:"throughput_per_second"`
	Elapsed      time.Duration    `json:"elapsed_ns"`
	Merges       int              `json:"merges"`
	LastMerge    cache.MergeStats `json:"last_merge"`

	started time.Time
}

func (s *Scheduler) reset(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = Statistics{TotalTasks: total, started: time.Now()}
}

func (st *Statistics) record(o models.TaskOutcome) {
	st.Completed++
	switch {
	case !o.Succeeded():
		st.Failed++
	case o.CacheHit:
		st.Successful++
		st.CacheHits++
	default:
		st.Successful++
		st.NewAnalyses++
	}
}

// Statistics returns a snapshot with rates computed at call time.
func (s *Scheduler) Statistics() Statistics {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()

	if st.Completed > 0 {
		st.SuccessRate = float64(st.Successful) / float64(st.Completed)
	}
	if st.Successful > 0 {
		st.CacheHitRate = float64(st.CacheHits) / float64(st.Successful)
	}
	elapsed := st.Elapsed
	if elapsed == 0 && !st.started.IsZero() {
		elapsed = time.Since(st.started)
	}
	if elapsed > 0 {
		st.Throughput = float64(st.Completed) / elapsed.Seconds()
	}
	return st
}

// Estimate is a rough wall-clock forecast for a run.
type Estimate struct {
	Buildings     int           `json:"num_buildings"`
	NewAnalyses   int           `json:"new_analyses"`
	CacheHits     int           `json:"cache_hits"`
	Workers       int           `json:"workers"`
	Sequential    time.Duration `json:"sequential_ns"`
	Parallel      time.Duration `json:"parallel_ns"`
	SpeedupFactor float64       `json:"speedup_factor"`
	CacheHitRate  float64       `json:"expected_cache_hit_rate"`
}

const (
	parallelEfficiency = 0.8
	cacheHitCost       = 100 * time.Millisecond
	perBuildingCost    = 100 * time.Millisecond
	minOverhead        = 30 * time.Second
)

// EstimateProcessingTime assumes each unique archetype is analyzed once and
// every other building is a cache hit.
func EstimateProcessingTime(buildings, uniqueArchetypes int, perArchetype time.Duration, workers int) Estimate {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	newAnalyses := min(max(uniqueArchetypes, 0), max(buildings, 0))
	hits := max(buildings, 0) - newAnalyses

	sequential := time.Duration(newAnalyses)*perArchetype + time.Duration(hits)*cacheHitCost
	parallel := time.Duration(float64(sequential) / (float64(workers) * parallelEfficiency))
	parallel += max(minOverhead, time.Duration(buildings)*perBuildingCost)

	e := Estimate{
		Buildings:   buildings,
		NewAnalyses: newAnalyses,
		CacheHits:   hits,
		Workers:     workers,
		Sequential:  sequential,
		Parallel:    parallel,
	}
	if parallel > 0 {
		e.SpeedupFactor = math.Max(float64(sequential)/float64(parallel), 0)
	}
	if buildings > 0 {
		e.CacheHitRate = float64(hits) / float64(buildings)
	}
	return e
}
