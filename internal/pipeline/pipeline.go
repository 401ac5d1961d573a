// Package pipeline runs a whole city batch: inputs, classification,
// scheduling, cache finalization, validation and output files.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/fragility/internal/analysis"
	"github.com/kiranshivaraju/fragility/internal/cache"
	"github.com/kiranshivaraju/fragility/internal/classify"
	"github.com/kiranshivaraju/fragility/internal/config"
	"github.com/kiranshivaraju/fragility/internal/counters"
	"github.com/kiranshivaraju/fragility/internal/fragility"
	"github.com/kiranshivaraju/fragility/internal/groundmotion"
	"github.com/kiranshivaraju/fragility/internal/inventory"
	"github.com/kiranshivaraju/fragility/internal/progress"
	"github.com/kiranshivaraju/fragility/internal/scheduler"
	"github.com/kiranshivaraju/fragility/internal/store"
	"github.com/kiranshivaraju/fragility/internal/validate"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

var (
	ErrInvalidInput         = errors.New("invalid pipeline input")
	ErrNoGroundMotions      = errors.New("not enough valid ground motions")
	ErrNoClassifiedBuilding = errors.New("no building could be classified")
)

// Output file names, relative to the output directory.
const (
	ValidationReportFile = "validation_report.json"
	ResultsFile          = "building_data_with_fragility.geojson"
	SummaryFile          = "analysis_summary.json"
	ProgressFile         = "progress.json"
)

// estimatedPerArchetype is the planning figure for one new analysis.
const estimatedPerArchetype = 5 * time.Minute

// Pipeline owns one run. The store and counters are optional.
type Pipeline struct {
	cfg      *config.Config
	backend  models.StructuralBackend
	store    store.Store
	counters counters.Counters
	locking  cache.LockStrategy

	mu      sync.RWMutex
	runID   uuid.UUID
	tracker *progress.Tracker
}

type Option func(*Pipeline)

func WithStore(s store.Store) Option {
	return func(p *Pipeline) {
		p.store = s
	}
}

func WithCounters(c counters.Counters) Option {
	return func(p *Pipeline) {
		p.counters = c
	}
}

// WithLockStrategy supplies an already detected lock strategy; without it
// Run checks the cache directory itself.
func WithLockStrategy(ls cache.LockStrategy) Option {
	return func(p *Pipeline) {
		p.locking = ls
	}
}

func New(cfg *config.Config, backend models.StructuralBackend, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, backend: backend}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CacheStatus describes the master cache after finalization.
type CacheStatus struct {
	Path      string           `json:"path"`
	Exists    bool             `json:"exists"`
	Entries   int              `json:"entries"`
	SizeBytes int64            `json:"size_bytes"`
	Stats     cache.Stats      `json:"statistics"`
	LastMerge cache.MergeStats `json:"final_merge"`
}

// Summary is written to analysis_summary.json and returned by Run.
type Summary struct {
	RunID          uuid.UUID                  `json:"run_id"`
	StartedAt      time.Time                  `json:"started_at"`
	FinishedAt     time.Time                  `json:"finished_at"`
	Duration       float64                    `json:"duration_seconds"`
	Workers        int                        `json:"workers"`
	Backend        string                     `json:"backend"`
	GroundMotions  int                        `json:"ground_motions"`
	Buildings      int                        `json:"buildings_read"`
	Classified     int                        `json:"buildings_classified"`
	Classification classify.Statistics        `json:"classification"`
	AgeFilling     classify.AgeStatistics     `json:"age_filling"`
	Estimate       scheduler.Estimate         `json:"estimate"`
	Scheduling     scheduler.Statistics       `json:"scheduling"`
	Cache          CacheStatus                `json:"cache"`
	Validation     *validate.QualityMetrics   `json:"validation,omitempty"`
	Output         inventory.AnalysisMetadata `json:"output"`
	Integrity      inventory.IntegrityReport  `json:"output_integrity"`
	Progress       progress.Summary           `json:"progress"`
}

// RunID is the id of the current or last run, uuid.Nil before Run.
func (p *Pipeline) RunID() uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runID
}

// Progress returns the live tracker snapshot once scheduling has started.
func (p *Pipeline) Progress() (progress.Snapshot, bool) {
	p.mu.RLock()
	t := p.tracker
	p.mu.RUnlock()
	if t == nil {
		return progress.Snapshot{}, false
	}
	return t.Snapshot(), true
}

// CachePath is the master cache file of this pipeline.
func (p *Pipeline) CachePath() string {
	return p.cfg.Cache.Path
}

// Run executes every step in order. Per-building failures are counted, not
// returned; only configuration and I/O problems abort the run.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	runID := uuid.New()
	p.mu.Lock()
	p.runID = runID
	p.mu.Unlock()

	sum := &Summary{RunID: runID, StartedAt: started.UTC(), Backend: p.backend.Name()}
	slog.Info("pipeline started",
		"run_id", runID,
		"geojson", p.cfg.Run.GeoJSONPath,
		"gm_dir", p.cfg.Run.GMDir,
		"output_dir", p.cfg.Run.OutputDir,
		"backend", sum.Backend,
	)

	// 1. inputs
	catalog, records, err := p.loadInputs(ctx)
	if err != nil {
		return nil, err
	}
	sum.GroundMotions = len(records)

	// 2. classification
	buildings, err := inventory.Read(p.cfg.Run.GeoJSONPath, p.cfg.Run.MaxBuildings)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	sum.Buildings = len(buildings)
	tasks, classified, tally := p.classify(buildings)
	sum.Classified = len(classified)
	sum.Classification = classify.Summarize(classified)
	sum.AgeFilling = tally.Snapshot()
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: %d buildings read", ErrNoClassifiedBuilding, len(buildings))
	}

	tracker := progress.NewTracker(len(tasks), progress.WithReportInterval(p.cfg.Run.ReportInterval))
	tracker.Checkpoint("classification")
	p.mu.Lock()
	p.tracker = tracker
	p.mu.Unlock()

	p.createRun(ctx, runID, len(tasks), sum.Classification.UniqueArchetypes)

	// 3. scheduling
	if p.locking == "" {
		p.locking = cache.DetectLockStrategy(p.cfg.Cache.Path)
	}
	master, err := p.openMaster()
	if err != nil {
		p.failRun(ctx, runID, err)
		return nil, err
	}
	sum.Estimate = scheduler.EstimateProcessingTime(len(tasks), sum.Classification.UniqueArchetypes, estimatedPerArchetype, p.cfg.Run.Workers)

	outcomes, sched, err := p.schedule(ctx, runID, catalog, records, master, tasks, tracker)
	sum.Workers = sched.Workers()
	sum.Scheduling = sched.Statistics()
	tracker.Checkpoint("analysis")
	if err != nil {
		p.failRun(ctx, runID, err)
		return nil, fmt.Errorf("scheduling: %w", err)
	}

	// 4. cache finalization
	sum.Cache = p.finalizeCache(ctx, master)
	p.persistResults(ctx, runID, master)
	tracker.Checkpoint("cache")

	// 5. validation
	results := make(map[string]*models.FragilityCurveResult, len(outcomes))
	items := make([]validate.Item, 0, len(outcomes))
	for _, o := range outcomes {
		var r *models.FragilityCurveResult
		if o.Succeeded() {
			r = o.Result
		}
		results[o.BuildingID] = r
		items = append(items, validate.Item{ID: o.BuildingID, Key: o.Code, Result: r})
	}
	if !p.cfg.Run.SkipValidation {
		m := validate.ValidateBatch(items)
		sum.Validation = &m
		if err := validate.WriteReport(m, p.outputPath(ValidationReportFile)); err != nil {
			slog.Error("writing validation report failed", "error", err)
		}
		tracker.Checkpoint("validation")
	}

	// 6. results
	sum.Output, err = inventory.WriteResults(p.cfg.Run.GeoJSONPath, p.outputPath(ResultsFile), results)
	if err != nil {
		p.failRun(ctx, runID, err)
		return nil, fmt.Errorf("writing results: %w", err)
	}
	sum.Integrity = inventory.Integrity(p.outputPath(ResultsFile))
	tracker.Checkpoint("output")

	// 7. summary
	sum.Progress = tracker.FinalSummary()
	sum.FinishedAt = time.Now().UTC()
	sum.Duration = time.Since(started).Seconds()
	if err := writeJSON(p.outputPath(SummaryFile), sum); err != nil {
		slog.Error("writing analysis summary failed", "error", err)
	}
	if err := tracker.Save(p.outputPath(ProgressFile)); err != nil {
		slog.Error("writing progress failed", "error", err)
	}
	p.completeRun(ctx, runID, sum)

	slog.Info("pipeline finished",
		"run_id", runID,
		"tasks", sum.Scheduling.TotalTasks,
		"successful", sum.Scheduling.Successful,
		"failed", sum.Scheduling.Failed,
		"cache_hits", sum.Scheduling.CacheHits,
		"cache_entries", sum.Cache.Entries,
		"duration", time.Since(started).Round(time.Millisecond),
	)
	return sum, nil
}

func (p *Pipeline) loadInputs(ctx context.Context) (*groundmotion.Catalog, []models.GroundMotionRecord, error) {
	run := p.cfg.Run
	if run.GeoJSONPath == "" {
		return nil, nil, fmt.Errorf("%w: geojson path is required", ErrInvalidInput)
	}
	if _, err := os.Stat(run.GeoJSONPath); err != nil {
		return nil, nil, fmt.Errorf("%w: geojson: %v", ErrInvalidInput, err)
	}
	if info, err := os.Stat(run.GMDir); err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: ground motion directory %q not found", ErrInvalidInput, run.GMDir)
	}

	catalog := groundmotion.NewCatalog(run.GMDir, p.cfg.Analysis.GMTimeStep)
	if run.GMList != "" {
		if err := catalog.RestrictTo(run.GMList); err != nil {
			return nil, nil, fmt.Errorf("%w: ground motion list: %v", ErrInvalidInput, err)
		}
	}
	records, err := catalog.Scan(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("scanning ground motions: %w", err)
	}
	if len(records) < max(1, p.cfg.Analysis.MinGroundMotions) {
		return nil, nil, fmt.Errorf("%w: found %d", ErrNoGroundMotions, len(records))
	}
	if len(records) < p.cfg.Analysis.WarnGroundMotions {
		slog.Warn("few ground motions, fragility estimates will be coarse",
			"ground_motions", len(records),
			"recommended", p.cfg.Analysis.WarnGroundMotions,
		)
	}
	return catalog, records, nil
}

func (p *Pipeline) classify(buildings []models.BuildingRecord) ([]models.JobTask, []classify.Classification, *classify.AgeTally) {
	tally := classify.NewAgeTally()
	tasks := make([]models.JobTask, 0, len(buildings))
	classified := make([]classify.Classification, 0, len(buildings))
	for _, b := range buildings {
		c, err := classify.Classify(b, p.cfg.Run.CurrentYear)
		if err != nil {
			tally.RecordFailure()
			slog.Debug("building not classified", "building_id", b.ID, "error", err)
			continue
		}
		tally.Record(c)
		classified = append(classified, c)
		tasks = append(tasks, models.JobTask{
			ID:                 uuid.New(),
			BuildingID:         c.BuildingID,
			Code:               c.Code,
			AreaSqm:            c.AreaSqm,
			RepresentativeArea: c.RepresentativeArea,
		})
	}
	tally.Log()

	st := classify.Summarize(classified)
	slog.Info("buildings classified",
		"read", len(buildings),
		"classified", len(classified),
		"unique_archetypes", st.UniqueArchetypes,
		"by_system", st.BySystem,
		"by_era", st.ByEra,
		"by_scale", st.ByScale,
		"top_archetypes", st.TopArchetypes(10),
	)
	return tasks, classified, tally
}

func (p *Pipeline) openMaster() (*cache.FileCache, error) {
	cc := p.cfg.Cache
	backups := cc.Backups
	if backups == 0 {
		backups = -1
	}
	master, err := cache.Open(cc.Path, cache.Options{
		Role:           cache.RoleMaster,
		Backups:        backups,
		LoadRetries:    cc.LoadRetries,
		LoadRetryDelay: cc.LoadRetryDelay,
		Lock:           cache.NewFileLock(cc.Path, p.locking, cc.LockTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	if cc.MaxEntryAge > 0 {
		if n := master.CleanupOlderThan(cc.MaxEntryAge); n > 0 {
			slog.Info("expired cache entries removed", "removed", n, "max_age", cc.MaxEntryAge)
		}
	}
	return master, nil
}

func (p *Pipeline) schedule(ctx context.Context, runID uuid.UUID, catalog *groundmotion.Catalog, records []models.GroundMotionRecord,
	master *cache.FileCache, tasks []models.JobTask, tracker *progress.Tracker) ([]models.TaskOutcome, *scheduler.Scheduler, error) {

	an := p.cfg.Analysis
	thresholds := make([]fragility.Threshold, 0, len(an.DamageStates))
	for _, ds := range an.DamageStates {
		thresholds = append(thresholds, fragility.Threshold{Name: ds.Name, IDR: ds.IDR})
	}
	runner := analysis.NewRunner(p.backend, catalog, analysis.Settings{
		PGATargets:    an.PGATargets,
		CollapseDrift: an.CollapseDrift,
		Damping:       an.Damping,
	})
	analyzer := analysis.NewAnalyzer(runner, records, thresholds)

	opts := scheduler.Options{
		Workers:       p.cfg.Run.Workers,
		MergeInterval: p.cfg.Run.MergeInterval,
		TaskTimeout:   p.cfg.Run.TaskTimeout,
		RunID:         runID,
		LockStrategy:  p.locking,
		LockTimeout:   p.cfg.Cache.LockTimeout,
		Progress:      tracker,
	}
	if p.store != nil {
		opts.Recorder = p.store
	}
	if p.counters != nil {
		opts.Counters = p.counters
		tracker.OnReport(func(s progress.Snapshot) {
			if err := p.counters.PublishProgress(context.WithoutCancel(ctx), runID, s); err != nil {
				slog.Warn("publishing progress failed", "run_id", runID, "error", err)
			}
		})
	}
	sched := scheduler.New(analyzer, master, opts)
	slog.Info("scheduler configured",
		"workers", sched.Workers(),
		"lock_strategy", p.locking,
		"merge_interval", opts.MergeInterval,
		"task_timeout", opts.TaskTimeout,
	)

	reportCtx, stopReports := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tracker.Run(reportCtx)
	}()
	outcomes, err := sched.Run(ctx, tasks)
	stopReports()
	<-done
	tracker.Report()
	return outcomes, sched, err
}

// finalizeCache folds any worker file the scheduler left behind, for
// example after an earlier crash, and reports the master's state.
func (p *Pipeline) finalizeCache(ctx context.Context, master *cache.FileCache) CacheStatus {
	ctx = context.WithoutCancel(ctx)
	st := CacheStatus{Path: master.Path()}
	ms, err := cache.Merge(ctx, master)
	if err != nil {
		slog.Error("final cache merge failed", "error", err)
	}
	st.LastMerge = ms
	cache.CleanupWorkerFiles(master.Path())

	if info, err := os.Stat(master.Path()); err == nil {
		st.Exists = true
		st.SizeBytes = info.Size()
	}
	st.Entries = master.Len()
	st.Stats = master.Stats()
	slog.Info("cache finalized",
		"path", st.Path,
		"exists", st.Exists,
		"entries", st.Entries,
		"size_bytes", st.SizeBytes,
		"hit_rate", st.Stats.HitRate,
	)
	return st
}

func (p *Pipeline) outputPath(name string) string {
	return filepath.Join(p.cfg.Run.OutputDir, name)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}
