// Package scheduler fans building tasks out to a pool of workers. Each worker
// reads the master cache, keeps its own cache file and computes misses; the
// collector merges worker files back into the master as outcomes arrive.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/fragility/internal/cache"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

var (
	ErrTaskTimeout = errors.New("task timed out")
	ErrInvalidTask = errors.New("invalid task")
	ErrTaskPanic   = errors.New("task panicked")
)

// Computer produces the fragility result of one archetype.
type Computer interface {
	Analyze(ctx context.Context, code models.ArchetypeCode) (*models.FragilityCurveResult, error)
}

// ProgressSink observes every outcome as it is collected.
type ProgressSink interface {
	Record(outcome models.TaskOutcome)
}

// OutcomeRecorder persists outcomes, typically to the run store.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, runID uuid.UUID, outcome models.TaskOutcome) error
}

// CounterSink mirrors outcome counters to an external service.
type CounterSink interface {
	RecordOutcome(ctx context.Context, runID uuid.UUID, outcome models.TaskOutcome) error
}

type Options struct {
	Workers       int
	MergeInterval int
	TaskTimeout   time.Duration
	RunID         uuid.UUID
	LockStrategy  cache.LockStrategy
	LockTimeout   time.Duration

	Progress ProgressSink
	Recorder OutcomeRecorder
	Counters CounterSink
}

// DefaultWorkers leaves one CPU for the collector.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers()
	}
	if o.MergeInterval <= 0 {
		o.MergeInterval = 3
	}
	if o.LockStrategy == "" {
		o.LockStrategy = cache.LockCopyOnly
	}
	return o
}

// Scheduler runs tasks against a master cache it alone writes to.
type Scheduler struct {
	computer Computer
	master   *cache.FileCache
	opts     Options

	mu    sync.Mutex
	stats Statistics
}

func New(computer Computer, master *cache.FileCache, opts Options) *Scheduler {
	return &Scheduler{computer: computer, master: master, opts: opts.withDefaults()}
}

// Workers returns the configured pool size.
func (s *Scheduler) Workers() int {
	return s.opts.Workers
}

// Run processes every task and returns one outcome per task, in completion
// order. Invalid tasks fail without reaching a worker. Worker files are
// merged into the master every MergeInterval outcomes and once more at the
// end, after which they are removed. A cancelled ctx fails the remaining
// tasks and is returned as the error.
func (s *Scheduler) Run(ctx context.Context, tasks []models.JobTask) ([]models.TaskOutcome, error) {
	s.reset(len(tasks))
	outcomes := make([]models.TaskOutcome, 0, len(tasks))

	var valid []models.JobTask
	for _, t := range tasks {
		if err := PreValidate(t); err != nil {
			outcomes = append(outcomes, s.collect(ctx, rejected(t, err)))
			continue
		}
		valid = append(valid, t)
	}

	n := min(s.opts.Workers, len(valid))
	workers := make([]*worker, 0, n)
	for i := 0; i < n; i++ {
		w, err := s.newWorker(i)
		if err != nil {
			return outcomes, err
		}
		workers = append(workers, w)
	}

	slog.Info("scheduling tasks",
		"tasks", len(tasks),
		"valid", len(valid),
		"workers", n,
		"merge_interval", s.opts.MergeInterval,
	)

	queue := make(chan models.JobTask)
	results := make(chan models.TaskOutcome, max(n, 1))

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			for t := range queue {
				results <- w.process(ctx, t)
			}
		}(w)
	}
	go func() {
		defer close(queue)
		for _, t := range valid {
			queue <- t
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	sinceMerge := 0
	for o := range results {
		outcomes = append(outcomes, s.collect(ctx, o))
		sinceMerge++
		if sinceMerge >= s.opts.MergeInterval && ctx.Err() == nil {
			_ = s.merge(ctx)
			sinceMerge = 0
		}
	}

	s.finish(context.WithoutCancel(ctx), workers)
	return outcomes, ctx.Err()
}

func (s *Scheduler) newWorker(id int) (*worker, error) {
	path := cache.WorkerFileName(s.master.Path(), id)
	own, err := cache.Open(path, cache.Options{Role: cache.RoleWorker})
	if err != nil {
		return nil, fmt.Errorf("opening worker cache %d: %w", id, err)
	}
	lock := cache.NewFileLock(s.master.Path(), s.opts.LockStrategy, s.opts.LockTimeout)
	return &worker{
		id:       id,
		computer: s.computer,
		master:   cache.NewMasterView(s.master.Path(), lock),
		own:      own,
		timeout:  s.opts.TaskTimeout,
	}, nil
}

func (s *Scheduler) merge(ctx context.Context) error {
	stats, err := cache.Merge(ctx, s.master)
	if err != nil {
		slog.Error("merging worker caches failed", "error", err)
		return err
	}
	s.mu.Lock()
	s.stats.Merges++
	s.stats.LastMerge = stats
	s.mu.Unlock()
	return nil
}

// finish folds every worker file into the master, including files left by
// an earlier interrupted run. Worker files are removed only once the master
// holds their entries on disk.
func (s *Scheduler) finish(ctx context.Context, workers []*worker) {
	mergeErr := s.merge(ctx)

	var hits, misses int64
	for _, w := range workers {
		hits += w.hits
		misses += w.misses
	}
	s.master.AddCounts(hits, misses)
	saveErr := s.master.Save(ctx)
	if saveErr != nil {
		slog.Error("saving master cache failed", "path", s.master.Path(), "error", saveErr)
	}

	removed := 0
	if mergeErr == nil && saveErr == nil {
		removed = cache.CleanupWorkerFiles(s.master.Path())
	} else {
		slog.Warn("keeping worker cache files for the next merge", "path", s.master.Path())
	}

	s.mu.Lock()
	s.stats.Elapsed = time.Since(s.stats.started)
	stats := s.stats
	s.mu.Unlock()

	slog.Info("scheduling finished",
		"total", stats.TotalTasks,
		"successful", stats.Successful,
		"failed", stats.Failed,
		"cache_hits", stats.CacheHits,
		"new_analyses", stats.NewAnalyses,
		"merges", stats.Merges,
		"worker_files_removed", removed,
		"elapsed", stats.Elapsed,
	)
}

// collect records o in the statistics and hands it to every hook.
func (s *Scheduler) collect(ctx context.Context, o models.TaskOutcome) models.TaskOutcome {
	if o.Err != nil && o.Error == "" {
		o.Error = o.Err.Error()
	}

	s.mu.Lock()
	s.stats.record(o)
	s.mu.Unlock()

	if !o.Succeeded() {
		slog.Warn("task failed",
			"task_id", o.TaskID,
			"building_id", o.BuildingID,
			"archetype", o.Code,
			"worker_id", o.WorkerID,
			"error", o.Error,
		)
	}

	if s.opts.Progress != nil {
		s.opts.Progress.Record(o)
	}
	hookCtx := context.WithoutCancel(ctx)
	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.RecordOutcome(hookCtx, s.opts.RunID, o); err != nil {
			slog.Warn("recording outcome failed", "task_id", o.TaskID, "error", err)
		}
	}
	if s.opts.Counters != nil {
		if err := s.opts.Counters.RecordOutcome(hookCtx, s.opts.RunID, o); err != nil {
			slog.Warn("publishing counters failed", "task_id", o.TaskID, "error", err)
		}
	}
	return o
}

func rejected(t models.JobTask, err error) models.TaskOutcome {
	status, _ := Transition(models.TaskStatusQueued, models.TaskStatusFailed)
	return models.TaskOutcome{
		TaskID:     t.ID,
		BuildingID: t.BuildingID,
		Code:       t.Code.String(),
		Status:     status,
		Err:        err,
		WorkerID:   -1,
	}
}

// PreValidate rejects tasks no worker could analyze and logs suspicious
// footprints.
func PreValidate(t models.JobTask) error {
	switch {
	case !(t.AreaSqm > 0):
		return fmt.Errorf("%w: area %.2f m² is not positive", ErrInvalidTask, t.AreaSqm)
	case t.Code.Stories < 1 || t.Code.Stories > 50:
		return fmt.Errorf("%w: %d stories outside [1, 50]", ErrInvalidTask, t.Code.Stories)
	case t.Code.System != models.SystemRC && t.Code.System != models.SystemSC:
		return fmt.Errorf("%w: structural system %q", ErrInvalidTask, t.Code.System)
	}
	if t.AreaSqm < 10 || t.AreaSqm > 10000 {
		slog.Warn("unusual building area",
			"building_id", t.BuildingID,
			"area_sqm", t.AreaSqm,
		)
	}
	return nil
}
