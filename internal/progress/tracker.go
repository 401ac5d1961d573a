// Package progress tracks a batch run: counters, ETA, a rolling window of
// recent task metrics, an error log and named checkpoints.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

const (
	DefaultWindow         = 100
	DefaultReportInterval = 30 * time.Second
)

// TaskMetric is what the tracker remembers about one finished task.
type TaskMetric struct {
	TaskID     string        `json:"task_id"`
	BuildingID string        `json:"building_id"`
	Archetype  string        `json:"archetype_code"`
	Success    bool          `json:"success"`
	CacheHit   bool          `json:"cache_hit"`
	WorkerID   int           `json:"worker_id"`
	Duration   time.Duration `json:"duration_ns"`
	FinishedAt time.Time     `json:"finished_at"`
}

type ErrorEntry struct {
	TaskID     string    `json:"task_id"`
	BuildingID string    `json:"building_id"`
	Archetype  string    `json:"archetype_code"`
	Message    string    `json:"message"`
	At         time.Time `json:"timestamp"`
}

type Checkpoint struct {
	Name     string   `json:"checkpoint_name"`
	Snapshot Snapshot `json:"progress"`
}

// Recent summarizes the rolling window.
type Recent struct {
	Tasks        int           `json:"tasks"`
	SuccessRate  float64       `json:"success_rate"`
	CacheHitRate float64       `json:"cache_hit_rate"`
	MeanDuration time.Duration `json:"avg_task_time_ns"`
	MaxDuration  time.Duration `json:"max_task_time_ns"`
}

// Snapshot is the tracker state at one instant.
type Snapshot struct {
	Timestamp   time.Time     `json:"timestamp"`
	Total       int           `json:"total_tasks"`
	Completed   int           `json:"completed_tasks"`
	Successful  int           `json:"successful_tasks"`
	Failed      int           `json:"failed_tasks"`
	CacheHits   int           `json:"cache_hits"`
	NewAnalyses int           `json:"new_analyses"`
	Percent     float64       `json:"progress_percentage"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	ETA         time.Duration `json:"estimated_remaining_ns"`
	Recent      Recent        `json:"recent_performance"`
}

// Summary is produced once a run ends.
type Summary struct {
	Snapshot
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration_ns"`
	SuccessRate  float64       `json:"success_rate"`
	CacheHitRate float64       `json:"cache_hit_rate"`
	Throughput   float64       `json:"throughput_per_minute"`
	ErrorCount   int           `json:"error_count"`
	Checkpoints  []Checkpoint  `json:"checkpoints"`
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	total       int
	started     time.Time
	completed   int
	successful  int
	failed      int
	cacheHits   int
	newAnalyses int

	window      []TaskMetric
	windowSize  int
	errors      []ErrorEntry
	checkpoints []Checkpoint

	interval  time.Duration
	callbacks []func(Snapshot)
	now       func() time.Time
}

type Option func(*Tracker)

func WithReportInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithWindow(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.windowSize = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(total int, opts ...Option) *Tracker {
	t := &Tracker{
		total:      total,
		windowSize: DefaultWindow,
		interval:   DefaultReportInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.started = t.now()
	return t
}

// OnReport registers fn to receive a snapshot every report interval.
func (t *Tracker) OnReport(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, fn)
}

// Record counts one outcome.
func (t *Tracker) Record(o models.TaskOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.completed++
	ok := o.Succeeded()
	switch {
	case !ok:
		t.failed++
		msg := o.Error
		if msg == "" && o.Err != nil {
			msg = o.Err.Error()
		}
		t.errors = append(t.errors, ErrorEntry{
			TaskID:     o.TaskID.String(),
			BuildingID: o.BuildingID,
			Archetype:  o.Code,
			Message:    msg,
			At:         now,
		})
	case o.CacheHit:
		t.successful++
		t.cacheHits++
	default:
		t.successful++
		t.newAnalyses++
	}

	t.window = append(t.window, TaskMetric{
		TaskID:     o.TaskID.String(),
		BuildingID: o.BuildingID,
		Archetype:  o.Code,
		Success:    ok,
		CacheHit:   o.CacheHit,
		WorkerID:   o.WorkerID,
		Duration:   o.Duration,
		FinishedAt: now,
	})
	if len(t.window) > t.windowSize {
		t.window = append([]TaskMetric(nil), t.window[len(t.window)-t.windowSize:]...)
	}
}

// Checkpoint stores the current snapshot under name.
func (t *Tracker) Checkpoint(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkpoints = append(t.checkpoints, Checkpoint{Name: name, Snapshot: t.snapshotLocked()})
	slog.Info("checkpoint", "name", name, "completed", t.completed, "total", t.total)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	now := t.now()
	s := Snapshot{
		Timestamp:   now,
		Total:       t.total,
		Completed:   t.completed,
		Successful:  t.successful,
		Failed:      t.failed,
		CacheHits:   t.cacheHits,
		NewAnalyses: t.newAnalyses,
		Elapsed:     now.Sub(t.started),
		Recent:      t.recentLocked(),
	}
	if t.total > 0 {
		s.Percent = float64(t.completed) / float64(t.total) * 100
	}
	if t.completed > 0 && t.total > t.completed {
		perTask := s.Elapsed / time.Duration(t.completed)
		s.ETA = time.Duration(t.total-t.completed) * perTask
	}
	return s
}

func (t *Tracker) recentLocked() Recent {
	r := Recent{Tasks: len(t.window)}
	if r.Tasks == 0 {
		return r
	}
	var ok, hits int
	var sum time.Duration
	for _, m := range t.window {
		if m.Success {
			ok++
		}
		if m.CacheHit {
			hits++
		}
		sum += m.Duration
		r.MaxDuration = max(r.MaxDuration, m.Duration)
	}
	r.SuccessRate = float64(ok) / float64(r.Tasks)
	r.CacheHitRate = float64(hits) / float64(r.Tasks)
	r.MeanDuration = sum / time.Duration(r.Tasks)
	return r
}

// Errors returns a copy of the error log.
func (t *Tracker) Errors() []ErrorEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ErrorEntry(nil), t.errors...)
}

// Window returns a copy of the recent task metrics, oldest first.
func (t *Tracker) Window() []TaskMetric {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TaskMetric(nil), t.window...)
}

// Run fires the report callbacks every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Report()
		}
	}
}

// Report logs the current snapshot and hands it to every callback.
func (t *Tracker) Report() {
	t.mu.Lock()
	s := t.snapshotLocked()
	callbacks := slices.Clone(t.callbacks)
	t.mu.Unlock()

	slog.Info("progress",
		"completed", s.Completed,
		"total", s.Total,
		"percent", fmt.Sprintf("%.1f", s.Percent),
		"successful", s.Successful,
		"failed", s.Failed,
		"cache_hits", s.CacheHits,
		"new_analyses", s.NewAnalyses,
		"elapsed", s.Elapsed.Round(time.Second),
		"eta", s.ETA.Round(time.Second),
	)
	for _, fn := range callbacks {
		fn(s)
	}
}

func (t *Tracker) FinalSummary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.snapshotLocked()
	sum := Summary{
		Snapshot:    s,
		StartedAt:   t.started,
		FinishedAt:  s.Timestamp,
		Duration:    s.Elapsed,
		ErrorCount:  len(t.errors),
		Checkpoints: append([]Checkpoint(nil), t.checkpoints...),
	}
	if t.completed > 0 {
		sum.SuccessRate = float64(t.successful) / float64(t.completed)
	}
	if t.successful > 0 {
		sum.CacheHitRate = float64(t.cacheHits) / float64(t.successful)
	}
	if minutes := s.Elapsed.Minutes(); minutes > 0 {
		sum.Throughput = float64(t.completed) / minutes
	}
	return sum
}

type savedProgress struct {
	Summary Summary      `json:"summary"`
	Errors  []ErrorEntry `json:"error_log"`
	Recent  []TaskMetric `json:"recent_tasks"`
}

// Save writes the final summary, error log and recent window to path.
func (t *Tracker) Save(path string) error {
	doc := savedProgress{
		Summary: t.FinalSummary(),
		Errors:  t.Errors(),
		Recent:  t.Window(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating progress dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing progress: %w", err)
	}
	return nil
}
