package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/fragility/internal/backend/mock"
	"github.com/kiranshivaraju/fragility/internal/cache"
	"github.com/kiranshivaraju/fragility/internal/config"
	"github.com/kiranshivaraju/fragility/internal/counters"
	"github.com/kiranshivaraju/fragility/internal/groundmotion"
	"github.com/kiranshivaraju/fragility/internal/inventory"
	"github.com/kiranshivaraju/fragility/internal/pipeline"
	"github.com/kiranshivaraju/fragility/internal/store"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

// --- fixtures ---

const buildings = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "properties": {"area_sqm": 120, "max_height": 17.5, "floor": "5R", "max_age": 30}},
  {"type": "Feature", "properties": {"area_sqm": 110, "max_height": 17.0, "floor": "5R", "max_age": 40}},
  {"type": "Feature", "properties": {"area_sqm": 140, "max_height": 16.0, "floor": "5R", "max_age": 28}},
  {"type": "Feature", "properties": {"area_sqm": 800, "max_height": 42, "floor": "12M", "max_age": 35}},
  {"type": "Feature", "properties": {"area_sqm": 90, "max_height": 3.2}},
  {"type": "Feature", "properties": {"area_sqm": 130, "max_height": 17.5, "floor": "5R", "max_age": 26}}
]}`

// writeGroundMotions lays out n records of distinct lengths.
func writeGroundMotions(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("EQ%03d", i+1)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, id), 0o755))
		var b strings.Builder
		length := 300 + i
		for j := 0; j < length; j++ {
			v := 0.0
			if j >= length/4 && j < 3*length/4 {
				v = 50
			}
			fmt.Fprintf(&b, "%g\n", v)
		}
		for _, comp := range []string{"FN", "FP"} {
			path := filepath.Join(dir, id, id+"_"+comp+".txt")
			require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
		}
	}
}

type fixture struct {
	cfg  *config.Config
	root string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	geo := filepath.Join(root, "buildings.geojson")
	require.NoError(t, os.WriteFile(geo, []byte(buildings), 0o644))
	gmDir := filepath.Join(root, "gm")
	writeGroundMotions(t, gmDir, 3)

	states := make([]config.DamageState, len(config.DefaultDamageStates))
	copy(states, config.DefaultDamageStates)

	cfg := &config.Config{
		LogLevel: "info",
		Run: config.RunConfig{
			GeoJSONPath:    geo,
			GMDir:          gmDir,
			OutputDir:      filepath.Join(root, "out"),
			Workers:        2,
			MergeInterval:  2,
			TaskTimeout:    time.Minute,
			ReportInterval: time.Hour,
			CurrentYear:    2024,
		},
		Analysis: config.AnalysisConfig{
			PGATargets:        append([]float64(nil), config.DefaultPGATargets...),
			DamageStates:      states,
			CollapseDrift:     0.10,
			Damping:           0.05,
			GMTimeStep:        0.01,
			MinGroundMotions:  1,
			WarnGroundMotions: 10,
		},
		Cache: config.CacheConfig{
			Path:           filepath.Join(root, "cache", "fragility_cache.json"),
			Backups:        5,
			LoadRetries:    1,
			LoadRetryDelay: time.Millisecond,
			LockTimeout:    time.Second,
		},
	}
	return fixture{cfg: cfg, root: root}
}

// scattered answers drift = 0.02·PGA^1.2 times a per-record factor so the
// demand regression has a residual.
func scattered() *mock.MockBackend {
	factors := []float64{0.8, 1.0, 1.25}
	return &mock.MockBackend{
		Name_: "scattered",
		RunOnceFunc: func(_ context.Context, req models.BackendRequest) (models.BackendResponse, error) {
			pga := groundmotion.PGA(req.Waveform, req.DT)
			f := factors[(len(req.Waveform)-300)%len(factors)]
			return models.BackendResponse{MaxDriftRatio: 0.02 * math.Pow(pga, 1.2) * f, Converged: true}, nil
		},
	}
}

// --- mocks ---

type fakeStore struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*models.Run
	outcomes []models.TaskOutcome
	results  map[string]*models.FragilityCurveResult
	statuses []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:    make(map[uuid.UUID]*models.Run),
		results: make(map[string]*models.FragilityCurveResult),
	}
}

var _ store.Store = (*fakeStore)(nil)

func (s *fakeStore) Ping(_ context.Context) error { return nil }

func (s *fakeStore) CreateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	s.statuses = append(s.statuses, run.Status)
	return nil
}

func (s *fakeStore) GetRun(_ context.Context, id uuid.UUID) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (s *fakeStore) UpdateRunStatus(_ context.Context, id uuid.UUID, status string, opts ...store.RunUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) RecordOutcome(_ context.Context, _ uuid.UUID, o models.TaskOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *fakeStore) ListOutcomes(_ context.Context, _ store.OutcomeFilter) ([]*models.TaskOutcome, int, error) {
	return nil, 0, nil
}

func (s *fakeStore) UpsertFragilityResult(_ context.Context, _ uuid.UUID, r *models.FragilityCurveResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.ArchetypeCode] = r
	return true, nil
}

func (s *fakeStore) GetFragilityResult(_ context.Context, code string) (*models.FragilityCurveResult, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) GetFragilityResultsByCodes(_ context.Context, _ []string) ([]*models.FragilityCurveResult, error) {
	return nil, nil
}

type fakeCounters struct {
	mu        sync.Mutex
	outcomes  int
	statuses  []string
	published int
	failWith  error
}

var _ counters.Counters = (*fakeCounters)(nil)

func (c *fakeCounters) Ping(_ context.Context) error { return nil }

func (c *fakeCounters) RecordOutcome(_ context.Context, _ uuid.UUID, _ models.TaskOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes++
	return c.failWith
}

func (c *fakeCounters) Counts(_ context.Context, _ uuid.UUID) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (c *fakeCounters) SetRunStatus(_ context.Context, _ uuid.UUID, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
	return c.failWith
}

func (c *fakeCounters) RunStatus(_ context.Context, _ uuid.UUID) (string, bool, error) {
	return "", false, nil
}

func (c *fakeCounters) PublishProgress(_ context.Context, _ uuid.UUID, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published++
	return c.failWith
}

func (c *fakeCounters) Progress(_ context.Context, _ uuid.UUID) ([]byte, bool, error) {
	return nil, false, nil
}

// --- Run ---

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t)
	st := newFakeStore()
	ctr := &fakeCounters{}
	p := pipeline.New(f.cfg, scattered(), pipeline.WithStore(st), pipeline.WithCounters(ctr))

	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, p.RunID(), sum.RunID)
	assert.Equal(t, 3, sum.GroundMotions)
	assert.Equal(t, 6, sum.Buildings)
	assert.Equal(t, 5, sum.Classified)
	assert.Equal(t, 2, sum.Classification.UniqueArchetypes)
	assert.Equal(t, 1, sum.AgeFilling.ClassificationErrs)
	assert.Equal(t, 5, sum.Scheduling.TotalTasks)
	assert.Equal(t, 5, sum.Scheduling.Successful)
	assert.Zero(t, sum.Scheduling.Failed)

	assert.True(t, sum.Cache.Exists)
	assert.Equal(t, 2, sum.Cache.Entries)
	assert.Positive(t, sum.Cache.SizeBytes)

	require.NotNil(t, sum.Validation)
	assert.Equal(t, 5, sum.Validation.TotalItems)
	assert.InDelta(t, 1.0, sum.Validation.CompletenessRate, 1e-9)

	assert.Equal(t, 5, sum.Output.Successful)
	assert.Equal(t, 5, sum.Integrity.FeaturesWithFragility)
	assert.Equal(t, 6, sum.Integrity.FeatureCount)

	for _, name := range []string{
		pipeline.ValidationReportFile,
		pipeline.ResultsFile,
		pipeline.SummaryFile,
		pipeline.ProgressFile,
	} {
		assert.FileExists(t, filepath.Join(f.cfg.Run.OutputDir, name))
	}

	workers, err := cache.WorkerFiles(f.cfg.Cache.Path)
	require.NoError(t, err)
	assert.Empty(t, workers, "worker files are cleaned up")

	master, err := cache.Open(f.cfg.Cache.Path, cache.Options{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"RC-PRE-5F-S", "SC-PRE-12F-L"}, master.Keys())

	snap, ok := p.Progress()
	require.True(t, ok)
	assert.Equal(t, 5, snap.Completed)

	assert.Len(t, st.outcomes, 5)
	assert.Len(t, st.results, 2)
	assert.Equal(t, []string{models.RunStatusRunning, models.RunStatusCompleted}, st.statuses)
	assert.Equal(t, 5, ctr.outcomes)
	assert.Equal(t, []string{models.RunStatusRunning, models.RunStatusCompleted}, ctr.statuses)
	assert.GreaterOrEqual(t, ctr.published, 1)
}

func TestRun_SecondRunHitsCache(t *testing.T) {
	f := newFixture(t)
	_, err := pipeline.New(f.cfg, scattered()).Run(context.Background())
	require.NoError(t, err)

	var calls atomic.Int32
	counting := &mock.MockBackend{
		Name_: "counting",
		RunOnceFunc: func(ctx context.Context, req models.BackendRequest) (models.BackendResponse, error) {
			calls.Add(1)
			return scattered().RunOnce(ctx, req)
		},
	}
	sum, err := pipeline.New(f.cfg, counting).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, calls.Load(), "every archetype is already in the master cache")
	assert.Equal(t, 5, sum.Scheduling.CacheHits)
	assert.Zero(t, sum.Scheduling.NewAnalyses)
	assert.Equal(t, 2, sum.Cache.Entries)
}

func TestRun_SkipValidation(t *testing.T) {
	f := newFixture(t)
	f.cfg.Run.SkipValidation = true

	sum, err := pipeline.New(f.cfg, scattered()).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sum.Validation)
	assert.NoFileExists(t, filepath.Join(f.cfg.Run.OutputDir, pipeline.ValidationReportFile))
}

func TestRun_FailedAnalysesAreMarked(t *testing.T) {
	f := newFixture(t)
	st := newFakeStore()
	sum, err := pipeline.New(f.cfg, mock.NewFailingBackend(errors.New("solver crashed")), pipeline.WithStore(st)).
		Run(context.Background())
	require.NoError(t, err, "per-building failures do not abort the run")

	assert.Equal(t, 5, sum.Scheduling.Failed)
	assert.Equal(t, 5, sum.Output.Failed)
	assert.Equal(t, 5, sum.Integrity.FeaturesFailed)
	require.NotNil(t, sum.Validation)
	assert.Zero(t, sum.Validation.QualityScore)
	assert.Equal(t, models.RunStatusCompleted, st.statuses[len(st.statuses)-1])
}

func TestRun_CounterOutageIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctr := &fakeCounters{failWith: errors.New("redis down")}
	sum, err := pipeline.New(f.cfg, scattered(), pipeline.WithCounters(ctr)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Scheduling.Successful)
}

func TestRun_MaxBuildings(t *testing.T) {
	f := newFixture(t)
	f.cfg.Run.MaxBuildings = 3

	sum, err := pipeline.New(f.cfg, scattered()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Buildings)
	assert.Equal(t, 1, sum.Classification.UniqueArchetypes)
}

func TestRun_MasterSavesTakeTheCacheLock(t *testing.T) {
	f := newFixture(t)
	f.cfg.Cache.LockTimeout = 20 * time.Millisecond
	require.NoError(t, os.MkdirAll(filepath.Dir(f.cfg.Cache.Path), 0o755))
	holder := flock.New(cache.LockPath(f.cfg.Cache.Path))
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	defer slog.SetDefault(prev)

	sum, err := pipeline.New(f.cfg, scattered(), pipeline.WithLockStrategy(cache.LockAdvisory)).Run(context.Background())
	require.NoError(t, err, "a held lock only delays master saves")
	assert.Equal(t, 2, sum.Cache.Entries)
	assert.Contains(t, logs.String(), "cache lock unavailable, saving without it")

	master, err := cache.Open(f.cfg.Cache.Path, cache.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, master.Len())
}

func TestRun_SuppliedLockStrategySkipsDetection(t *testing.T) {
	f := newFixture(t)
	_, err := pipeline.New(f.cfg, scattered(), pipeline.WithLockStrategy(cache.LockCopyOnly)).Run(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, cache.LockPath(f.cfg.Cache.Path), "no capability check and no lock file with copy-only saves")

	g := newFixture(t)
	_, err = pipeline.New(g.cfg, scattered()).Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, cache.LockPath(g.cfg.Cache.Path))
}

// --- input validation ---

func TestRun_InputErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f fixture)
		wantErr error
	}{
		{
			name:    "missing geojson",
			mutate:  func(f fixture) { f.cfg.Run.GeoJSONPath = filepath.Join(f.root, "nope.geojson") },
			wantErr: pipeline.ErrInvalidInput,
		},
		{
			name:    "missing gm dir",
			mutate:  func(f fixture) { f.cfg.Run.GMDir = filepath.Join(f.root, "nope") },
			wantErr: pipeline.ErrInvalidInput,
		},
		{
			name: "no valid ground motions",
			mutate: func(f fixture) {
				empty := filepath.Join(f.root, "empty")
				_ = os.MkdirAll(empty, 0o755)
				f.cfg.Run.GMDir = empty
			},
			wantErr: pipeline.ErrNoGroundMotions,
		},
		{
			name:    "too few ground motions",
			mutate:  func(f fixture) { f.cfg.Analysis.MinGroundMotions = 4 },
			wantErr: pipeline.ErrNoGroundMotions,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(f)
			_, err := pipeline.New(f.cfg, scattered()).Run(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRun_NoClassifiableBuilding(t *testing.T) {
	f := newFixture(t)
	geo := filepath.Join(f.root, "unclassifiable.geojson")
	require.NoError(t, os.WriteFile(geo, []byte(`{"type":"FeatureCollection","features":[{"properties":{"area_sqm":0}}]}`), 0o644))
	f.cfg.Run.GeoJSONPath = geo

	_, err := pipeline.New(f.cfg, scattered()).Run(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrNoClassifiedBuilding)
}

func TestRun_SummaryFile(t *testing.T) {
	f := newFixture(t)
	_, err := pipeline.New(f.cfg, scattered()).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.cfg.Run.OutputDir, pipeline.SummaryFile))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"run_id", "classification", "scheduling", "cache", "validation", "progress"} {
		assert.Contains(t, doc, key)
	}

	rep := inventory.Integrity(filepath.Join(f.cfg.Run.OutputDir, pipeline.ResultsFile))
	assert.True(t, rep.ValidGeoJSON)
}
