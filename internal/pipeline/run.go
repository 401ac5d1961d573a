package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/fragility/internal/cache"
	"github.com/kiranshivaraju/fragility/internal/store"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

// Run bookkeeping is best effort: a store or counters outage is logged and
// never fails the batch.

func (p *Pipeline) createRun(ctx context.Context, runID uuid.UUID, tasks, unique int) {
	if p.counters != nil {
		if err := p.counters.SetRunStatus(ctx, runID, models.RunStatusRunning); err != nil {
			slog.Warn("setting run status failed", "run_id", runID, "error", err)
		}
	}
	if p.store == nil {
		return
	}
	run := &models.Run{
		ID:               runID,
		Status:           models.RunStatusRunning,
		InventoryPath:    p.cfg.Run.GeoJSONPath,
		Workers:          p.cfg.Run.Workers,
		TotalTasks:       tasks,
		UniqueArchetypes: unique,
		StartedAt:        time.Now().UTC(),
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		slog.Warn("creating run record failed", "run_id", runID, "error", err)
	}
}

func (p *Pipeline) failRun(ctx context.Context, runID uuid.UUID, cause error) {
	ctx = context.WithoutCancel(ctx)
	if p.counters != nil {
		if err := p.counters.SetRunStatus(ctx, runID, models.RunStatusFailed); err != nil {
			slog.Warn("setting run status failed", "run_id", runID, "error", err)
		}
	}
	if p.store == nil {
		return
	}
	if err := p.store.UpdateRunStatus(ctx, runID, models.RunStatusFailed, store.WithErrorMessage(cause.Error())); err != nil {
		slog.Warn("marking run failed", "run_id", runID, "error", err)
	}
}

func (p *Pipeline) completeRun(ctx context.Context, runID uuid.UUID, sum *Summary) {
	ctx = context.WithoutCancel(ctx)
	if p.counters != nil {
		if err := p.counters.SetRunStatus(ctx, runID, models.RunStatusCompleted); err != nil {
			slog.Warn("setting run status failed", "run_id", runID, "error", err)
		}
		if err := p.counters.PublishProgress(ctx, runID, sum.Progress.Snapshot); err != nil {
			slog.Warn("publishing progress failed", "run_id", runID, "error", err)
		}
	}
	if p.store == nil {
		return
	}
	opts := []store.RunUpdateOption{store.WithTotals(store.RunTotals{
		TotalTasks:       sum.Scheduling.TotalTasks,
		UniqueArchetypes: sum.Classification.UniqueArchetypes,
		Successful:       sum.Scheduling.Successful,
		Failed:           sum.Scheduling.Failed,
		CacheHits:        sum.Scheduling.CacheHits,
	})}
	if sum.Validation != nil {
		opts = append(opts, store.WithQualityScore(sum.Validation.QualityScore))
	}
	if err := p.store.UpdateRunStatus(ctx, runID, models.RunStatusCompleted, opts...); err != nil {
		slog.Warn("marking run completed", "run_id", runID, "error", err)
	}
}

// persistResults mirrors the master cache into the store. Older rows are
// left alone by the upsert.
func (p *Pipeline) persistResults(ctx context.Context, runID uuid.UUID, master *cache.FileCache) {
	if p.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var updated int
	for _, r := range master.Entries() {
		ok, err := p.store.UpsertFragilityResult(ctx, runID, r)
		if err != nil {
			slog.Warn("persisting fragility result failed", "archetype", r.ArchetypeCode, "error", err)
			continue
		}
		if ok {
			updated++
		}
	}
	slog.Info("fragility results persisted", "run_id", runID, "updated", updated, "entries", master.Len())
}
