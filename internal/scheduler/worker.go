package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kiranshivaraju/fragility/internal/cache"
	"github.com/kiranshivaraju/fragility/pkg/models"
)

// worker owns a private cache file. It only reads the master.
type worker struct {
	id       int
	computer Computer
	master   *cache.MasterView
	own      *cache.FileCache
	timeout  time.Duration

	hits   int64
	misses int64
}

func (w *worker) process(ctx context.Context, t models.JobTask) (out models.TaskOutcome) {
	start := time.Now()
	out = models.TaskOutcome{
		TaskID:     t.ID,
		BuildingID: t.BuildingID,
		Code:       t.Code.String(),
		Status:     models.TaskStatusQueued,
		WorkerID:   w.id,
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked",
				"task_id", t.ID,
				"archetype", out.Code,
				"worker_id", w.id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out.Status = models.TaskStatusFailed
			out.Result = nil
			out.Err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
		out.Duration = time.Since(start)
	}()

	advance := func(to models.TaskStatus) {
		next, err := Transition(out.Status, to)
		if err != nil {
			panic(err)
		}
		out.Status = next
	}
	fail := func(err error) models.TaskOutcome {
		advance(models.TaskStatusFailed)
		out.Err = err
		return out
	}

	advance(models.TaskStatusDispatched)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	if r, ok := w.lookup(ctx, out.Code); ok {
		advance(models.TaskStatusCacheHit)
		out.CacheHit = true
		out.Result = r
		advance(models.TaskStatusCompleted)
		return out
	}

	advance(models.TaskStatusComputing)
	taskCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	result, err := w.computer.Analyze(taskCtx, t.Code)
	if err != nil {
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %v", ErrTaskTimeout, w.timeout, err)
		}
		return fail(err)
	}
	if result == nil {
		return fail(errors.New("analysis returned no result"))
	}

	w.own.Put(result)
	if err := w.own.Save(ctx); err != nil {
		slog.Warn("saving worker cache failed", "worker_id", w.id, "path", w.own.Path(), "error", err)
	}
	out.Result = result
	advance(models.TaskStatusCompleted)
	return out
}

// lookup checks the master first, then the worker's own file.
func (w *worker) lookup(ctx context.Context, code string) (*models.FragilityCurveResult, bool) {
	if r, ok := w.master.Get(ctx, code); ok {
		w.hits++
		return r, true
	}
	if r, ok := w.own.Get(code); ok {
		w.hits++
		return r, true
	}
	w.misses++
	return nil, false
}
