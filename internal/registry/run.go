package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/gateway"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/metrics"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
)

// RunAll plans opts and executes the plan. Only planning errors are returned;
// object failures are recorded in the result.
func (r *Registry) RunAll(ctx context.Context, gw gateway.Gateway, opts Options) (*models.RunResult, error) {
	plan, err := r.Plan(opts)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, gw, plan, opts), nil
}

// Execute runs plan wave by wave. Wave k+1 starts only after every object of
// wave k has finished. Once ctx is cancelled no further object starts; objects
// already running finish their current phase and the rest are marked skipped.
func (r *Registry) Execute(ctx context.Context, gw gateway.Gateway, plan models.Plan, opts Options) *models.RunResult {
	if opts.RunID != "" {
		ctx = logger.ContextWithRunID(ctx, opts.RunID)
	}
	log := logger.FromContext(ctx, r.logger)
	started := time.Now()
	metrics.RunStarted()

	r.emitInfo(opts.RunID, "run:start", map[string]interface{}{
		"total": len(plan.ObjectIDs),
		"waves": len(plan.Waves),
	})
	log.Info("Migration run started",
		logger.Int("objects", len(plan.ObjectIDs)),
		logger.Int("waves", len(plan.Waves)),
		logger.Bool("circularFallback", plan.CircularFallback),
	)

	finish := r.finisher(ctx, opts, log)
	parallel := models.BoolOr(opts.Parallel, true)
	result := &models.RunResult{
		RunID:     opts.RunID,
		Timestamp: started.UTC(),
		Results:   make([]models.ObjectResult, 0, len(plan.ObjectIDs)),
	}

	for k, wave := range plan.Waves {
		waveResults := make([]models.ObjectResult, len(wave))
		runOne := func(i int) {
			id := wave[i]
			obj, ok := r.Get(id)
			switch {
			case !ok:
				waveResults[i] = r.skipped(id, "object not registered")
			case ctx.Err() != nil:
				waveResults[i] = r.skipped(id, "run cancelled")
			default:
				waveResults[i] = r.runtime.Run(ctx, obj, gw)
				finish(waveResults[i])
			}
		}

		log.Debug("Starting wave", logger.Int("wave", k), logger.Strings("objects", wave))
		if parallel && len(wave) > 1 {
			var g errgroup.Group
			if opts.MaxParallel > 0 {
				g.SetLimit(opts.MaxParallel)
			}
			for i := range wave {
				i := i
				g.Go(func() error {
					runOne(i)
					return nil
				})
			}
			_ = g.Wait()
		} else {
			for i := range wave {
				runOne(i)
			}
		}
		result.Results = append(result.Results, waveResults...)
	}

	result.Stats = summarize(result.Results, plan.Waves, time.Since(started))
	result.Stats.Cancelled = ctx.Err() != nil

	outcome := result.Stats.Outcome()
	metrics.RunFinished(outcome, time.Since(started))

	r.emitInfo(opts.RunID, "run:complete", map[string]interface{}{
		"outcome":         outcome,
		"total":           result.Stats.Total,
		"completed":       result.Stats.Completed,
		"failed":          result.Stats.Failed,
		"totalDurationMs": result.Stats.TotalDurationMs,
	})
	log.Info("Migration run finished",
		logger.String("outcome", outcome),
		logger.Int("total", result.Stats.Total),
		logger.Int("completed", result.Stats.Completed),
		logger.Int("failed", result.Stats.Failed),
		logger.Int64("durationMs", result.Stats.TotalDurationMs),
	)
	return result
}

// finisher returns the per-object completion hook: checkpoint, then the
// caller's callback under a mutex with panics contained.
func (r *Registry) finisher(ctx context.Context, opts Options, log logger.Logger) func(models.ObjectResult) {
	var mu sync.Mutex
	return func(res models.ObjectResult) {
		if r.checkpointer != nil && opts.RunID != "" {
			if err := r.checkpointer.SaveObjectResult(context.WithoutCancel(ctx), opts.RunID, res); err != nil {
				log.Warn("Failed to checkpoint object result",
					logger.String("objectId", res.ObjectID),
					logger.Error(err),
				)
			}
		}
		if opts.OnProgress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		defer func() {
			if p := recover(); p != nil {
				err := errors.NewCoded(errors.CodeCallbackFault, "onProgress panicked: %v", p)
				log.Error("Progress callback failed",
					logger.String("code", string(errors.CodeCallbackFault)),
					logger.String("objectId", res.ObjectID),
					logger.Error(err),
				)
			}
		}()
		opts.OnProgress(res.ObjectID, res)
	}
}

func (r *Registry) skipped(id, reason string) models.ObjectResult {
	res := models.ObjectResult{ObjectID: id, Status: models.StatusSkipped}
	if obj, ok := r.Get(id); ok {
		res.Name = obj.Name()
		res.Module = obj.Module()
	}
	for _, phase := range models.Phases {
		res.Phases.Set(phase, models.SkippedPhase(reason))
	}
	now := time.Now().UTC()
	res.Stats.StartedAt, res.Stats.FinishedAt = now, now
	return res
}

func (r *Registry) emitInfo(runID, event string, data map[string]interface{}) {
	data["event"] = event
	data["message"] = fmt.Sprintf("migration %s", event)
	if runID != "" {
		data["runId"] = runID
	}
	if err := r.bus.Emit(progress.SystemInfo, data); err != nil {
		r.logger.Debug("Progress event not delivered", logger.Error(err))
	}
}

func summarize(results []models.ObjectResult, waves [][]string, elapsed time.Duration) models.RunStats {
	stats := models.RunStats{
		Total:           len(results),
		TotalDurationMs: elapsed.Milliseconds(),
		Waves:           len(waves),
		ExecutionOrder:  waves,
	}
	if stats.ExecutionOrder == nil {
		stats.ExecutionOrder = [][]string{}
	}
	for _, res := range results {
		if res.Status.Succeeded() {
			stats.Completed++
		} else {
			stats.Failed++
		}
		if res.Status == models.StatusSkipped {
			stats.Skipped++
		}
	}
	return stats
}
