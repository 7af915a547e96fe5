// Package etlv drives one migration object through extract, transform,
// validate and load, containing every failure inside the returned result.
package etlv

import (
	"context"
	"fmt"
	"time"

	"github.com/feichai0017/migration-orchestrator/internal/migration"
	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/gateway"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/metrics"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
)

const (
	reasonCancelled = "run cancelled"
	reasonBlocked   = "load blocked by validation errors"
)

// Runtime executes objects. It holds no per-run state and is safe for
// concurrent use.
type Runtime struct {
	bus    progress.Emitter
	logger logger.Logger
}

// NewRuntime creates a runtime publishing to bus. A nil bus discards events.
func NewRuntime(bus progress.Emitter, log logger.Logger) *Runtime {
	if bus == nil {
		bus = progress.Discard
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runtime{bus: bus, logger: log.Named("etlv")}
}

// Run executes obj against gw and never fails: fatal phase errors, panics and
// cancellation are all recorded in the result. Cancelling ctx lets the phase in
// flight finish and skips the rest.
func (r *Runtime) Run(ctx context.Context, obj migration.Object, gw gateway.Gateway) models.ObjectResult {
	log := logger.FromContext(ctx, r.logger).With(logger.String("objectId", obj.ID()))
	result := models.ObjectResult{ObjectID: obj.ID(), Name: obj.Name(), Module: obj.Module()}

	started := time.Now()
	result.Stats.StartedAt = started.UTC()
	r.emit(ctx, log, progress.MigrationStart, obj, nil)

	// Phases never see the run's cancellation; in-flight I/O is not aborted.
	phaseCtx := context.WithoutCancel(ctx)

	var (
		records []models.Record
		skip    string
	)
	for _, phase := range models.Phases {
		if skip == "" && ctx.Err() != nil {
			skip = reasonCancelled
		}
		if skip == "" && phase == models.PhaseLoad && loadBlocked(obj, result.Phases) {
			skip = reasonBlocked
		}
		if skip != "" {
			result.Phases.Set(phase, models.SkippedPhase(skip))
			continue
		}

		begin := time.Now()
		res, err := r.invoke(phaseCtx, phase, obj, gw, records)
		elapsed := time.Since(begin)
		if err != nil {
			err = errors.WithCode(err, errors.CodePhaseFatal)
			res = models.FatalPhase(string(errors.CodePhaseFatal), err)
			res.DurationMs = elapsed.Milliseconds()
			result.Phases.Set(phase, res)
			metrics.ObservePhase(string(phase), string(res.Status), elapsed, 0)

			log.Error("Migration phase failed",
				logger.String("phase", string(phase)),
				logger.Error(err),
			)
			r.emit(ctx, log, progress.MigrationError, obj, map[string]interface{}{
				"phase": string(phase),
				"error": err.Error(),
			})
			skip = fmt.Sprintf("%s failed", phase)
			continue
		}

		res.DurationMs = elapsed.Milliseconds()
		res.Settle()
		result.Phases.Set(phase, res)
		records = res.Records
		metrics.ObservePhase(string(phase), string(res.Status), elapsed, res.RecordCount)

		if phase == models.PhaseExtract {
			r.emit(ctx, log, progress.MigrationProgress, obj, map[string]interface{}{
				"phase":       string(phase),
				"recordCount": res.RecordCount,
			})
		}
	}

	finished := time.Now()
	result.Stats.FinishedAt = finished.UTC()
	result.Stats.DurationMs = finished.Sub(started).Milliseconds()
	result.Status = models.DeriveStatus(result.Phases)
	metrics.ObserveObject(obj.Module(), string(result.Status))

	if result.Status != models.StatusError {
		r.emit(ctx, log, progress.MigrationComplete, obj, map[string]interface{}{
			"status":     string(result.Status),
			"durationMs": result.Stats.DurationMs,
		})
	}
	log.Info("Migration object finished",
		logger.String("status", string(result.Status)),
		logger.Int64("durationMs", result.Stats.DurationMs),
	)
	return result
}

// loadBlocked reports whether earlier phases produced errors the object has
// not opted to load through. Warnings never block.
func loadBlocked(obj migration.Object, phases models.PhaseSet) bool {
	hasErrors := (phases.Transform != nil && phases.Transform.Status == models.PhaseErrors) ||
		(phases.Validate != nil && phases.Validate.Status == models.PhaseErrors)
	if !hasErrors {
		return false
	}
	if p, ok := obj.(migration.LoadPolicy); ok && p.LoadOnValidationErrors() {
		return false
	}
	return true
}

func (r *Runtime) invoke(ctx context.Context, phase models.Phase, obj migration.Object, gw gateway.Gateway, records []models.Record) (res *models.PhaseResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, errors.Newf("panic in %s: %v", phase, p)
		}
	}()

	switch phase {
	case models.PhaseExtract:
		res, err = obj.Extract(ctx, gw)
	case models.PhaseTransform:
		res, err = obj.Transform(ctx, records)
		if err == nil && res != nil {
			if pt, ok := obj.(migration.PostTransformer); ok {
				var merged []models.Record
				if merged, err = pt.PostTransform(ctx, res.Records, res); err == nil {
					res.Records = merged
					res.RecordCount = len(merged)
				}
			}
		}
	case models.PhaseValidate:
		res, err = obj.Validate(ctx, records)
	case models.PhaseLoad:
		res, err = obj.Load(ctx, records, gw)
	}
	if err == nil && res == nil {
		err = errors.Newf("%s returned no result", phase)
	}
	return res, err
}

func (r *Runtime) emit(ctx context.Context, log logger.Logger, t progress.EventType, obj migration.Object, extra map[string]interface{}) {
	data := map[string]interface{}{
		"objectId": obj.ID(),
		"name":     obj.Name(),
		"module":   obj.Module(),
	}
	if runID := logger.RunIDFromContext(ctx); runID != "" {
		data["runId"] = runID
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := r.bus.Emit(t, data); err != nil {
		log.Debug("Progress event not delivered", logger.String("type", string(t)), logger.Error(err))
	}
}
