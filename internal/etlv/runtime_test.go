package etlv

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/migration-orchestrator/internal/migration"
	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/gateway"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
)

type recorded struct {
	Type progress.EventType
	Data map[string]interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) Emit(t progress.EventType, data map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{Type: t, Data: data})
	return nil
}

func (r *recorder) types() []progress.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// stub is an object whose phases can be swapped per test.
type stub struct {
	migration.Base
	extract     func(ctx context.Context) (*models.PhaseResult, error)
	load        func(records []models.Record) (*models.PhaseResult, error)
	loadOnError bool
	post        func(records []models.Record, res *models.PhaseResult) ([]models.Record, error)
}

func newStub(rows ...models.Record) *stub {
	s := &stub{Base: migration.Base{ObjectID: "GL_ACCOUNT_MASTER", ObjectName: "GL Accounts", ModuleTag: "FI"}}
	s.extract = func(context.Context) (*models.PhaseResult, error) {
		res := models.NewPhaseResult()
		res.Records = rows
		res.RecordCount = len(rows)
		return res, nil
	}
	s.load = func(records []models.Record) (*models.PhaseResult, error) {
		return migration.LoadRecords(context.Background(), gateway.NewMock(nil), "GLAccount", records)
	}
	return s
}

func (s *stub) Extract(ctx context.Context, _ gateway.Gateway) (*models.PhaseResult, error) {
	return s.extract(ctx)
}

func (s *stub) Load(_ context.Context, records []models.Record, _ gateway.Gateway) (*models.PhaseResult, error) {
	return s.load(records)
}

func (s *stub) LoadOnValidationErrors() bool { return s.loadOnError }

type postStub struct{ *stub }

func (p postStub) PostTransform(_ context.Context, records []models.Record, res *models.PhaseResult) ([]models.Record, error) {
	return p.post(records, res)
}

func run(t *testing.T, obj migration.Object) (models.ObjectResult, *recorder) {
	t.Helper()
	rec := &recorder{}
	rt := NewRuntime(rec, nil)
	return rt.Run(context.Background(), obj, gateway.NewMock(nil)), rec
}

func TestRunCompleted(t *testing.T) {
	obj := newStub(models.Record{"SAKNR": "100000"}, models.Record{"SAKNR": "200000"})
	obj.Checks = migration.QualityChecks{Required: []string{"SAKNR"}}

	res, rec := run(t, obj)
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, "GL_ACCOUNT_MASTER", res.ObjectID)
	assert.Equal(t, "FI", res.Module)
	assert.Equal(t, 2, res.Phases.Extract.RecordCount)
	assert.Equal(t, models.PhasePassed, res.Phases.Validate.Status)
	assert.Equal(t, 2, res.Phases.Load.SuccessCount)
	assert.False(t, res.Stats.FinishedAt.Before(res.Stats.StartedAt))
	assert.GreaterOrEqual(t, res.Stats.DurationMs, int64(0))

	assert.Equal(t, []progress.EventType{
		progress.MigrationStart, progress.MigrationProgress, progress.MigrationComplete,
	}, rec.types())
	assert.Equal(t, "completed", rec.events[2].Data["status"])
	assert.Equal(t, 2, rec.events[1].Data["recordCount"])
}

func TestRunExtractFatal(t *testing.T) {
	obj := newStub()
	obj.extract = func(context.Context) (*models.PhaseResult, error) {
		return nil, errors.Wrap(gateway.ErrUnreachable, "read SKA1")
	}

	res, rec := run(t, obj)
	assert.Equal(t, models.StatusError, res.Status)
	assert.Equal(t, models.PhaseFatal, res.Phases.Extract.Status)
	assert.Equal(t, "ERR_PHASE_FATAL", res.Phases.Extract.Diagnostics[0].Code)
	assert.Contains(t, res.Phases.Extract.Diagnostics[0].Message, "unreachable")
	assert.Equal(t, models.PhaseSkipped, res.Phases.Transform.Status)
	assert.Equal(t, models.PhaseSkipped, res.Phases.Load.Status)

	assert.Equal(t, []progress.EventType{progress.MigrationStart, progress.MigrationError}, rec.types())
	assert.Equal(t, "extract", rec.events[1].Data["phase"])
}

func TestRunRecoversPanics(t *testing.T) {
	obj := newStub(models.Record{"A": "1"})
	obj.load = func([]models.Record) (*models.PhaseResult, error) { panic("driver bug") }

	log := logger.NewTestLogger()
	res := NewRuntime(nil, log).Run(context.Background(), obj, gateway.NewMock(nil))
	assert.Equal(t, models.StatusError, res.Status)
	assert.Equal(t, models.PhaseFatal, res.Phases.Load.Status)
	assert.Contains(t, res.Phases.Load.Diagnostics[0].Message, "driver bug")
	assert.Len(t, log.EntriesAt("ERROR"), 1)
}

func TestRunNilResultIsFatal(t *testing.T) {
	obj := newStub()
	obj.extract = func(context.Context) (*models.PhaseResult, error) { return nil, nil }
	res, _ := run(t, obj)
	assert.Equal(t, models.StatusError, res.Status)
}

func TestValidationErrorsBlockLoad(t *testing.T) {
	obj := newStub(models.Record{"SAKNR": ""})
	obj.Checks = migration.QualityChecks{Required: []string{"SAKNR"}}
	loaded := false
	obj.load = func([]models.Record) (*models.PhaseResult, error) {
		loaded = true
		return models.NewPhaseResult(), nil
	}

	res, rec := run(t, obj)
	assert.False(t, loaded)
	assert.Equal(t, models.StatusValidationFailed, res.Status)
	assert.Equal(t, models.PhaseSkipped, res.Phases.Load.Status)
	assert.Equal(t, progress.MigrationComplete, rec.types()[2])
	assert.Equal(t, "validation_failed", rec.events[2].Data["status"])
}

func TestLoadOnValidationErrorsOptIn(t *testing.T) {
	obj := newStub(models.Record{"SAKNR": ""})
	obj.Checks = migration.QualityChecks{Required: []string{"SAKNR"}}
	obj.loadOnError = true

	res, _ := run(t, obj)
	assert.Equal(t, models.StatusValidationFailed, res.Status)
	assert.Equal(t, 1, res.Phases.Load.SuccessCount)
}

func TestWarningsDoNotBlockLoad(t *testing.T) {
	obj := newStub(models.Record{"NAME": "Acme AG"}, models.Record{"NAME": "Acme  AG"})
	obj.Checks = migration.QualityChecks{FuzzyDuplicate: &migration.FuzzyCheck{Keys: []string{"NAME"}, Threshold: 0.9}}

	res, _ := run(t, obj)
	assert.Equal(t, models.PhaseWarnings, res.Phases.Validate.Status)
	assert.Equal(t, models.StatusCompleted, res.Status)
}

func TestUnknownPrimitiveBlocksLoad(t *testing.T) {
	obj := newStub(models.Record{"A": "1"})
	obj.FieldMaps = []migration.FieldMapping{migration.Convert("A", "B", "toKlingon")}

	res, _ := run(t, obj)
	assert.Equal(t, models.PhaseErrors, res.Phases.Transform.Status)
	assert.Equal(t, models.PhaseSkipped, res.Phases.Load.Status)
	assert.Equal(t, models.StatusValidationFailed, res.Status)
}

func TestLoadErrorsCompleteWithErrors(t *testing.T) {
	obj := newStub(models.Record{"ID": "1"}, models.Record{"ID": "2"})
	gw := gateway.NewMock(nil, gateway.WithWriteHook(func(_ string, rec models.Record) error {
		if rec["ID"] == "2" {
			return gateway.ErrRejected
		}
		return nil
	}))
	obj.load = func(records []models.Record) (*models.PhaseResult, error) {
		return migration.LoadRecords(context.Background(), gw, "Thing", records)
	}

	res, _ := run(t, obj)
	assert.Equal(t, models.StatusCompletedWithErrors, res.Status)
	assert.Equal(t, 1, res.Phases.Load.ErrorCount)
}

func TestPostTransformRuns(t *testing.T) {
	base := newStub(models.Record{"K": "1"}, models.Record{"K": "1"})
	base.post = func(records []models.Record, res *models.PhaseResult) ([]models.Record, error) {
		res.MergedCount = 1
		return records[:1], nil
	}

	res, _ := run(t, postStub{base})
	assert.Equal(t, 1, res.Phases.Transform.RecordCount)
	assert.Equal(t, 1, res.Phases.Transform.MergedCount)
	assert.Equal(t, 1, res.Phases.Load.RecordCount)
}

func TestCancellationFinishesCurrentPhase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obj := newStub(models.Record{"A": "1"})
	inner := obj.extract
	obj.extract = func(phaseCtx context.Context) (*models.PhaseResult, error) {
		cancel()
		assert.NoError(t, phaseCtx.Err(), "phase context ignores run cancellation")
		return inner(phaseCtx)
	}

	rec := &recorder{}
	res := NewRuntime(rec, nil).Run(logger.ContextWithRunID(ctx, "run-1"), obj, gateway.NewMock(nil))
	assert.Equal(t, models.StatusSkipped, res.Status)
	assert.Equal(t, models.PhasePassed, res.Phases.Extract.Status)
	for _, p := range []*models.PhaseResult{res.Phases.Transform, res.Phases.Validate, res.Phases.Load} {
		require.NotNil(t, p)
		assert.Equal(t, models.PhaseSkipped, p.Status)
	}
	assert.Equal(t, "run-1", rec.events[0].Data["runId"])
	assert.Equal(t, "skipped", rec.events[len(rec.events)-1].Data["status"])
}
