package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	perrors "github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/queue"
)

type fakeRuns struct {
	got []*queue.Task
	err error
}

func (f *fakeRuns) HandleRun(_ context.Context, task *queue.Task) error {
	f.got = append(f.got, task)
	return f.err
}

func newTestWorker(runs RunHandler) (*MigrationWorker, *logger.TestLogger) {
	log := logger.NewTestLogger()
	return &MigrationWorker{BaseWorker: BaseWorker{logger: log}, runs: runs}, log
}

func payload(t *testing.T, task queue.Task) []byte {
	t.Helper()
	data, err := json.Marshal(task)
	require.NoError(t, err)
	return data
}

func TestHandleMigrationRun(t *testing.T) {
	runs := &fakeRuns{}
	w, log := newTestWorker(runs)

	task := queue.Task{ID: "run-1", Request: models.RunRequest{IncludeModules: []string{"FI"}}}
	err := w.handleMigrationRun(context.Background(), asynq.NewTask(queue.TaskTypeMigrationRun, payload(t, task)))
	require.NoError(t, err)
	require.Len(t, runs.got, 1)
	assert.Equal(t, "run-1", runs.got[0].ID)
	assert.Equal(t, []string{"FI"}, runs.got[0].Request.IncludeModules)
	assert.True(t, log.Contains("Processing migration task"))
}

func TestHandleMigrationRunRejectsBadPayload(t *testing.T) {
	runs := &fakeRuns{}
	w, _ := newTestWorker(runs)

	err := w.handleMigrationRun(context.Background(), asynq.NewTask(queue.TaskTypeMigrationRun, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = w.handleMigrationRun(context.Background(), asynq.NewTask(queue.TaskTypeMigrationRun, payload(t, queue.Task{})))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, runs.got)
}

func TestPlannerErrorsSkipRetry(t *testing.T) {
	runs := &fakeRuns{err: perrors.NewCoded(perrors.CodePlannerUnknownObject, "object %q is not registered", "X")}
	w, _ := newTestWorker(runs)

	err := w.handleMigrationRun(context.Background(), asynq.NewTask(queue.TaskTypeMigrationRun, payload(t, queue.Task{ID: "r"})))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Contains(t, err.Error(), string(perrors.CodePlannerUnknownObject))
}

func TestTransientErrorsRetry(t *testing.T) {
	runs := &fakeRuns{err: perrors.New("redis went away")}
	w, _ := newTestWorker(runs)

	err := w.handleMigrationRun(context.Background(), asynq.NewTask(queue.TaskTypeMigrationRun, payload(t, queue.Task{ID: "r"})))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestNewMigrationWorkerRejectsZeroConcurrency(t *testing.T) {
	cfg := queue.DefaultConfig()
	cfg.Concurrency = 0
	_, err := NewMigrationWorker(cfg, &fakeRuns{}, logger.NewNop())
	assert.Error(t, err)
}
