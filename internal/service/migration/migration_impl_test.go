package migration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/migration-orchestrator/config"
	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/gateway"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
	"github.com/feichai0017/migration-orchestrator/pkg/queue"
	"github.com/feichai0017/migration-orchestrator/pkg/storage"
)

type fakeQueue struct {
	mu        sync.Mutex
	tasks     []*queue.Task
	cancelled []string
	statuses  StatusRepository
}

func (q *fakeQueue) Enqueue(_ context.Context, task *queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeQueue) GetRunStatus(ctx context.Context, runID string) (*models.RunStatus, error) {
	return q.statuses.GetStatus(ctx, runID)
}

func (q *fakeQueue) SaveStatus(ctx context.Context, status *models.RunStatus) error {
	return q.statuses.SaveStatus(ctx, status)
}

func (q *fakeQueue) CancelTask(_ context.Context, runID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, runID)
	return nil
}

func newEngine(t *testing.T, bus progress.Emitter) *Engine {
	t.Helper()
	engine, err := NewEngine(
		config.RunConfig{},
		config.GatewayConfig{Mode: string(gateway.ModeMock), Resilient: gateway.ResilientConfig{MaxRetries: 0}},
		bus,
		logger.NewNop(),
	)
	require.NoError(t, err)
	return engine
}

func newInlineService(t *testing.T) (*MigrationServiceImpl, *storage.MemoryStorage) {
	t.Helper()
	mem := storage.NewMemoryStorage()
	archive := storage.NewReportArchive(mem, "reports", time.Hour, logger.NewNop())
	svc := NewService(newEngine(t, nil), nil, nil, archive, logger.NewNop(), nil)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mem
}

func waitTerminal(t *testing.T, svc *MigrationServiceImpl, runID string) *models.RunStatus {
	t.Helper()
	var status *models.RunStatus
	require.Eventually(t, func() bool {
		s, err := svc.GetRunStatus(context.Background(), runID)
		if err != nil {
			return false
		}
		status = s
		return s.State.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return status
}

func TestPlanUsesCatalog(t *testing.T) {
	svc, _ := newInlineService(t)

	plan, err := svc.Plan(context.Background(), models.RunRequest{ObjectIDs: []string{"GL_BALANCE"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"COMPANY_CODE_CONFIG", "GL_ACCOUNT_MASTER", "GL_BALANCE"}, plan.ObjectIDs)

	_, err = svc.Plan(context.Background(), models.RunRequest{ObjectIDs: []string{"NOPE"}})
	assert.True(t, errors.HasCode(err, errors.CodePlannerUnknownObject))
}

func TestInlineRunCompletesAndArchivesReport(t *testing.T) {
	svc, mem := newInlineService(t)
	ctx := context.Background()

	status, err := svc.StartRun(ctx, models.RunRequest{IncludeModules: []string{"FI"}})
	require.NoError(t, err)
	assert.Equal(t, models.RunPending, status.State)
	assert.NotEmpty(t, status.RunID)

	final := waitTerminal(t, svc, status.RunID)
	assert.Equal(t, models.RunCompleted, final.State)
	assert.Equal(t, final.Total, final.Finished)
	assert.Zero(t, final.Failed)
	assert.Equal(t, 1.0, final.Progress)
	assert.Equal(t, "reports/"+status.RunID+".json", final.ReportKey)
	assert.Contains(t, mem.Keys(), final.ReportKey)

	report, err := svc.GetReport(ctx, status.RunID)
	require.NoError(t, err)
	assert.Equal(t, status.RunID, report.RunID)
	assert.Equal(t, "succeeded", report.Summary.Outcome)
	assert.Equal(t, final.Total, report.Summary.Total)
}

func TestStartRunRejectsBadRequest(t *testing.T) {
	svc, _ := newInlineService(t)

	_, err := svc.StartRun(context.Background(), models.RunRequest{ObjectIDs: []string{"bad id"}})
	assert.True(t, errors.HasCode(err, errors.CodePlannerBadOptions))
}

func TestGetReportUnknownRun(t *testing.T) {
	svc, _ := newInlineService(t)

	_, err := svc.GetReport(context.Background(), "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestGetReportBeforeFinish(t *testing.T) {
	svc, _ := newInlineService(t)
	ctx := context.Background()
	require.NoError(t, svc.statuses.SaveStatus(ctx, &models.RunStatus{RunID: "r1", State: models.RunRunning}))

	_, err := svc.GetReport(ctx, "r1")
	assert.True(t, errors.Is(err, ErrRunNotFinished))
}

func TestCancelRun(t *testing.T) {
	svc, _ := newInlineService(t)
	ctx := context.Background()

	assert.True(t, errors.IsNotFoundError(svc.CancelRun(ctx, "missing")))

	require.NoError(t, svc.statuses.SaveStatus(ctx, &models.RunStatus{RunID: "done", State: models.RunCompleted}))
	assert.True(t, errors.Is(svc.CancelRun(ctx, "done"), ErrRunFinished))

	cancelled := make(chan struct{})
	svc.running["live"] = func() { close(cancelled) }
	require.NoError(t, svc.CancelRun(ctx, "live"))
	<-cancelled
	delete(svc.running, "live")
}

func TestQueueModeEnqueuesAndWorkerHandles(t *testing.T) {
	statuses := newMemoryStatuses()
	q := &fakeQueue{statuses: statuses}
	mem := storage.NewMemoryStorage()
	archive := storage.NewReportArchive(mem, "reports", time.Hour, logger.NewNop())
	cfg := DefaultServiceConfig()
	cfg.Mode = config.RunModeQueue
	svc := NewService(newEngine(t, nil), q, statuses, archive, logger.NewNop(), cfg)
	ctx := context.Background()

	status, err := svc.StartRun(ctx, models.RunRequest{ObjectIDs: []string{"COST_CENTER"}})
	require.NoError(t, err)
	require.Len(t, q.tasks, 1)
	task := q.tasks[0]
	assert.Equal(t, status.RunID, task.ID)
	assert.Equal(t, queue.TaskTypeMigrationRun, task.Type)
	assert.Equal(t, "2", task.Metadata["objects"])

	pending, err := svc.GetRunStatus(ctx, status.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunPending, pending.State)

	require.NoError(t, svc.HandleRun(ctx, task))
	final, err := svc.GetRunStatus(ctx, status.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, final.State)
	assert.Equal(t, 2, final.Finished)
	assert.False(t, final.StartedAt.IsZero())

	require.NoError(t, svc.CancelRun(ctx, "queued-run"))
	assert.Equal(t, []string{"queued-run"}, q.cancelled)
}

func TestHandleRunPlannerErrorMarksFailed(t *testing.T) {
	svc, _ := newInlineService(t)
	ctx := context.Background()

	err := svc.HandleRun(ctx, &queue.Task{ID: "r2", Request: models.RunRequest{ObjectIDs: []string{"UNKNOWN"}}})
	require.Error(t, err)

	status, err := svc.GetRunStatus(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, status.State)
	assert.Contains(t, status.Error, "UNKNOWN")

	assert.Error(t, svc.HandleRun(ctx, &queue.Task{}))
}

func TestHandleRunCancelledContext(t *testing.T) {
	svc, _ := newInlineService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, svc.HandleRun(ctx, &queue.Task{ID: "r3"}))
	status, err := svc.GetRunStatus(context.Background(), "r3")
	require.NoError(t, err)
	assert.Equal(t, models.RunCancelled, status.State)
	assert.Equal(t, status.Total, status.Failed)
}

func TestGraphQueries(t *testing.T) {
	svc, _ := newInlineService(t)
	ctx := context.Background()

	report := svc.ValidateGraph(ctx)
	assert.True(t, report.Valid)
	assert.Len(t, svc.ListObjects(ctx), 12)

	impact, err := svc.Impact(ctx, "COMPANY_CODE_CONFIG")
	require.NoError(t, err)
	assert.Contains(t, impact, "GL_BALANCE")
	assert.NotContains(t, impact, "COMPANY_CODE_CONFIG")

	_, err = svc.Impact(ctx, "NOPE")
	assert.True(t, errors.HasCode(err, errors.CodePlannerUnknownObject))
}

func TestCleanupReports(t *testing.T) {
	svc, _ := newInlineService(t)
	n, err := svc.CleanupReports(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	bare := NewService(newEngine(t, nil), nil, nil, nil, nil, nil)
	n, err = bare.CleanupReports(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
