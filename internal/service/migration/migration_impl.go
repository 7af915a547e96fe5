package migration

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/migration-orchestrator/config"
	"github.com/feichai0017/migration-orchestrator/internal/graph"
	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/internal/registry"
	"github.com/feichai0017/migration-orchestrator/pkg/converters"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
	"github.com/feichai0017/migration-orchestrator/pkg/queue"
	"github.com/feichai0017/migration-orchestrator/pkg/storage"
)

var (
	// ErrRunNotFinished is returned for reports of runs still pending or running.
	ErrRunNotFinished = errors.New("run has not finished")
	// ErrRunFinished is returned when cancelling a run that already ended.
	ErrRunFinished = errors.New("run already finished")
)

type MigrationServiceImpl struct {
	engine    *Engine
	queue     queue.Queue
	statuses  StatusRepository
	reports   *storage.ReportArchive
	converter converters.RunConverter
	logger    logger.Logger
	config    *ServiceConfig

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
	closers []func() error
}

type ServiceConfig struct {
	Mode           string
	QueuePriority  int
	Parallel       bool
	MaxParallel    int
	Strict         bool
	MaxDiagnostics int
}

// DefaultServiceConfig runs inline with parallel waves.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Mode:           config.RunModeInline,
		QueuePriority:  2,
		Parallel:       true,
		MaxDiagnostics: 50,
	}
}

// NewService wires a service. q may be nil in inline mode; statuses defaults
// to an in-process store and reports may be nil when no archive is configured.
func NewService(
	engine *Engine,
	q queue.Queue,
	statuses StatusRepository,
	reports *storage.ReportArchive,
	log logger.Logger,
	cfg *ServiceConfig,
) *MigrationServiceImpl {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if statuses == nil {
		statuses = newMemoryStatuses()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &MigrationServiceImpl{
		engine:    engine,
		queue:     q,
		statuses:  statuses,
		reports:   reports,
		converter: converters.NewReportConverter(cfg.MaxDiagnostics),
		logger:    log.Named("service"),
		config:    cfg,
		running:   make(map[string]context.CancelFunc),
	}
}

// GetService builds the service described by cfg: engine, report storage and,
// in queue mode, the redis status store and asynq queue.
func GetService(ctx context.Context, cfg *config.Config, bus progress.Emitter, log logger.Logger) (*MigrationServiceImpl, error) {
	store, err := storage.NewStorage(ctx, cfg.Storage, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize storage")
	}
	var reports *storage.ReportArchive
	if store != nil {
		reports = storage.NewReportArchive(store, cfg.Storage.ReportPrefix, cfg.Storage.Retention, log)
	}

	svcCfg := &ServiceConfig{
		Mode:           cfg.Run.Mode,
		QueuePriority:  cfg.Queue.Priority,
		Parallel:       cfg.Run.Parallel,
		MaxParallel:    cfg.Run.MaxParallel,
		Strict:         cfg.Run.Strict,
		MaxDiagnostics: 50,
	}

	if cfg.Run.Mode != config.RunModeQueue {
		engine, err := NewEngine(cfg.Run, cfg.Gateway, bus, log)
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize engine")
		}
		return NewService(engine, nil, nil, reports, log, svcCfg), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	statusStore := queue.NewStatusStore(rdb, cfg.Queue.StatusTTL)

	engine, err := NewEngine(cfg.Run, cfg.Gateway, bus, log, registry.WithCheckpointer(statusStore))
	if err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "failed to initialize engine")
	}
	q := queue.NewAsynqQueue(cfg.QueueConfig(), statusStore, log)

	svc := NewService(engine, q, statusStore, reports, log, svcCfg)
	svc.closers = append(svc.closers, q.Close, rdb.Close)
	return svc, nil
}

// Engine exposes the registry and gateway behind the service.
func (s *MigrationServiceImpl) Engine() *Engine { return s.engine }

// Plan resolves req without running anything.
func (s *MigrationServiceImpl) Plan(ctx context.Context, req models.RunRequest) (*models.Plan, error) {
	plan, err := s.engine.Registry.Plan(s.options(req, ""))
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// StartRun plans req and schedules it. Planner errors are returned before
// anything is scheduled.
func (s *MigrationServiceImpl) StartRun(ctx context.Context, req models.RunRequest) (*models.RunStatus, error) {
	plan, err := s.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	now := time.Now().UTC()
	status := &models.RunStatus{
		RunID:     runID,
		State:     models.RunPending,
		Total:     len(plan.ObjectIDs),
		Request:   req,
		CreatedAt: now,
	}
	if err := s.statuses.SaveStatus(ctx, status); err != nil {
		s.logger.Error("Failed to save initial status",
			logger.String("runId", runID),
			logger.Error(err),
		)
	}

	task := &queue.Task{
		ID:        runID,
		Type:      queue.TaskTypeMigrationRun,
		Priority:  s.config.QueuePriority,
		Request:   req,
		Metadata:  map[string]string{"objects": strconv.Itoa(len(plan.ObjectIDs))},
		CreatedAt: now,
	}

	if s.config.Mode == config.RunModeQueue && s.queue != nil {
		if err := s.queue.Enqueue(ctx, task); err != nil {
			s.logger.Error("Failed to enqueue run",
				logger.String("runId", runID),
				logger.Error(err),
			)
			return nil, errors.Wrap(err, "failed to enqueue run")
		}
	} else {
		s.startInline(task)
	}

	s.logger.Info("Migration run created",
		logger.String("runId", runID),
		logger.String("mode", s.config.Mode),
		logger.Int("objects", len(plan.ObjectIDs)),
		logger.Int("waves", len(plan.Waves)),
	)
	return status, nil
}

func (s *MigrationServiceImpl) startInline(task *queue.Task) {
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.running[task.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, task.ID)
			s.mu.Unlock()
			cancel()
		}()
		if err := s.HandleRun(runCtx, task); err != nil {
			s.logger.Error("Inline run failed",
				logger.String("runId", task.ID),
				logger.Error(err),
			)
		}
	}()
}

// HandleRun executes task and records its status and report. Object failures
// are part of the report; only planner errors are returned.
func (s *MigrationServiceImpl) HandleRun(ctx context.Context, task *queue.Task) error {
	if task == nil || task.ID == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "invalid task: missing run id")
	}
	log := s.logger.With(logger.String("runId", task.ID))
	log.Info("Processing migration run")

	status, err := s.statuses.GetStatus(ctx, task.ID)
	if err != nil {
		status = &models.RunStatus{RunID: task.ID, Request: task.Request, CreatedAt: task.CreatedAt}
	}
	status.State = models.RunRunning
	status.StartedAt = time.Now().UTC()
	status.Finished, status.Failed, status.Progress = 0, 0, 0
	s.saveStatus(ctx, log, status)

	opts := s.options(task.Request, task.ID)
	opts.OnProgress = func(_ string, res models.ObjectResult) {
		status.Finished++
		if !res.Status.Succeeded() {
			status.Failed++
		}
		if status.Total > 0 {
			status.Progress = float64(status.Finished) / float64(status.Total)
		}
		s.saveStatus(context.WithoutCancel(ctx), log, status)
	}

	plan, err := s.engine.Registry.Plan(opts)
	if err != nil {
		s.finish(ctx, log, status, models.RunFailed, err.Error())
		return err
	}
	status.Total = len(plan.ObjectIDs)

	result := s.engine.Registry.Execute(ctx, s.engine.Gateway, plan, opts)

	status.Finished = result.Stats.Total
	status.Failed = result.Stats.Failed
	if key, err := s.archive(ctx, result); err != nil {
		log.Error("Failed to archive report", logger.Error(err))
	} else {
		status.ReportKey = key
	}

	state := models.RunCompleted
	if result.Stats.Cancelled {
		state = models.RunCancelled
	}
	s.finish(ctx, log, status, state, "")
	log.Info("Migration run completed",
		logger.String("outcome", result.Stats.Outcome()),
		logger.Int("completed", result.Stats.Completed),
		logger.Int("failed", result.Stats.Failed),
	)
	return nil
}

func (s *MigrationServiceImpl) options(req models.RunRequest, runID string) registry.Options {
	if req.Parallel == nil {
		req.Parallel = models.Bool(s.config.Parallel)
	}
	if req.MaxParallel == 0 {
		req.MaxParallel = s.config.MaxParallel
	}
	return registry.Options{RunRequest: req, RunID: runID, Strict: s.config.Strict}
}

func (s *MigrationServiceImpl) archive(ctx context.Context, result *models.RunResult) (string, error) {
	if s.reports == nil {
		return "", nil
	}
	report, err := s.converter.Convert(result)
	if err != nil {
		return "", err
	}
	return s.reports.Save(context.WithoutCancel(ctx), report)
}

func (s *MigrationServiceImpl) finish(ctx context.Context, log logger.Logger, status *models.RunStatus, state models.RunState, msg string) {
	status.State = state
	status.Error = msg
	status.FinishedAt = time.Now().UTC()
	if state == models.RunCompleted {
		status.Progress = 1
	}
	s.saveStatus(context.WithoutCancel(ctx), log, status)
}

func (s *MigrationServiceImpl) saveStatus(ctx context.Context, log logger.Logger, status *models.RunStatus) {
	if err := s.statuses.SaveStatus(ctx, status); err != nil {
		log.Warn("Failed to save status", logger.Error(err))
	}
}

// GetRunStatus returns the latest known status of runID.
func (s *MigrationServiceImpl) GetRunStatus(ctx context.Context, runID string) (*models.RunStatus, error) {
	if s.queue != nil {
		return s.queue.GetRunStatus(ctx, runID)
	}
	return s.statuses.GetStatus(ctx, runID)
}

// GetReport loads the archived report of a finished run.
func (s *MigrationServiceImpl) GetReport(ctx context.Context, runID string) (*converters.Report, error) {
	status, err := s.GetRunStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !status.State.Terminal() {
		return nil, errors.WithHint(
			errors.Wrapf(ErrRunNotFinished, "run %s is %s", runID, status.State),
			"reports are available once the run has finished")
	}
	if s.reports == nil {
		return nil, errors.WithHint(
			errors.Wrapf(errors.ErrNotFound, "report of run %s", runID),
			"report storage is disabled")
	}
	return s.reports.Load(ctx, runID)
}

// CancelRun stops an inline run or cancels a queued one.
func (s *MigrationServiceImpl) CancelRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	cancel, ok := s.running[runID]
	s.mu.Unlock()
	if ok {
		cancel()
		s.logger.Info("Run cancelled", logger.String("runId", runID))
		return nil
	}
	if s.queue != nil {
		if err := s.queue.CancelTask(ctx, runID); err != nil {
			return errors.Wrap(err, "failed to cancel run")
		}
		s.logger.Info("Run cancelled", logger.String("runId", runID))
		return nil
	}

	status, err := s.statuses.GetStatus(ctx, runID)
	if err != nil {
		return err
	}
	return errors.Wrapf(ErrRunFinished, "run %s is %s", runID, status.State)
}

// ValidateGraph checks the dependency graph of the loaded catalog.
func (s *MigrationServiceImpl) ValidateGraph(ctx context.Context) graph.ValidationReport {
	return s.engine.Registry.Validate()
}

// ListObjects describes every registered object.
func (s *MigrationServiceImpl) ListObjects(ctx context.Context) []models.ObjectInfo {
	return s.engine.Registry.Objects()
}

// Impact lists the objects that depend on objectID, directly or not.
func (s *MigrationServiceImpl) Impact(ctx context.Context, objectID string) ([]string, error) {
	if _, ok := s.engine.Registry.Get(objectID); !ok {
		return nil, errors.NewCoded(errors.CodePlannerUnknownObject, "object %q is not registered", objectID)
	}
	return s.engine.Registry.Graph().GetImpact(objectID), nil
}

// CleanupReports removes archived reports past retention.
func (s *MigrationServiceImpl) CleanupReports(ctx context.Context) (int, error) {
	if s.reports == nil {
		return 0, nil
	}
	return s.reports.Cleanup(ctx)
}

// Close cancels inline runs, waits for them and releases connections.
func (s *MigrationServiceImpl) Close() error {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()

	var err error
	for _, c := range s.closers {
		err = errors.CombineErrors(err, c())
	}
	return err
}
