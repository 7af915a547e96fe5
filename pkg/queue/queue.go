// Package queue runs migrations in the background: asynq carries run tasks,
// redis keeps run status and per-object checkpoints.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

// TaskTypeMigrationRun executes one migration run.
const TaskTypeMigrationRun = "migration:run"

// Queue names by priority.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// DefaultQueues are the asynq queue weights.
var DefaultQueues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// Queue schedules runs and answers status queries.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	GetRunStatus(ctx context.Context, runID string) (*models.RunStatus, error)
	SaveStatus(ctx context.Context, status *models.RunStatus) error
	CancelTask(ctx context.Context, runID string) error
}

// Task is the payload of a migration:run task.
type Task struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Request   models.RunRequest `json:"request"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Config configures the asynq client and the status store.
type Config struct {
	RedisAddr     string         `mapstructure:"addr"`
	RedisPassword string         `mapstructure:"password"`
	RedisDB       int            `mapstructure:"db"`
	MaxRetries    int            `mapstructure:"maxRetries"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	StatusTTL     time.Duration  `mapstructure:"statusTTL"`
	Concurrency   int            `mapstructure:"concurrency"`
	Queues        map[string]int `mapstructure:"queues"`
}

// DefaultConfig returns local development settings.
func DefaultConfig() *Config {
	return &Config{
		RedisAddr:   "localhost:6379",
		MaxRetries:  0,
		Timeout:     2 * time.Hour,
		StatusTTL:   24 * time.Hour,
		Concurrency: 2,
		Queues:      DefaultQueues,
	}
}

// RedisOpt returns the asynq connection options.
func (c *Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// AsynqQueue enqueues runs through asynq and reads status from the store.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	store     *StatusStore
	cfg       *Config
	logger    logger.Logger
}

// NewAsynqQueue connects the asynq client and inspector.
func NewAsynqQueue(cfg *Config, store *StatusStore, log logger.Logger) *AsynqQueue {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	opt := cfg.RedisOpt()
	return &AsynqQueue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		store:     store,
		cfg:       cfg,
		logger:    log.Named("queue"),
	}
}

// Enqueue submits task. The asynq task id is the run id so a run is never
// queued twice.
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	t, err := newAsynqTask(task, q.cfg)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, t)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return errors.Wrapf(err, "run %s is already queued", task.ID)
		}
		return errors.Wrap(err, "failed to enqueue task")
	}
	q.logger.Info("Run enqueued",
		logger.String("runId", task.ID),
		logger.String("queue", info.Queue),
	)
	return nil
}

func newAsynqTask(task *Task, cfg *Config) (*asynq.Task, error) {
	if task.Type == "" {
		task.Type = TaskTypeMigrationRun
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal task")
	}
	opts := []asynq.Option{
		asynq.MaxRetry(cfg.MaxRetries),
		asynq.TaskID(task.ID),
		asynq.Queue(queueFor(task.Priority)),
		asynq.Retention(cfg.StatusTTL),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, asynq.Timeout(cfg.Timeout))
	}
	return asynq.NewTask(task.Type, payload, opts...), nil
}

func queueFor(priority int) string {
	switch priority {
	case 1:
		return QueueCritical
	case 2:
		return QueueDefault
	default:
		return QueueLow
	}
}

// GetRunStatus prefers the stored status and falls back to the asynq task state.
func (q *AsynqQueue) GetRunStatus(ctx context.Context, runID string) (*models.RunStatus, error) {
	status, err := q.store.GetStatus(ctx, runID)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	info, err := q.findTask(runID)
	if err != nil {
		return nil, err
	}
	status = convertAsynqStatus(info)
	if err := q.store.SaveStatus(ctx, status); err != nil {
		q.logger.Warn("Failed to save status", logger.String("runId", runID), logger.Error(err))
	}
	return status, nil
}

func (q *AsynqQueue) findTask(runID string) (*asynq.TaskInfo, error) {
	for name := range q.cfg.Queues {
		info, err := q.inspector.GetTaskInfo(name, runID)
		if err == nil {
			return info, nil
		}
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "run %s", runID)
}

// SaveStatus persists status with the configured TTL.
func (q *AsynqQueue) SaveStatus(ctx context.Context, status *models.RunStatus) error {
	return q.store.SaveStatus(ctx, status)
}

// CancelTask deletes a waiting task or signals a running one.
func (q *AsynqQueue) CancelTask(ctx context.Context, runID string) error {
	info, err := q.findTask(runID)
	if err != nil {
		return err
	}
	if info.State == asynq.TaskStateActive {
		if err := q.inspector.CancelProcessing(runID); err != nil {
			return errors.Wrap(err, "failed to cancel running task")
		}
		q.logger.Info("Cancellation signalled", logger.String("runId", runID))
		return nil
	}
	if err := q.inspector.DeleteTask(info.Queue, runID); err != nil {
		return errors.Wrap(err, "failed to cancel task")
	}
	status := convertAsynqStatus(info)
	status.State = models.RunCancelled
	status.FinishedAt = time.Now().UTC()
	return q.store.SaveStatus(ctx, status)
}

// Close releases the redis connections.
func (q *AsynqQueue) Close() error {
	return errors.CombineErrors(q.client.Close(), q.inspector.Close())
}

// convertAsynqStatus maps an asynq task to a run status.
func convertAsynqStatus(info *asynq.TaskInfo) *models.RunStatus {
	status := &models.RunStatus{RunID: info.ID}
	var task Task
	if err := json.Unmarshal(info.Payload, &task); err == nil {
		status.Request = task.Request
		status.CreatedAt = task.CreatedAt
	}

	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled:
		status.State = models.RunPending
	case asynq.TaskStateActive:
		status.State = models.RunRunning
	case asynq.TaskStateCompleted:
		status.State = models.RunCompleted
		status.Progress = 1
		status.FinishedAt = info.CompletedAt
	case asynq.TaskStateRetry, asynq.TaskStateArchived:
		status.State = models.RunFailed
		status.Error = info.LastErr
		status.FinishedAt = info.LastFailedAt
	default:
		status.State = models.RunPending
	}
	return status
}
