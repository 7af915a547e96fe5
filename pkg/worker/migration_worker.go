package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/queue"
)

// RunHandler executes one queued run.
type RunHandler interface {
	HandleRun(ctx context.Context, task *queue.Task) error
}

type MigrationWorker struct {
	BaseWorker
	runs RunHandler
}

func NewMigrationWorker(cfg *queue.Config, runs RunHandler, log logger.Logger) (*MigrationWorker, error) {
	if cfg == nil {
		cfg = queue.DefaultConfig()
	}
	if cfg.Concurrency <= 0 {
		return nil, errors.Newf("invalid worker concurrency %d", cfg.Concurrency)
	}
	log = log.Named("worker")
	server := asynq.NewServer(
		cfg.RedisOpt(),
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("Task failed",
					logger.String("type", task.Type()),
					logger.Error(err),
				)
			}),
		},
	)

	w := &MigrationWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		runs: runs,
	}
	w.registerHandlers()
	return w, nil
}

func (w *MigrationWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeMigrationRun, w.handleMigrationRun)
}

type resultWriter interface {
	Write(data []byte) (int, error)
}

func (w *MigrationWorker) handleMigrationRun(ctx context.Context, t *asynq.Task) error {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task: %v: %w", err, asynq.SkipRetry)
	}
	if task.ID == "" {
		w.logger.Error("Invalid task data", logger.String("payload", string(t.Payload())))
		return fmt.Errorf("invalid task data: missing run id: %w", asynq.SkipRetry)
	}

	log := w.logger.With(logger.String("runId", task.ID))
	log.Info("Processing migration task", logger.Any("metadata", task.Metadata))

	var rw resultWriter
	if t.ResultWriter() != nil {
		rw = t.ResultWriter()
	}
	w.writeResult(log, rw, map[string]interface{}{"state": "running", "progress": 0})

	if err := w.runs.HandleRun(ctx, &task); err != nil {
		w.writeResult(log, rw, map[string]interface{}{"state": "failed", "error": err.Error()})
		if _, coded := errors.CodeOf(err); coded {
			// planner errors are permanent
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	w.writeResult(log, rw, map[string]interface{}{"state": "completed", "progress": 1})
	return nil
}

func (w *MigrationWorker) writeResult(log logger.Logger, rw resultWriter, v map[string]interface{}) {
	if rw == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := rw.Write(data); err != nil {
		log.Warn("Failed to write task result", logger.Error(err))
	}
}
