package worker

import (
	"context"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// Start runs the asynq server in the background until ctx is done or Stop is called.
func (w *BaseWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.logger.Info("Worker started")

	go func() {
		select {
		case <-ctx.Done():
			_ = w.Stop()
		case <-w.stopChan:
		}
	}()
	return nil
}

// Stop drains in-flight tasks and shuts the server down. Safe to call twice.
func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.server.Shutdown()
		w.logger.Info("Worker stopped")
	})
	return nil
}
