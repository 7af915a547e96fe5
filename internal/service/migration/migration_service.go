package migration

import (
	"context"

	"github.com/feichai0017/migration-orchestrator/internal/graph"
	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/converters"
	"github.com/feichai0017/migration-orchestrator/pkg/queue"
)

type MigrationService interface {
	Plan(ctx context.Context, req models.RunRequest) (*models.Plan, error)
	StartRun(ctx context.Context, req models.RunRequest) (*models.RunStatus, error)
	HandleRun(ctx context.Context, task *queue.Task) error
	GetRunStatus(ctx context.Context, runID string) (*models.RunStatus, error)
	GetReport(ctx context.Context, runID string) (*converters.Report, error)
	CancelRun(ctx context.Context, runID string) error
	ValidateGraph(ctx context.Context) graph.ValidationReport
	ListObjects(ctx context.Context) []models.ObjectInfo
	Impact(ctx context.Context, objectID string) ([]string, error)
	CleanupReports(ctx context.Context) (int, error)
}

// StatusRepository persists run status. queue.StatusStore implements it over redis.
type StatusRepository interface {
	SaveStatus(ctx context.Context, status *models.RunStatus) error
	GetStatus(ctx context.Context, runID string) (*models.RunStatus, error)
}
