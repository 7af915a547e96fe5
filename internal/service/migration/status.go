package migration

import (
	"context"
	"sync"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
)

// memoryStatuses keeps run status in process for inline mode without redis.
type memoryStatuses struct {
	mu       sync.RWMutex
	statuses map[string]models.RunStatus
}

func newMemoryStatuses() *memoryStatuses {
	return &memoryStatuses{statuses: make(map[string]models.RunStatus)}
}

func (m *memoryStatuses) SaveStatus(_ context.Context, status *models.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.RunID] = *status
	return nil
}

func (m *memoryStatuses) GetStatus(_ context.Context, runID string) (*models.RunStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[runID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "status of run %s", runID)
	}
	return &status, nil
}
