package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
)

const keyPrefix = "migration:run:"

func statusKey(runID string) string     { return fmt.Sprintf("%s%s:status", keyPrefix, runID) }
func checkpointKey(runID string) string { return fmt.Sprintf("%s%s:objects", keyPrefix, runID) }

// StatusStore keeps run status and per-object checkpoints in redis. Every key
// expires after ttl.
type StatusStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewStatusStore returns a store over rdb.
func NewStatusStore(rdb redis.UniversalClient, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusStore{rdb: rdb, ttl: ttl}
}

// SaveStatus writes status, replacing any previous value.
func (s *StatusStore) SaveStatus(ctx context.Context, status *models.RunStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "failed to marshal status")
	}
	if err := s.rdb.Set(ctx, statusKey(status.RunID), data, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to save status")
	}
	return nil
}

// GetStatus returns the stored status or ErrNotFound.
func (s *StatusStore) GetStatus(ctx context.Context, runID string) (*models.RunStatus, error) {
	data, err := s.rdb.Get(ctx, statusKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Wrapf(errors.ErrNotFound, "status of run %s", runID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get status from redis")
	}
	var status models.RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal status")
	}
	return &status, nil
}

// Update loads the status of runID, applies fn and saves it back.
func (s *StatusStore) Update(ctx context.Context, runID string, fn func(*models.RunStatus)) (*models.RunStatus, error) {
	status, err := s.GetStatus(ctx, runID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		status = &models.RunStatus{RunID: runID, State: models.RunPending, CreatedAt: time.Now().UTC()}
	}
	fn(status)
	return status, s.SaveStatus(ctx, status)
}

// SaveObjectResult checkpoints one finished object under its run.
func (s *StatusStore) SaveObjectResult(ctx context.Context, runID string, result models.ObjectResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "failed to marshal object result")
	}
	key := checkpointKey(runID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, result.ObjectID, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to checkpoint %s", result.ObjectID)
	}
	return nil
}

// ObjectResults returns every checkpointed result of runID keyed by object id.
func (s *StatusStore) ObjectResults(ctx context.Context, runID string) (map[string]models.ObjectResult, error) {
	raw, err := s.rdb.HGetAll(ctx, checkpointKey(runID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoints")
	}
	out := make(map[string]models.ObjectResult, len(raw))
	for id, data := range raw {
		var res models.ObjectResult
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			return nil, errors.Wrapf(err, "failed to decode checkpoint %s", id)
		}
		out[id] = res
	}
	return out, nil
}

// Delete removes status and checkpoints of runID.
func (s *StatusStore) Delete(ctx context.Context, runID string) error {
	return s.rdb.Del(ctx, statusKey(runID), checkpointKey(runID)).Err()
}
