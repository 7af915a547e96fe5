package storage

import (
	"context"
	"io"
	"time"

	cfg "github.com/feichai0017/migration-orchestrator/config"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/storage/minio"
	"github.com/feichai0017/migration-orchestrator/pkg/storage/s3"
)

// Storage is an object store keyed by path-like names.
type Storage interface {
	// Store writes the object and returns its key.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get opens the object. Missing keys yield errors.ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// CleanupBefore removes objects under prefix last modified before threshold
	// and returns how many were removed.
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error)
}

// NewStorage builds the backend selected by the storage config. The none type
// returns nil, nil.
func NewStorage(ctx context.Context, c cfg.StorageConfig, log logger.Logger) (Storage, error) {
	switch c.Type {
	case cfg.StorageS3:
		return s3.NewS3Storage(ctx, c.S3, log)
	case cfg.StorageMinio:
		return minio.NewMinioStorage(ctx, c.Minio, log)
	case cfg.StorageMemory:
		return NewMemoryStorage(), nil
	case cfg.StorageNone, "":
		return nil, nil
	default:
		return nil, errors.Newf("unsupported storage type: %s", c.Type)
	}
}
