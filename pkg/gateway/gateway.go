// Package gateway abstracts the source and target enterprise systems that
// migration phases read from and write to.
package gateway

import (
	"context"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
)

// Mode tells whether a gateway talks to a real backend.
type Mode string

const (
	ModeMock Mode = "mock"
	ModeLive Mode = "live"
)

var (
	// ErrUnreachable means the backend could not be contacted at all. Phases
	// treat it as fatal; it is the only retryable error besides ErrTimeout.
	ErrUnreachable = errors.New("gateway unreachable")
	// ErrTimeout means a single call exceeded its deadline.
	ErrTimeout = errors.New("gateway call timed out")
	// ErrRejected marks a per-record write refusal. It never fails a phase.
	ErrRejected = errors.New("record rejected by target")
)

// ReadOptions narrows a table read.
type ReadOptions struct {
	Fields  []string
	MaxRows int
}

// Gateway is the contract every source/target adapter fulfils.
type Gateway interface {
	Mode() Mode
	ReadTable(ctx context.Context, table string, opts ReadOptions) ([]models.Record, error)
	WriteObject(ctx context.Context, objectType string, rec models.Record) error
}

// IsFatal reports whether err means the backend itself failed rather than a
// single record.
func IsFatal(err error) bool {
	return errors.IsAny(err, ErrUnreachable, ErrTimeout)
}
