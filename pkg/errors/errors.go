// Package errors provides error handling for the migration orchestrator.
//
// It re-exports github.com/cockroachdb/errors (stack traces, wrapping, hints)
// and adds the closed set of machine-readable failure codes used across the
// planner, the ETLV runtime and the progress bus.
//
// Usage:
//
//	// Programmer error surfaced to the caller
//	return errors.NewCoded(errors.CodePlannerUnknownObject, "object %q is not registered", id)
//
//	// Wrap with context
//	if err := q.Enqueue(ctx, task); err != nil {
//	    return errors.Wrap(err, "failed to enqueue run")
//	}
//
//	// Inspect
//	if errors.HasCode(err, errors.CodeGraphCycle) {
//	    os.Exit(2)
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New           = crdb.New
	Newf          = crdb.Newf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	WithStack     = crdb.WithStack
	WithMessage   = crdb.WithMessage
	WithMessagef  = crdb.WithMessagef
	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Error inspection
var (
	Is         = crdb.Is
	IsAny      = crdb.IsAny
	As         = crdb.As
	Unwrap     = crdb.Unwrap
	UnwrapOnce = crdb.UnwrapOnce
	UnwrapAll  = crdb.UnwrapAll
)

// Sentinels shared by the service layer.
var (
	// ErrNotFound indicates the requested run, report or object does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates a malformed request body
	ErrInvalidRequest = New("invalid request")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}
