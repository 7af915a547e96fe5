// Package migration defines the migration object contract and the shared phase
// logic objects are assembled from: table extraction, the generic field-mapping
// transformer, quality checks and per-record loading.
package migration

import (
	"context"
	"regexp"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/gateway"
)

var idPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// ValidID reports whether id is an uppercase symbolic object id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Object is one unit of migration work. Phase methods return an error only when
// the phase cannot complete at all; record level problems go into diagnostics.
type Object interface {
	ID() string
	Name() string
	Module() string
	Mappings() []FieldMapping
	QualityChecks() QualityChecks

	Extract(ctx context.Context, gw gateway.Gateway) (*models.PhaseResult, error)
	Transform(ctx context.Context, records []models.Record) (*models.PhaseResult, error)
	Validate(ctx context.Context, records []models.Record) (*models.PhaseResult, error)
	Load(ctx context.Context, records []models.Record, gw gateway.Gateway) (*models.PhaseResult, error)
}

// PostTransformer is implemented by objects with an object specific step that
// runs after the generic mapping pass, such as a dual-role merge.
type PostTransformer interface {
	PostTransform(ctx context.Context, records []models.Record, res *models.PhaseResult) ([]models.Record, error)
}

// LoadPolicy lets an object load even when validation reported errors.
type LoadPolicy interface {
	LoadOnValidationErrors() bool
}

// DependencyProvider exposes the prerequisites an object declares.
type DependencyProvider interface {
	Dependencies() []string
}

// Base carries identity, mappings and checks, and supplies the generic
// Transform and Validate. Hand written objects embed it and add Extract/Load.
type Base struct {
	ObjectID   string
	ObjectName string
	ModuleTag  string
	Deps       []string
	FieldMaps  []FieldMapping
	Checks     QualityChecks
}

func (b *Base) ID() string                   { return b.ObjectID }
func (b *Base) Name() string                 { return b.ObjectName }
func (b *Base) Module() string               { return b.ModuleTag }
func (b *Base) Dependencies() []string       { return append([]string(nil), b.Deps...) }
func (b *Base) Mappings() []FieldMapping     { return b.FieldMaps }
func (b *Base) QualityChecks() QualityChecks { return b.Checks }

// Transform applies the mapping list.
func (b *Base) Transform(_ context.Context, records []models.Record) (*models.PhaseResult, error) {
	return TransformRecords(b.FieldMaps, records), nil
}

// Validate enforces the quality checks.
func (b *Base) Validate(_ context.Context, records []models.Record) (*models.PhaseResult, error) {
	return CheckQuality(b.Checks, records), nil
}
