package migration

import (
	"context"
	"strings"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/gateway"
)

// Definition describes a migration object as data.
type Definition struct {
	ID                     string         `yaml:"id" json:"id"`
	Name                   string         `yaml:"name" json:"name"`
	Module                 string         `yaml:"module" json:"module"`
	Sources                []Source       `yaml:"sources" json:"sources"`
	TargetType             string         `yaml:"targetType,omitempty" json:"targetType,omitempty"`
	Dependencies           []string       `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Mappings               []FieldMapping `yaml:"mappings,omitempty" json:"mappings,omitempty"`
	Checks                 QualityChecks  `yaml:"checks,omitempty" json:"checks,omitempty"`
	LoadOnValidationErrors bool           `yaml:"loadOnValidationErrors,omitempty" json:"loadOnValidationErrors,omitempty"`
	DualRoleMerge          *DualRoleMerge `yaml:"dualRoleMerge,omitempty" json:"dualRoleMerge,omitempty"`
	// Hook names a post-transform step resolved by the catalog. It runs after
	// the dual-role merge.
	Hook string `yaml:"hook,omitempty" json:"hook,omitempty"`
}

// Check validates the definition shape.
func (d Definition) Check() error {
	if !ValidID(d.ID) {
		return errors.Newf("invalid object id %q", d.ID)
	}
	if strings.TrimSpace(d.Module) == "" {
		return errors.Newf("%s: module is required", d.ID)
	}
	if len(d.Sources) == 0 {
		return errors.Newf("%s: at least one source table is required", d.ID)
	}
	for _, src := range d.Sources {
		if strings.TrimSpace(src.Table) == "" {
			return errors.Newf("%s: source table name is empty", d.ID)
		}
	}
	for _, m := range d.Mappings {
		if err := m.Check(); err != nil {
			return errors.Wrapf(err, "%s", d.ID)
		}
	}
	for _, dep := range d.Dependencies {
		if !ValidID(dep) {
			return errors.Newf("%s: invalid dependency id %q", d.ID, dep)
		}
	}
	if m := d.DualRoleMerge; m != nil && (m.Key == "" || len(m.Roles) == 0) {
		return errors.Newf("%s: dualRoleMerge needs a key and roles", d.ID)
	}
	return nil
}

// Declarative is an Object built from a Definition.
type Declarative struct {
	Base
	def  Definition
	hook PostTransformer
}

// NewDeclarative checks def and builds the object.
func NewDeclarative(def Definition) (*Declarative, error) {
	if err := def.Check(); err != nil {
		return nil, err
	}
	name := def.Name
	if name == "" {
		name = def.ID
	}
	return &Declarative{
		Base: Base{
			ObjectID:   def.ID,
			ObjectName: name,
			ModuleTag:  def.Module,
			Deps:       def.Dependencies,
			FieldMaps:  def.Mappings,
			Checks:     def.Checks,
		},
		def: def,
	}, nil
}

// Definition returns the source definition.
func (o *Declarative) Definition() Definition { return o.def }

func (o *Declarative) Extract(ctx context.Context, gw gateway.Gateway) (*models.PhaseResult, error) {
	return ExtractTables(ctx, gw, o.def.Sources)
}

// SetHook attaches the post-transform step named by the definition.
func (o *Declarative) SetHook(h PostTransformer) { o.hook = h }

// PostTransform runs the dual-role merge and then the attached hook.
func (o *Declarative) PostTransform(ctx context.Context, records []models.Record, res *models.PhaseResult) ([]models.Record, error) {
	var err error
	if o.def.DualRoleMerge != nil {
		if records, err = o.def.DualRoleMerge.PostTransform(ctx, records, res); err != nil {
			return nil, err
		}
	}
	if o.hook != nil {
		return o.hook.PostTransform(ctx, records, res)
	}
	return records, nil
}

func (o *Declarative) Load(ctx context.Context, records []models.Record, gw gateway.Gateway) (*models.PhaseResult, error) {
	target := o.def.TargetType
	if target == "" {
		target = o.def.ID
	}
	return LoadRecords(ctx, gw, target, records)
}

func (o *Declarative) LoadOnValidationErrors() bool { return o.def.LoadOnValidationErrors }
