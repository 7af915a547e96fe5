// Package registry owns the registered migration objects, plans which of them
// a run covers and executes the plan wave by wave.
package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/feichai0017/migration-orchestrator/internal/etlv"
	"github.com/feichai0017/migration-orchestrator/internal/graph"
	"github.com/feichai0017/migration-orchestrator/internal/migration"
	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/internal/utils/validator"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
)

// InterfaceModule tags objects that belong to the interface cluster.
const InterfaceModule = "INTERFACE"

// Checkpointer persists each finished object result. Failures are logged and
// never stop the run.
type Checkpointer interface {
	SaveObjectResult(ctx context.Context, runID string, result models.ObjectResult) error
}

// Registry holds objects in registration order.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]migration.Object
	order   []string

	graph        *graph.Graph
	runtime      *etlv.Runtime
	bus          progress.Emitter
	validator    *validator.RunValidator
	checkpointer Checkpointer
	logger       logger.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithCheckpointer stores every object result as it finishes.
func WithCheckpointer(c Checkpointer) Option {
	return func(r *Registry) { r.checkpointer = c }
}

// WithValidator replaces the default run option validator.
func WithValidator(v *validator.RunValidator) Option {
	return func(r *Registry) { r.validator = v }
}

// New creates an empty registry publishing progress to bus.
func New(bus progress.Emitter, log logger.Logger, opts ...Option) *Registry {
	if bus == nil {
		bus = progress.Discard
	}
	if log == nil {
		log = logger.NewNop()
	}
	r := &Registry{
		objects: make(map[string]migration.Object),
		graph:   graph.New(log),
		runtime: etlv.NewRuntime(bus, log),
		bus:     bus,
		logger:  log.Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.validator == nil {
		r.validator = validator.NewRunValidator(log, nil)
	}
	return r
}

// Register adds obj. Registering an id again replaces the object in place.
// Declared dependencies are copied into the graph.
func (r *Registry) Register(obj migration.Object) error {
	id := obj.ID()
	if !migration.ValidID(id) {
		return errors.NewCoded(errors.CodePlannerBadOptions, "invalid object id %q", id)
	}

	r.mu.Lock()
	if _, exists := r.objects[id]; !exists {
		r.order = append(r.order, id)
	}
	r.objects[id] = obj
	r.mu.Unlock()

	r.graph.AddNode(id, obj.Module())
	var deps []string
	if p, ok := obj.(migration.DependencyProvider); ok {
		deps = p.Dependencies()
	}
	r.graph.SetDependencies(id, deps...)
	return nil
}

// SetDependencies overrides the prerequisites of a registered object.
func (r *Registry) SetDependencies(id string, prerequisites ...string) error {
	if _, ok := r.Get(id); !ok {
		return errors.NewCoded(errors.CodePlannerUnknownObject, "object %q is not registered", id)
	}
	r.graph.SetDependencies(id, prerequisites...)
	return nil
}

// Get returns the object registered under id.
func (r *Registry) Get(id string) (migration.Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[id]
	return obj, ok
}

// IDs returns registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Graph exposes the dependency graph for read-only queries.
func (r *Registry) Graph() *graph.Graph { return r.graph }

// Objects describes every registered object.
func (r *Registry) Objects() []models.ObjectInfo {
	ids := r.IDs()
	out := make([]models.ObjectInfo, 0, len(ids))
	for _, id := range ids {
		obj, _ := r.Get(id)
		out = append(out, models.ObjectInfo{
			ObjectID:     id,
			Name:         obj.Name(),
			Module:       obj.Module(),
			Dependencies: r.graph.GetDependencies(id),
		})
	}
	return out
}

// Validate checks the dependency graph against the registered set.
func (r *Registry) Validate() graph.ValidationReport {
	return r.graph.Validate(r.IDs())
}

// IsInterface reports whether obj belongs to the interface cluster.
func IsInterface(obj migration.Object) bool {
	return strings.EqualFold(obj.Module(), InterfaceModule) || strings.HasSuffix(obj.ID(), "_INTERFACE")
}

// IsConfig reports whether id names a configuration object.
func IsConfig(id string) bool {
	return strings.HasSuffix(id, "_CONFIG")
}
