package registry

import (
	"strings"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
)

// ProgressFunc observes each object right after it finishes. Calls are
// serialised; a panic inside is recovered and logged.
type ProgressFunc func(objectID string, result models.ObjectResult)

// Options are the run options: the serialisable request plus in-process hooks.
type Options struct {
	models.RunRequest

	// RunID tags events, logs and checkpoints.
	RunID string
	// OnProgress is called after every executed object.
	OnProgress ProgressFunc
	// Strict fails planning with ERR_GRAPH_CYCLE when the graph has cycles.
	Strict bool
}

// Plan resolves opts to the closed object set and its waves:
//
//  1. registered ids (or opts.ObjectIDs) filtered by include then exclude modules
//  2. minus excludeObjects, then config/interface objects when disabled
//  3. plus every registered transitive prerequisite, even if filtered out
//  4. partitioned into waves
func (r *Registry) Plan(opts Options) (models.Plan, error) {
	if err := r.validator.Check(opts.RunRequest); err != nil {
		return models.Plan{}, err
	}
	registered := r.IDs()
	if opts.Strict {
		if _, err := r.graph.ValidateStrict(registered); err != nil {
			return models.Plan{}, err
		}
	}

	base := registered
	if len(opts.ObjectIDs) > 0 {
		requested := make(map[string]bool, len(opts.ObjectIDs))
		for _, id := range opts.ObjectIDs {
			if _, ok := r.Get(id); !ok {
				return models.Plan{}, errors.NewCoded(errors.CodePlannerUnknownObject, "object %q is not registered", id)
			}
			requested[id] = true
		}
		base = keep(registered, func(id string) bool { return requested[id] })
	}

	excluded := make(map[string]bool, len(opts.ExcludeObjects))
	for _, id := range opts.ExcludeObjects {
		excluded[id] = true
	}
	includeConfig := models.BoolOr(opts.IncludeConfig, true)
	includeInterfaces := models.BoolOr(opts.IncludeInterfaces, true)

	selected := keep(base, func(id string) bool {
		obj, _ := r.Get(id)
		module := obj.Module()
		if len(opts.IncludeModules) > 0 && !matchesAny(module, opts.IncludeModules) {
			return false
		}
		if matchesAny(module, opts.ExcludeModules) {
			return false
		}
		if excluded[id] {
			return false
		}
		if !includeConfig && IsConfig(id) {
			return false
		}
		if !includeInterfaces && IsInterface(obj) {
			return false
		}
		return true
	})

	inSelection := make(map[string]bool, len(selected))
	for _, id := range selected {
		inSelection[id] = true
	}
	closure := make(map[string]bool, len(selected))
	if len(selected) > 0 {
		for _, id := range r.graph.SelectSubset(selected) {
			closure[id] = true
		}
	}

	plan := models.Plan{ObjectIDs: []string{}, Waves: [][]string{}}
	for _, id := range registered {
		if !closure[id] {
			continue
		}
		plan.ObjectIDs = append(plan.ObjectIDs, id)
		if !inSelection[id] {
			plan.Added = append(plan.Added, id)
		}
	}
	part := r.graph.Partition(plan.ObjectIDs)
	if part.Waves != nil {
		plan.Waves = part.Waves
	}
	plan.CircularFallback = part.CircularFallback
	return plan, nil
}

func keep(ids []string, pred func(string) bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if pred(id) {
			out = append(out, id)
		}
	}
	return out
}

func matchesAny(module string, modules []string) bool {
	for _, m := range modules {
		if strings.EqualFold(strings.TrimSpace(m), module) {
			return true
		}
	}
	return false
}
