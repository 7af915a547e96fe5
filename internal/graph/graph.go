// Package graph stores the prerequisite relation between migration objects and
// answers ordering questions over it: transitive closure, impact, subset
// selection, topological order, wave partition and cycle detection.
//
// All queries are pure over the current graph state. Mutators are expected to
// run before any execution starts; a RWMutex still guards the maps so that a
// late SetDependencies cannot corrupt concurrent readers.
package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

// Graph maps an object id to its ordered, de-duplicated prerequisites.
type Graph struct {
	mu      sync.RWMutex
	deps    map[string][]string
	modules map[string]string
	nodes   []string // insertion order
	logger  logger.Logger
}

// New creates an empty graph.
func New(log logger.Logger) *Graph {
	if log == nil {
		log = logger.NewNop()
	}
	return &Graph{
		deps:    make(map[string][]string),
		modules: make(map[string]string),
		logger:  log.Named("graph"),
	}
}

func (g *Graph) touch(id string) {
	if _, ok := g.deps[id]; !ok {
		g.deps[id] = nil
		g.nodes = append(g.nodes, id)
	}
}

// AddNode registers id with its module tag. Re-adding updates the tag.
func (g *Graph) AddNode(id, module string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.touch(id)
	g.modules[id] = module
}

// SetDependencies replaces the prerequisites of id. Duplicates and empty ids are
// dropped; declaration order is kept.
func (g *Graph) SetDependencies(id string, prerequisites ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.touch(id)

	seen := make(map[string]bool, len(prerequisites))
	deps := make([]string, 0, len(prerequisites))
	for _, p := range prerequisites {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		deps = append(deps, p)
	}
	g.deps[id] = deps
}

// Nodes returns every id known to the graph in insertion order.
func (g *Graph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.nodes...)
}

// Module returns the module tag of id.
func (g *Graph) Module(id string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.modules[id]
}

// GetDependencies returns the direct prerequisites of id.
func (g *Graph) GetDependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.deps[id]...)
}

// GetTransitiveDependencies returns every prerequisite reachable from id,
// excluding id itself. Order is unspecified; entries are unique.
func (g *Graph) GetTransitiveDependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	reached := g.reachLocked([]string{id})
	out := make([]string, 0, len(reached))
	for _, dep := range reached {
		if dep != id {
			out = append(out, dep)
		}
	}
	return out
}

// reachLocked walks prerequisites breadth first from seeds. Seeds only appear in
// the result when another seed or a cycle leads back to them.
func (g *Graph) reachLocked(seeds []string) []string {
	visited := make(map[string]bool)
	var out []string
	queue := append([]string(nil), seeds...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range g.deps[id] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	return out
}

// SelectSubset returns seeds plus all transitive prerequisites, topologically
// ordered so every prerequisite precedes its dependents.
func (g *Graph) SelectSubset(seeds []string) []string {
	g.mu.RLock()
	closed := append(dedupe(seeds), g.reachLocked(seeds)...)
	g.mu.RUnlock()
	return g.GetExecutionOrder(g.inNodeOrder(dedupe(closed)))
}

// SelectModule returns the objects tagged with module (case-insensitive),
// expanded by transitive closure. Cross-module prerequisites are included.
func (g *Graph) SelectModule(module string) []string {
	g.mu.RLock()
	var seeds []string
	for _, id := range g.nodes {
		if strings.EqualFold(g.modules[id], module) {
			seeds = append(seeds, id)
		}
	}
	g.mu.RUnlock()
	if len(seeds) == 0 {
		return nil
	}
	return g.SelectSubset(seeds)
}

// GetImpact returns every object whose transitive prerequisites contain id,
// computed by BFS over the reverse edges. Result follows insertion order.
func (g *Graph) GetImpact(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	reverse := make(map[string][]string, len(g.deps))
	for _, node := range g.nodes {
		for _, dep := range g.deps[node] {
			reverse[dep] = append(reverse[dep], node)
		}
	}

	visited := map[string]bool{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dependent := range reverse[cur] {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			queue = append(queue, dependent)
		}
	}
	delete(visited, id)

	out := make([]string, 0, len(visited))
	for _, node := range g.nodes {
		if visited[node] {
			out = append(out, node)
		}
	}
	return out
}

// GetExecutionOrder linearises ids by depth-first post-order restricted to the
// input set. Prerequisites outside ids are ignored; ties keep input order.
func (g *Graph) GetExecutionOrder(ids []string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids = dedupe(ids)
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(ids))
	order := make([]string, 0, len(ids))

	var visit func(id string)
	visit = func(id string) {
		if state[id] != unvisited {
			return // done, or on the current path (cycle): leave it to its first visit
		}
		state[id] = visiting
		for _, dep := range g.deps[id] {
			if in[dep] {
				visit(dep)
			}
		}
		state[id] = done
		order = append(order, id)
	}
	for _, id := range ids {
		visit(id)
	}
	return order
}

// inNodeOrder sorts ids by graph insertion order; unknown ids go last in input order.
func (g *Graph) inNodeOrder(ids []string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pos := make(map[string]int, len(g.nodes))
	for i, id := range g.nodes {
		pos[id] = i
	}
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := pos[out[i]]
		pj, jok := pos[out[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok:
			return true
		default:
			return false
		}
	})
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
