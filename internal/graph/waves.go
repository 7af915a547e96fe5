package graph

import (
	"fmt"
	"strings"

	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

// Partition is the wave split of a set of objects.
type Partition struct {
	Waves [][]string
	// CircularFallback marks the last wave as the remainder of a cycle.
	CircularFallback bool
}

// Flatten returns every id across all waves in wave order.
func (p Partition) Flatten() []string {
	var out []string
	for _, w := range p.Waves {
		out = append(out, w...)
	}
	return out
}

// Partition splits ids into waves Kahn style: wave k holds every remaining
// object whose in-set prerequisites all sit in earlier waves. Objects keep input
// order inside a wave. If a round makes no progress the remainder becomes one
// final fallback wave and a warning is logged; the call never blocks or fails.
func (g *Graph) Partition(ids []string) Partition {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids = dedupe(ids)
	available := make(map[string]bool, len(ids))
	for _, id := range ids {
		available[id] = true
	}

	completed := make(map[string]bool, len(ids))
	var part Partition
	for len(completed) < len(ids) {
		var wave []string
		for _, id := range ids {
			if completed[id] {
				continue
			}
			ready := true
			for _, dep := range g.deps[id] {
				if available[dep] && !completed[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, id)
			}
		}

		if len(wave) == 0 {
			for _, id := range ids {
				if !completed[id] {
					wave = append(wave, id)
				}
			}
			g.logger.Warn("Circular dependency detected, scheduling remaining objects as a final wave",
				logger.Strings("objects", wave),
				logger.Int("wave", len(part.Waves)),
			)
			part.CircularFallback = true
		}

		for _, id := range wave {
			completed[id] = true
		}
		part.Waves = append(part.Waves, wave)
	}
	return part
}

// GetExecutionWaves returns the wave partition of ids.
func (g *Graph) GetExecutionWaves(ids []string) [][]string {
	return g.Partition(ids).Waves
}

// DetectCircularDependencies reports each cycle once as the path from its
// start node back to the start node, e.g. [P Q P].
func (g *Graph) DetectCircularDependencies() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycles [][]string
	seen := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				start := indexOf(stack, dep)
				cycle := append(append([]string(nil), stack[start:]...), dep)
				if key := cycleKey(cycle); !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range g.nodes {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

func indexOf(list []string, v string) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}

// cycleKey identifies a cycle independent of its starting node.
func cycleKey(cycle []string) string {
	nodes := cycle[:len(cycle)-1]
	min := 0
	for i := range nodes {
		if nodes[i] < nodes[min] {
			min = i
		}
	}
	rotated := append(append([]string(nil), nodes[min:]...), nodes[:min]...)
	return strings.Join(rotated, "->")
}

// IssueKind classifies a validation finding.
type IssueKind string

const (
	IssueMissingDependency IssueKind = "missing_dependency"
	IssueSelfDependency    IssueKind = "self_dependency"
	IssueMutualDependency  IssueKind = "mutual_dependency"
	IssueCycle             IssueKind = "cycle"
	IssueUnregistered      IssueKind = "unregistered_object"
)

// Issue is one validation finding.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Code     string    `json:"code,omitempty"`
	ObjectID string    `json:"objectId"`
	Message  string    `json:"message"`
}

// ValidationReport is the outcome of Validate.
type ValidationReport struct {
	Valid                bool       `json:"valid"`
	Issues               []Issue    `json:"issues"`
	CircularDependencies [][]string `json:"circularDependencies"`
}

// Validate checks the graph against the registered object set. Every
// prerequisite must resolve to a registered object; dangling references are
// reported, never dropped. Mutual pairs and cycles make the graph invalid.
func (g *Graph) Validate(registered []string) ValidationReport {
	known := make(map[string]bool, len(registered))
	for _, id := range registered {
		known[id] = true
	}

	report := ValidationReport{Valid: true, Issues: []Issue{}, CircularDependencies: [][]string{}}
	add := func(issue Issue) {
		report.Valid = false
		report.Issues = append(report.Issues, issue)
	}

	g.mu.RLock()
	for _, id := range g.nodes {
		if !known[id] {
			add(Issue{
				Kind:     IssueUnregistered,
				ObjectID: id,
				Message:  fmt.Sprintf("%s has dependency entries but is not registered", id),
			})
		}
		for _, dep := range g.deps[id] {
			switch {
			case dep == id:
				add(Issue{
					Kind:     IssueSelfDependency,
					Code:     string(errors.CodeGraphCycle),
					ObjectID: id,
					Message:  fmt.Sprintf("%s depends on itself", id),
				})
			case !known[dep]:
				add(Issue{
					Kind:     IssueMissingDependency,
					ObjectID: id,
					Message:  fmt.Sprintf("%s depends on %s, which is not registered", id, dep),
				})
			case id < dep && contains(g.deps[dep], id):
				add(Issue{
					Kind:     IssueMutualDependency,
					Code:     string(errors.CodeGraphCycle),
					ObjectID: id,
					Message:  fmt.Sprintf("%s and %s depend on each other", id, dep),
				})
			}
		}
	}
	g.mu.RUnlock()

	for _, cycle := range g.DetectCircularDependencies() {
		report.CircularDependencies = append(report.CircularDependencies, cycle)
		if len(cycle) == 2 {
			continue // self loop, already reported
		}
		add(Issue{
			Kind:     IssueCycle,
			Code:     string(errors.CodeGraphCycle),
			ObjectID: cycle[0],
			Message:  "circular dependency: " + strings.Join(cycle, " -> "),
		})
	}
	return report
}

// ValidateStrict runs Validate and turns any cycle into an ERR_GRAPH_CYCLE error.
func (g *Graph) ValidateStrict(registered []string) (ValidationReport, error) {
	report := g.Validate(registered)
	for _, issue := range report.Issues {
		if issue.Code == string(errors.CodeGraphCycle) {
			return report, errors.NewCoded(errors.CodeGraphCycle, "%s", issue.Message)
		}
	}
	return report, nil
}

func contains(list []string, v string) bool {
	return indexOf(list, v) >= 0
}
