package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

type edge struct {
	id     string
	module string
	deps   []string
}

func build(t *testing.T, log logger.Logger, edges ...edge) *Graph {
	t.Helper()
	g := New(log)
	for _, e := range edges {
		g.AddNode(e.id, e.module)
		g.SetDependencies(e.id, e.deps...)
	}
	return g
}

// assertWaveOrder checks that every in-set prerequisite lands in an earlier wave.
func assertWaveOrder(t *testing.T, g *Graph, waves [][]string) {
	t.Helper()
	waveOf := map[string]int{}
	for k, wave := range waves {
		for _, id := range wave {
			_, dup := waveOf[id]
			require.False(t, dup, "%s appears in more than one wave", id)
			waveOf[id] = k
		}
	}
	for id, k := range waveOf {
		for _, dep := range g.GetDependencies(id) {
			if j, ok := waveOf[dep]; ok {
				assert.Less(t, j, k, "%s must run before %s", dep, id)
			}
		}
	}
}

func TestLinearChain(t *testing.T) {
	g := build(t, nil,
		edge{id: "A"},
		edge{id: "B", deps: []string{"A"}},
		edge{id: "C", deps: []string{"B"}},
	)

	part := g.Partition([]string{"C", "B", "A"})
	assert.Equal(t, [][]string{{"A"}, {"B"}, {"C"}}, part.Waves)
	assert.False(t, part.CircularFallback)
	assert.Equal(t, []string{"A", "B", "C"}, g.GetExecutionOrder([]string{"C", "B", "A"}))
	assert.ElementsMatch(t, []string{"A", "B"}, g.GetTransitiveDependencies("C"))
}

func TestDiamond(t *testing.T) {
	g := build(t, nil,
		edge{id: "A"},
		edge{id: "B", deps: []string{"A"}},
		edge{id: "C", deps: []string{"A"}},
		edge{id: "D", deps: []string{"B", "C"}},
	)

	waves := g.GetExecutionWaves([]string{"A", "B", "C", "D"})
	assert.Equal(t, [][]string{{"A"}, {"B", "C"}, {"D"}}, waves)
	assertWaveOrder(t, g, waves)

	assert.ElementsMatch(t, []string{"A", "B", "C"}, g.GetTransitiveDependencies("D"))
	assert.Equal(t, []string{"B", "C", "D"}, g.GetImpact("A"))
	assert.Equal(t, []string{"D"}, g.GetImpact("B"))
	assert.Empty(t, g.GetImpact("D"))
}

func TestCycleFallback(t *testing.T) {
	log := logger.NewTestLogger()
	g := build(t, log,
		edge{id: "P", deps: []string{"Q"}},
		edge{id: "Q", deps: []string{"P"}},
	)

	part := g.Partition([]string{"P", "Q"})
	assert.Equal(t, [][]string{{"P", "Q"}}, part.Waves)
	assert.True(t, part.CircularFallback)

	warnings := log.EntriesAt("WARN")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "Circular dependency")
	assert.Equal(t, "graph", warnings[0].Logger)

	report := g.Validate([]string{"P", "Q"})
	assert.False(t, report.Valid)
	require.Len(t, report.CircularDependencies, 1)
	assert.Equal(t, []string{"P", "Q", "P"}, report.CircularDependencies[0])

	var kinds []IssueKind
	for _, issue := range report.Issues {
		kinds = append(kinds, issue.Kind)
	}
	assert.Contains(t, kinds, IssueMutualDependency)
	assert.Contains(t, kinds, IssueCycle)
}

func TestCycleFallbackKeepsAcyclicPrefix(t *testing.T) {
	g := build(t, nil,
		edge{id: "A"},
		edge{id: "P", deps: []string{"A", "Q"}},
		edge{id: "Q", deps: []string{"P"}},
	)

	part := g.Partition([]string{"A", "P", "Q"})
	assert.Equal(t, [][]string{{"A"}, {"P", "Q"}}, part.Waves)
	assert.True(t, part.CircularFallback)
	assert.ElementsMatch(t, []string{"A", "P", "Q"}, part.Flatten())
}

func TestDetectLongerCycleOnce(t *testing.T) {
	g := build(t, nil,
		edge{id: "X", deps: []string{"Y"}},
		edge{id: "Y", deps: []string{"Z"}},
		edge{id: "Z", deps: []string{"X"}},
	)

	cycles := g.DetectCircularDependencies()
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"X", "Y", "Z", "X"}, cycles[0])

	_, err := g.ValidateStrict(g.Nodes())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeGraphCycle))
}

func TestSelectSubset(t *testing.T) {
	edges := []edge{
		{id: "GL_ACCOUNT_MASTER", module: "FI"},
		{id: "GL_BALANCE", module: "FI", deps: []string{"GL_ACCOUNT_MASTER"}},
	}
	for _, id := range []string{"U1", "U2", "U3", "U4", "U5", "U6", "U7", "U8", "U9", "U10"} {
		edges = append(edges, edge{id: id, module: "OTHER"})
	}
	g := build(t, nil, edges...)

	subset := g.SelectSubset([]string{"GL_BALANCE"})
	assert.Equal(t, []string{"GL_ACCOUNT_MASTER", "GL_BALANCE"}, subset)
}

func TestSelectSubsetIsClosedAndOrdered(t *testing.T) {
	g := build(t, nil,
		edge{id: "E", deps: []string{"D"}},
		edge{id: "D", deps: []string{"B", "C"}},
		edge{id: "C", deps: []string{"A"}},
		edge{id: "B", deps: []string{"A"}},
		edge{id: "A"},
		edge{id: "F"},
	)

	seeds := []string{"E", "F"}
	subset := g.SelectSubset(seeds)
	assert.Subset(t, subset, seeds)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D", "E", "F"}, subset)

	pos := map[string]int{}
	for i, id := range subset {
		pos[id] = i
	}
	for _, id := range subset {
		for _, dep := range g.GetDependencies(id) {
			assert.Less(t, pos[dep], pos[id], "%s before %s", dep, id)
		}
	}
}

func TestSelectModuleCrossesModules(t *testing.T) {
	g := build(t, nil,
		edge{id: "COMPANY_CODE_CONFIG", module: "CONFIG"},
		edge{id: "GL_ACCOUNT_MASTER", module: "FI", deps: []string{"COMPANY_CODE_CONFIG"}},
		edge{id: "SALES_ORDER", module: "SD", deps: []string{"GL_ACCOUNT_MASTER"}},
		edge{id: "MATERIAL_MASTER", module: "MM"},
	)

	assert.Equal(t,
		[]string{"COMPANY_CODE_CONFIG", "GL_ACCOUNT_MASTER", "SALES_ORDER"},
		g.SelectModule("sd"),
	)
	assert.Nil(t, g.SelectModule("HR"))
}

func TestExecutionOrderIgnoresOutsidePrerequisites(t *testing.T) {
	g := build(t, nil,
		edge{id: "A"},
		edge{id: "B", deps: []string{"A"}},
		edge{id: "C", deps: []string{"A"}},
	)

	assert.Equal(t, []string{"C", "B"}, g.GetExecutionOrder([]string{"C", "B"}))
	assert.Equal(t, [][]string{{"C", "B"}}, g.GetExecutionWaves([]string{"C", "B"}))
}

func TestValidateMissingDependency(t *testing.T) {
	g := build(t, nil,
		edge{id: "A"},
		edge{id: "B", deps: []string{"A", "GHOST"}},
	)

	report := g.Validate([]string{"A", "B"})
	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueMissingDependency, report.Issues[0].Kind)
	assert.Equal(t, "B", report.Issues[0].ObjectID)
	assert.Empty(t, report.CircularDependencies)

	// The dependent is kept; the dangling prerequisite is only ignored for ordering.
	assert.Equal(t, [][]string{{"A"}, {"B"}}, g.GetExecutionWaves([]string{"A", "B"}))

	_, err := g.ValidateStrict([]string{"A", "B"})
	assert.NoError(t, err)
}

func TestValidateSelfDependency(t *testing.T) {
	g := build(t, nil, edge{id: "A", deps: []string{"A"}})

	report := g.Validate([]string{"A"})
	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueSelfDependency, report.Issues[0].Kind)
	assert.Equal(t, [][]string{{"A", "A"}}, report.CircularDependencies)
}

func TestValidateUnregistered(t *testing.T) {
	g := build(t, nil, edge{id: "A"}, edge{id: "B", deps: []string{"A"}})

	report := g.Validate([]string{"A"})
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueUnregistered, report.Issues[0].Kind)
}

func TestValidClean(t *testing.T) {
	g := build(t, nil, edge{id: "A"}, edge{id: "B", deps: []string{"A"}})

	report, err := g.ValidateStrict([]string{"A", "B"})
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Issues)
	assert.Empty(t, report.CircularDependencies)
}

func TestBoundaries(t *testing.T) {
	g := build(t, nil, edge{id: "SOLO"})

	assert.Empty(t, g.GetExecutionWaves(nil))
	assert.Empty(t, g.GetExecutionOrder(nil))
	assert.Equal(t, [][]string{{"SOLO"}}, g.GetExecutionWaves([]string{"SOLO"}))
	assert.Empty(t, g.GetTransitiveDependencies("SOLO"))
	assert.Empty(t, g.GetTransitiveDependencies("UNKNOWN"))
}

func TestSetDependenciesDedupes(t *testing.T) {
	g := New(nil)
	g.SetDependencies("B", "A", "A", "", "C")
	assert.Equal(t, []string{"A", "C"}, g.GetDependencies("B"))

	g.SetDependencies("B", "C")
	assert.Equal(t, []string{"C"}, g.GetDependencies("B"), "replaces, not appends")
	assert.Equal(t, []string{"B"}, g.Nodes())
}
