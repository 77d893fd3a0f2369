package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upperNode(name string) *FuncNode[string, string] {
	return NewNode(name, func(_ context.Context, _ *Execution, in string) (string, error) {
		return in, nil
	})
}

func TestStrategyPathIndex(t *testing.T) {
	inner := NewSubgraph("inner")
	require.NoError(t, inner.AddNode(upperNode("work")))
	require.NoError(t, inner.Chain("work"))

	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(upperNode("prepare")))
	require.NoError(t, root.AddNode(inner))
	require.NoError(t, root.Chain("prepare", "inner"))

	strat, err := NewStrategy("main", root)
	require.NoError(t, err)

	// Every constructed path resolves to exactly the node that produced it.
	for _, path := range strat.Metadata().Paths() {
		n, err := strat.Metadata().Lookup(path)
		require.NoError(t, err)
		assert.Equal(t, path, n.Path().String())
	}

	work, err := strat.Metadata().Lookup("main/inner/work")
	require.NoError(t, err)
	assert.Equal(t, "work", work.Name())

	prepare, err := strat.Metadata().Lookup("main/prepare")
	require.NoError(t, err)
	assert.Equal(t, "prepare", prepare.Name())
}

func TestStrategyLookupUnknownPath(t *testing.T) {
	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(upperNode("a")))
	require.NoError(t, root.Chain("a"))

	strat, err := NewStrategy("main", root)
	require.NoError(t, err)

	_, err = strat.Metadata().Lookup("main/ghost")
	var unknown *UnknownPathError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "main/ghost", unknown.Path)
}

func TestStrategyRejectsDanglingNodes(t *testing.T) {
	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(upperNode("a")))
	// "a" has no outgoing edge and start is not wired either.

	_, err := NewStrategy("main", root)
	assert.Error(t, err)
}

func TestSubgraphRejectsReservedAndDuplicateNames(t *testing.T) {
	g := NewSubgraph("g")
	assert.Error(t, g.AddNode(upperNode(StartName)))
	assert.Error(t, g.AddNode(upperNode(FinishName)))
	assert.Error(t, g.AddNode(upperNode("bad/name")))

	require.NoError(t, g.AddNode(upperNode("a")))
	assert.Error(t, g.AddNode(upperNode("a")))
}

func TestSubgraphEdgeValidation(t *testing.T) {
	g := NewSubgraph("g")
	require.NoError(t, g.AddNode(upperNode("a")))

	assert.Error(t, g.AddEdge("ghost", Candidate{To: "a", Resolve: Forward()}))
	assert.Error(t, g.AddEdge("a", Candidate{To: "ghost", Resolve: Forward()}))
	assert.Error(t, g.AddEdge("a", Candidate{To: "a"}), "candidate without resolver")
	assert.Error(t, g.AddEdge(FinishName, Candidate{To: "a", Resolve: Forward()}))
}

func TestStrategyNameValidation(t *testing.T) {
	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(upperNode("a")))
	require.NoError(t, root.Chain("a"))

	_, err := NewStrategy("bad/name", root)
	assert.Error(t, err)

	_, err = NewStrategy("main", nil)
	assert.Error(t, err)
}
