// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T, edges ...[2]string) *DependencyGraph {
	t.Helper()
	g := NewDependencyGraph()
	for _, e := range edges {
		g.AddNode(e[0])
		g.AddNode(e[1])
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

func TestGraphCycleDetection(t *testing.T) {
	t.Run("acyclic", func(t *testing.T) {
		g := buildGraph(t, [2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"a", "c"})
		assert.Nil(t, g.DetectCycle())
	})

	t.Run("self loop via chain", func(t *testing.T) {
		g := buildGraph(t, [2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"})
		cycle := g.DetectCycle()
		require.NotNil(t, cycle)
		assert.Len(t, cycle, 3)
	})
}

func TestGraphUnknownEdgeRejected(t *testing.T) {
	g := NewDependencyGraph()
	g.AddNode("a")
	err := g.AddEdge("a", "ghost")
	assert.ErrorIs(t, err, ErrUnknownDependency)
}

func TestGraphLayers(t *testing.T) {
	g := buildGraph(t,
		[2]string{"a", "c"},
		[2]string{"b", "c"},
		[2]string{"c", "d"},
	)
	layers, err := g.Layers()
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, []string{"a", "b"}, layers[0])
	assert.Equal(t, []string{"c"}, layers[1])
	assert.Equal(t, []string{"d"}, layers[2])
}

func TestGraphLayersCycle(t *testing.T) {
	g := buildGraph(t, [2]string{"a", "b"}, [2]string{"b", "a"})
	_, err := g.Layers()
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestGraphRemoveNode(t *testing.T) {
	g := buildGraph(t, [2]string{"a", "b"}, [2]string{"b", "c"})
	g.RemoveNode("b")

	assert.False(t, g.HasNode("b"))
	assert.Empty(t, g.Dependents("a"))
	assert.Empty(t, g.Dependencies("c"))
	assert.Empty(t, g.Edges())
}

func TestGraphEdgeDeduplication(t *testing.T) {
	g := buildGraph(t, [2]string{"a", "b"})
	require.NoError(t, g.AddEdge("a", "b"))
	assert.Len(t, g.Edges(), 1)
}
