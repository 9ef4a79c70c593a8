// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"fmt"
	"sort"
)

// DependencyGraph is the task dependency DAG. Edges point from a dependency
// to the task that needs it. Not safe for concurrent use; the queue guards it.
type DependencyGraph struct {
	nodes    map[string]bool
	forward  map[string][]string // dep -> dependents
	backward map[string][]string // task -> its dependencies
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]bool),
		forward:  make(map[string][]string),
		backward: make(map[string][]string),
	}
}

// AddNode registers a task ID. Idempotent.
func (g *DependencyGraph) AddNode(id string) {
	g.nodes[id] = true
}

// HasNode reports whether the ID is in the graph.
func (g *DependencyGraph) HasNode(id string) bool {
	return g.nodes[id]
}

// AddEdge records that task depends on dep. Both ends must exist.
func (g *DependencyGraph) AddEdge(dep, task string) error {
	if !g.nodes[dep] {
		return fmt.Errorf("%w: %s", ErrUnknownDependency, dep)
	}
	if !g.nodes[task] {
		return fmt.Errorf("%w: %s", ErrUnknownDependency, task)
	}
	for _, existing := range g.forward[dep] {
		if existing == task {
			return nil
		}
	}
	g.forward[dep] = append(g.forward[dep], task)
	g.backward[task] = append(g.backward[task], dep)
	return nil
}

// RemoveNode drops a task and every edge touching it.
func (g *DependencyGraph) RemoveNode(id string) {
	delete(g.nodes, id)
	delete(g.forward, id)
	delete(g.backward, id)
	for n, deps := range g.forward {
		g.forward[n] = removeString(deps, id)
	}
	for n, deps := range g.backward {
		g.backward[n] = removeString(deps, id)
	}
}

// Dependencies returns the direct dependencies of task.
func (g *DependencyGraph) Dependencies(task string) []string {
	return append([]string(nil), g.backward[task]...)
}

// Dependents returns the tasks directly depending on dep.
func (g *DependencyGraph) Dependents(dep string) []string {
	return append([]string(nil), g.forward[dep]...)
}

// Edges returns every edge, sorted, for visualization and checkpoints.
func (g *DependencyGraph) Edges() []GraphEdge {
	var edges []GraphEdge
	for dep, dependents := range g.forward {
		for _, task := range dependents {
			edges = append(edges, GraphEdge{From: dep, To: task})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// DetectCycle returns one cycle as a node path, or nil if the graph is
// acyclic. DFS with a recursion stack.
func (g *DependencyGraph) DetectCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	parent := make(map[string]string)

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		next := append([]string(nil), g.forward[id]...)
		sort.Strings(next)
		for _, n := range next {
			switch color[n] {
			case white:
				parent[n] = id
				if visit(n) {
					return true
				}
			case gray:
				// Found a back edge; unwind the path n .. id.
				cycle = []string{n}
				for cur := id; cur != n; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// Layers partitions the graph into waves: layer 0 is every task with no
// dependencies, layer N every task whose dependencies all sit in earlier
// layers. Returns ErrCycleDetected if layering cannot complete.
func (g *DependencyGraph) Layers() ([][]string, error) {
	remaining := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		remaining[id] = len(g.backward[id])
	}

	var layers [][]string
	placed := 0
	for placed < len(g.nodes) {
		var layer []string
		for id, deg := range remaining {
			if deg == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return nil, ErrCycleDetected
		}
		sort.Strings(layer)
		for _, id := range layer {
			delete(remaining, id)
			for _, dependent := range g.forward[id] {
				if _, ok := remaining[dependent]; ok {
					remaining[dependent]--
				}
			}
		}
		layers = append(layers, layer)
		placed += len(layer)
	}
	return layers, nil
}

func removeString(slice []string, target string) []string {
	out := slice[:0]
	for _, s := range slice {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
