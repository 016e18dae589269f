// Package dag provides dependency-graph validation for saga step
// definitions: reference checking, cycle detection, and topological
// layering.
package dag

import "sort"

// Node is one vertex in a dependency graph.
type Node struct {
	ID        string
	DependsOn []string
}

// Graph is a directed graph of step dependencies. Edges point from a
// dependency to its dependents.
type Graph struct {
	nodes map[string][]string // id -> dependencies
	edges map[string][]string // id -> dependents
}

// Build constructs a graph from nodes, rejecting duplicate ids,
// self-dependencies and references to unknown nodes.
func Build(nodes []Node) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string][]string, len(nodes)),
		edges: make(map[string][]string, len(nodes)),
	}

	for _, node := range nodes {
		if node.ID == "" {
			return nil, &EmptyNodeIDError{}
		}
		if _, exists := g.nodes[node.ID]; exists {
			return nil, &DuplicateNodeError{ID: node.ID}
		}
		g.nodes[node.ID] = append([]string(nil), node.DependsOn...)
	}

	for id, deps := range g.nodes {
		seen := make(map[string]struct{}, len(deps))
		for _, dep := range deps {
			if dep == id {
				return nil, &SelfDependencyError{ID: id}
			}
			if _, ok := g.nodes[dep]; !ok {
				return nil, &UnknownDependencyError{ID: id, DependsOn: dep}
			}
			if _, dup := seen[dep]; dup {
				return nil, &DuplicateDependencyError{ID: id, DependsOn: dep}
			}
			seen[dep] = struct{}{}
			g.edges[dep] = append(g.edges[dep], id)
		}
	}

	return g, nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// DetectCycle uses DFS with three-color marking to detect cycles.
// Returns (nil, false) if no cycle exists. Time complexity: O(V+E).
func (g *Graph) DetectCycle() (*CyclicDependencyError, bool) {
	if len(g.nodes) == 0 {
		return nil, false
	}

	// white (0): not visited; gray (1): in current DFS path; black (2): done
	color := make(map[string]int, len(g.nodes))

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == 0 {
			if cycle := g.dfsCycle(id, color, []string{}); cycle != nil {
				return &CyclicDependencyError{Path: cycle}, true
			}
		}
	}

	return nil, false
}

func (g *Graph) dfsCycle(node string, color map[string]int, path []string) []string {
	color[node] = 1
	path = append(path, node)

	for _, neighbor := range g.edges[node] {
		switch color[neighbor] {
		case 0:
			if cycle := g.dfsCycle(neighbor, color, path); cycle != nil {
				return cycle
			}
		case 1:
			// back edge closes a cycle
			return constructCyclePath(path, neighbor)
		}
	}

	color[node] = 2
	return nil
}

func constructCyclePath(path []string, cycleStart string) []string {
	startIdx := -1
	for i, node := range path {
		if node == cycleStart {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return []string{cycleStart, cycleStart}
	}

	cycle := make([]string, len(path)-startIdx+1)
	copy(cycle, path[startIdx:])
	cycle[len(cycle)-1] = cycleStart
	return cycle
}

// HasCycle reports whether the graph contains a cycle.
func (g *Graph) HasCycle() bool {
	_, hasCycle := g.DetectCycle()
	return hasCycle
}

// Layers returns the nodes grouped into topological layers: every node
// in layer N depends only on nodes in layers < N. Returns a
// CyclicDependencyError when the graph is not a DAG.
func (g *Graph) Layers() ([][]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for id, deps := range g.nodes {
		indegree[id] = len(deps)
	}

	current := make([]string, 0)
	for id, deg := range indegree {
		if deg == 0 {
			current = append(current, id)
		}
	}
	sort.Strings(current)

	visited := 0
	layers := make([][]string, 0)
	for len(current) > 0 {
		layer := make([]string, len(current))
		copy(layer, current)
		layers = append(layers, layer)

		nextSet := make(map[string]struct{})
		for _, id := range current {
			visited++
			for _, dependent := range g.edges[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					nextSet[dependent] = struct{}{}
				}
			}
		}

		next := make([]string, 0, len(nextSet))
		for id := range nextSet {
			next = append(next, id)
		}
		sort.Strings(next)
		current = next
	}

	if visited != len(g.nodes) {
		if cycleErr, ok := g.DetectCycle(); ok {
			return nil, cycleErr
		}
		return nil, &CyclicDependencyError{}
	}

	return layers, nil
}
