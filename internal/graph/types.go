// Package graph provides the table dependency graph and the topological
// orders used for loading and rolling back the core dataset.
package graph

// Edge is a parent -> child dependency between two tables: the child carries
// a foreign key into the parent.
type Edge struct {
	From string
	To   string
}

// Graph is a directed acyclic dependency graph over table names. Node and
// edge iteration order is insertion order, so orders derived from the graph
// are deterministic.
type Graph struct {
	order    []string
	nodes    map[string]bool
	children map[string][]string
	parents  map[string][]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]bool),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// AddNode adds a table to the graph. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodes[name] {
		return
	}
	g.nodes[name] = true
	g.order = append(g.order, name)
}

// AddEdge records a parent -> child dependency. Both endpoints are added as
// nodes if missing. Duplicate edges (a child with two references into the
// same parent) are collapsed.
func (g *Graph) AddEdge(parent, child string) {
	g.AddNode(parent)
	g.AddNode(child)
	for _, c := range g.children[parent] {
		if c == child {
			return
		}
	}
	g.children[parent] = append(g.children[parent], child)
	g.parents[child] = append(g.parents[child], parent)
}

// HasNode reports whether the graph contains the table.
func (g *Graph) HasNode(name string) bool {
	return g.nodes[name]
}

// Children returns the direct children of a table.
func (g *Graph) Children(parent string) []string {
	return g.children[parent]
}

// Parents returns the direct parents of a table.
func (g *Graph) Parents(child string) []string {
	return g.parents[child]
}

// NodeCount returns the number of tables in the graph.
func (g *Graph) NodeCount() int {
	return len(g.order)
}

// Nodes returns all table names in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Edges returns all edges in insertion order of their parent nodes.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, parent := range g.order {
		for _, child := range g.children[parent] {
			edges = append(edges, Edge{From: parent, To: child})
		}
	}
	return edges
}
