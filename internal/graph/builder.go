package graph

import "github.com/liftshift/liftshift/internal/schema"

// FromSchema builds the dependency graph for the core schema. Each declared
// reference adds an edge from the referenced table to the referencing one.
func FromSchema() *Graph {
	g := New()
	for _, table := range schema.Tables {
		g.AddNode(table.Name)
		for _, ref := range table.References {
			g.AddEdge(ref.Target, table.Name)
		}
	}
	return g
}

// CoreLoadOrder returns the canonical load order for the core schema.
// The schema is static and acyclic, so this cannot fail.
func CoreLoadOrder() []string {
	order, err := FromSchema().LoadOrder()
	if err != nil {
		panic(err)
	}
	return order
}

// CoreRollbackOrder returns the canonical rollback order for the core schema.
func CoreRollbackOrder() []string {
	order, err := FromSchema().RollbackOrder()
	if err != nil {
		panic(err)
	}
	return order
}
