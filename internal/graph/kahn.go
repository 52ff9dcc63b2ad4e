package graph

import (
	"container/list"
	"fmt"
	"strings"
)

// CycleError reports that the dependency graph contains a cycle, naming the
// tables that could not be ordered.
type CycleError struct {
	Unordered []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected in dependency graph: tables %s could not be ordered",
		strings.Join(e.Unordered, ", "))
}

// inDegrees computes the number of incoming edges per node.
func (g *Graph) inDegrees() map[string]int {
	in := make(map[string]int, len(g.order))
	for _, name := range g.order {
		in[name] = 0
	}
	for _, children := range g.children {
		for _, child := range children {
			in[child]++
		}
	}
	return in
}

// TopologicalSort orders tables parent-first using Kahn's algorithm. The
// queue is seeded and drained in node insertion order, so the result is
// stable across runs. Returns a CycleError if not every node can be ordered.
func (g *Graph) TopologicalSort() ([]string, error) {
	in := g.inDegrees()

	queue := list.New()
	for _, name := range g.order {
		if in[name] == 0 {
			queue.PushBack(name)
		}
	}

	result := make([]string, 0, len(g.order))
	for queue.Len() > 0 {
		front := queue.Front()
		queue.Remove(front)
		node := front.Value.(string)
		result = append(result, node)

		for _, child := range g.children[node] {
			in[child]--
			if in[child] == 0 {
				queue.PushBack(child)
			}
		}
	}

	if len(result) != len(g.order) {
		ordered := make(map[string]bool, len(result))
		for _, name := range result {
			ordered[name] = true
		}
		var unordered []string
		for _, name := range g.order {
			if !ordered[name] {
				unordered = append(unordered, name)
			}
		}
		return nil, &CycleError{Unordered: unordered}
	}

	return result, nil
}

// LoadOrder returns the order in which tables are written during migration:
// parents before children, so every foreign key target exists first.
func (g *Graph) LoadOrder() ([]string, error) {
	return g.TopologicalSort()
}

// RollbackOrder returns the order in which tables are deleted during
// rollback: children before parents, the reverse of LoadOrder.
func (g *Graph) RollbackOrder() ([]string, error) {
	load, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	rollback := make([]string, len(load))
	for i, table := range load {
		rollback[len(load)-1-i] = table
	}
	return rollback, nil
}

// Validate fails fast at startup if the graph cannot be ordered.
func (g *Graph) Validate() error {
	_, err := g.TopologicalSort()
	return err
}
