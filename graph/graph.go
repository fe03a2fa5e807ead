package graph

import (
	"fmt"
	"strings"
)

// Builder accumulates stages and dependency edges before validation.
// Dependencies may forward-reference stages that are added later; Build
// reports any name that never resolves.
type Builder struct {
	order []string
	deps  map[string][]string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{deps: make(map[string][]string)}
}

// Add declares a stage and the stages it depends on. Stage names are
// trimmed; empty names are rejected.
func (b *Builder) Add(name string, dependsOn ...string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("add stage: name must not be empty")
	}
	if _, exists := b.deps[name]; exists {
		return fmt.Errorf("add stage %q: %w", name, ErrDuplicateStage)
	}

	cleaned := make([]string, 0, len(dependsOn))
	seen := make(map[string]struct{}, len(dependsOn))
	for _, dep := range dependsOn {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			return fmt.Errorf("add stage %q: dependency name must not be empty", name)
		}
		if dep == name {
			return &CycleError{Stages: []string{name}}
		}
		if _, dup := seen[dep]; dup {
			continue
		}
		seen[dep] = struct{}{}
		cleaned = append(cleaned, dep)
	}

	b.order = append(b.order, name)
	b.deps[name] = cleaned
	return nil
}

// Build validates the accumulated stages and returns an immutable Graph.
// It fails when a dependency references an unknown stage or when the edges
// form a cycle. Topological ties are broken by declaration order so the
// stage sequence is reproducible across runs.
func (b *Builder) Build() (*Graph, error) {
	if len(b.order) == 0 {
		return nil, fmt.Errorf("build graph: no stages declared")
	}

	for _, name := range b.order {
		for _, dep := range b.deps[name] {
			if _, ok := b.deps[dep]; !ok {
				return nil, fmt.Errorf("stage %q depends on %q: %w", name, dep, ErrUnknownDependency)
			}
		}
	}

	topo, err := b.sort()
	if err != nil {
		return nil, err
	}

	deps := make(map[string][]string, len(b.deps))
	for name, list := range b.deps {
		cp := make([]string, len(list))
		copy(cp, list)
		deps[name] = cp
	}
	return &Graph{topo: topo, deps: deps}, nil
}

// sort runs Kahn's algorithm, always draining ready stages in declaration
// order. Any stage left with unresolved in-degree sits on a cycle (or behind
// one) and is reported in the error.
func (b *Builder) sort() ([]string, error) {
	indegree := make(map[string]int, len(b.order))
	dependents := make(map[string][]string, len(b.order))
	for _, name := range b.order {
		indegree[name] = len(b.deps[name])
		for _, dep := range b.deps[name] {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	// Each emission restarts the scan of declaration order, so a stage
	// freed mid-sort still goes before any later-declared ready stage.
	topo := make([]string, 0, len(b.order))
	for remaining := len(b.order); remaining > 0; {
		progressed := false
		for _, name := range b.order {
			if indegree[name] != 0 {
				continue
			}
			topo = append(topo, name)
			indegree[name] = -1
			remaining--
			progressed = true
			for _, dependent := range dependents[name] {
				indegree[dependent]--
			}
			break
		}
		if !progressed {
			var stuck []string
			for _, name := range b.order {
				if indegree[name] > 0 {
					stuck = append(stuck, name)
				}
			}
			return nil, &CycleError{Stages: stuck}
		}
	}
	return topo, nil
}

// Graph is an immutable, validated stage DAG.
type Graph struct {
	topo []string
	deps map[string][]string
}

// Stages returns the stage names in topological order.
func (g *Graph) Stages() []string {
	cp := make([]string, len(g.topo))
	copy(cp, g.topo)
	return cp
}

// Dependencies returns the declared dependencies of a stage.
func (g *Graph) Dependencies(name string) []string {
	list, ok := g.deps[name]
	if !ok {
		return nil
	}
	cp := make([]string, len(list))
	copy(cp, list)
	return cp
}

// Contains reports whether the graph declares the named stage.
func (g *Graph) Contains(name string) bool {
	_, ok := g.deps[name]
	return ok
}

// Len returns the number of stages in the graph.
func (g *Graph) Len() int {
	return len(g.topo)
}
