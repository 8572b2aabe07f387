package planner

import (
	"github.com/sourceplane/mapflow/internal/model"
)

// StepGraph is the data-flow graph of a pipeline definition: an edge runs
// from a producing step to every step consuming its output mapfile. Steps
// only consume earlier outputs, so the graph is acyclic and declared order
// is a topological order.
type StepGraph struct {
	order      []string
	deps       map[string][]string
	dependents map[string][]string
}

// NewStepGraph derives the data-flow graph of def.
func NewStepGraph(def *model.PipelineDefinition) *StepGraph {
	g := &StepGraph{
		order:      def.Order(),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}

	for _, step := range def.Steps() {
		seen := make(map[string]bool)
		for _, in := range step.Control.Inputs {
			if !in.IsStepOutput() || seen[in.Step] {
				continue
			}
			seen[in.Step] = true
			g.deps[step.ID] = append(g.deps[step.ID], in.Step)
			g.dependents[in.Step] = append(g.dependents[in.Step], step.ID)
		}
	}

	return g
}

// Dependencies returns the steps whose outputs id consumes, in input order.
func (g *StepGraph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the steps consuming the output of id, in declared order.
func (g *StepGraph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// TransitiveDependents returns every step that directly or indirectly
// consumes the output of id, in declared order.
func (g *StepGraph) TransitiveDependents(id string) []string {
	reached := make(map[string]bool)

	var traverse func(string)
	traverse = func(name string) {
		for _, dep := range g.dependents[name] {
			if reached[dep] {
				continue
			}
			reached[dep] = true
			traverse(dep)
		}
	}
	traverse(id)

	out := make([]string, 0, len(reached))
	for _, name := range g.order {
		if reached[name] {
			out = append(out, name)
		}
	}
	return out
}

// Roots returns the steps that consume no step output.
func (g *StepGraph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.deps[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}
