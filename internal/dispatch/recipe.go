// Package dispatch turns a step's units of work into node invocations and
// runs them under the step's per-node concurrency cap.
package dispatch

import (
	"github.com/sourceplane/mapflow/internal/cluster"
	"github.com/sourceplane/mapflow/internal/model"
)

// Unit is one unit of work of a step: position i of every input mapfile.
type Unit struct {
	Index int
	Node  string
	// Inputs holds one path per input mapfile, in input order.
	Inputs []string
	Output string
	Skip   bool
}

// Recipe prepares the invocation of a unit for one recipe type.
type Recipe interface {
	Type() model.RecipeType
	// Prepare builds the command for unit, writing any files it needs.
	Prepare(step *model.Step, unit Unit) (cluster.Command, error)
}

// tokens maps the step's input and output keys to the unit's paths.
func tokens(step *model.Step, unit Unit) map[string]string {
	t := make(map[string]string, len(step.Control.InputKeys)+1)
	for i, key := range step.Control.InputKeys {
		if i < len(unit.Inputs) {
			t[key] = unit.Inputs[i]
		}
	}
	if step.Control.OutputKey != "" {
		t[step.Control.OutputKey] = unit.Output
	}
	return t
}

func substitute(s string, t map[string]string) string {
	if v, ok := t[s]; ok {
		return v
	}
	return s
}
