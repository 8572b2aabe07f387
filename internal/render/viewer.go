package render

import (
	"fmt"
	"strings"

	"github.com/sourceplane/mapflow/internal/model"
	"github.com/sourceplane/mapflow/internal/planner"
)

const rule = "═══════════════════════════════════════════════════════════\n"

// StepViewer provides human-readable views of a pipeline's data flow.
type StepViewer struct {
	def   *model.PipelineDefinition
	graph *planner.StepGraph
}

// NewStepViewer creates a new step viewer
func NewStepViewer(def *model.PipelineDefinition) *StepViewer {
	return &StepViewer{def: def, graph: planner.NewStepGraph(def)}
}

// ViewDAG returns a tree of the steps in execution order with the mapfiles
// each one consumes and produces.
func (sv *StepViewer) ViewDAG() string {
	steps := sv.def.Steps()
	if len(steps) == 0 {
		return "No steps in pipeline"
	}

	var sb strings.Builder
	for i, step := range steps {
		last := i == len(steps)-1
		prefix, connector := "├─ ", "│  "
		if last {
			prefix, connector = "└─ ", "   "
		}

		line := fmt.Sprintf("%s%s [%s]", prefix, step.ID, step.Recipe)
		if step.Control.MaxPerNode > 0 {
			line += fmt.Sprintf(" (max %d/node)", step.Control.MaxPerNode)
		}
		sb.WriteString(line + "\n")

		for _, in := range step.Control.Inputs {
			if in.IsStepOutput() {
				fmt.Fprintf(&sb, "%s├─ in: %s (from %s)\n", connector, in.Name, in.Step)
			} else {
				fmt.Fprintf(&sb, "%s├─ in: %s (external)\n", connector, in.Name)
			}
		}
		if step.Control.Executable != "" {
			fmt.Fprintf(&sb, "%s├─ run: %s\n", connector, truncate(step.Control.Executable, 60))
		}
		fmt.Fprintf(&sb, "%s└─ out: %s\n", connector, step.Output())
	}

	sb.WriteString("\n")
	sb.WriteString(rule)
	fmt.Fprintf(&sb, "Summary: %d steps, %d external inputs\n", len(steps), len(sv.def.ExternalInputs()))
	return sb.String()
}

// ViewDependencies lists, per step, the steps it waits for and the steps
// that consume its output.
func (sv *StepViewer) ViewDependencies() string {
	steps := sv.def.Steps()
	if len(steps) == 0 {
		return "No steps in pipeline"
	}

	var sb strings.Builder
	sb.WriteString("Step Dependencies\n")
	sb.WriteString(rule + "\n")

	for i, step := range steps {
		prefix := "├─ "
		if i == len(steps)-1 {
			prefix = "└─ "
		}
		fmt.Fprintf(&sb, "%s%s [%s]\n", prefix, step.ID, step.Recipe)

		deps := sv.graph.Dependencies(step.ID)
		dependents := sv.graph.Dependents(step.ID)
		if len(deps) == 0 && len(dependents) == 0 {
			sb.WriteString("   (no dependencies)\n\n")
			continue
		}

		lines := make([]string, 0, len(deps)+len(dependents))
		for _, dep := range deps {
			lines = append(lines, "(depends on) "+dep)
		}
		for _, dep := range dependents {
			lines = append(lines, "(feeds) "+dep)
		}
		for j, l := range lines {
			linePrefix := "  ├─ "
			if j == len(lines)-1 {
				linePrefix = "  └─ "
			}
			sb.WriteString(linePrefix + l + "\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// ViewStep shows everything known about one step.
func (sv *StepViewer) ViewStep(id string) string {
	step, ok := sv.def.Step(id)
	if !ok {
		return fmt.Sprintf("No step found: %s", id)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]\n", step.ID, step.Recipe)
	sb.WriteString(rule + "\n")

	if step.Control.Executable != "" {
		fmt.Fprintf(&sb, "Executable: %s\n", step.Control.Executable)
	}
	if len(step.Control.Arguments) > 0 {
		fmt.Fprintf(&sb, "Arguments: %s\n", strings.Join(step.Control.Arguments, " "))
	}
	sb.WriteString("Inputs:\n")
	for i, in := range step.Control.Inputs {
		key := ""
		if i < len(step.Control.InputKeys) {
			key = " as " + step.Control.InputKeys[i]
		}
		fmt.Fprintf(&sb, "  %s%s\n", in.Name, key)
	}
	fmt.Fprintf(&sb, "Output: %s\n", step.Output())
	if step.Control.MapFileOut != "" {
		fmt.Fprintf(&sb, "Output file: %s\n", step.Control.MapFileOut)
	}
	if step.Control.MaxPerNode > 0 {
		fmt.Fprintf(&sb, "Max per node: %d\n", step.Control.MaxPerNode)
	}

	fields := step.ParsetArgs.Flatten()
	if len(fields) > 0 {
		sb.WriteString("Parset arguments:\n")
		for _, f := range fields {
			fmt.Fprintf(&sb, "  %s = %s\n", f.Path, f.Value.Literal())
		}
	}

	if downstream := sv.graph.TransitiveDependents(step.ID); len(downstream) > 0 {
		fmt.Fprintf(&sb, "Downstream: %s\n", strings.Join(downstream, ", "))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
