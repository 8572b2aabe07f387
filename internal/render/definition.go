package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sourceplane/mapflow/internal/fsutil"
	"github.com/sourceplane/mapflow/internal/model"
	"github.com/sourceplane/mapflow/internal/parset"
)

// StepView is the exported form of a step.
type StepView struct {
	ID         string         `json:"id" yaml:"id"`
	Kind       string         `json:"kind" yaml:"kind"`
	Recipe     string         `json:"recipe" yaml:"recipe"`
	Executable string         `json:"executable,omitempty" yaml:"executable,omitempty"`
	Arguments  []string       `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Inputs     []string       `json:"inputs" yaml:"inputs"`
	InputKeys  []string       `json:"inputKeys,omitempty" yaml:"inputKeys,omitempty"`
	OutputKey  string         `json:"outputKey,omitempty" yaml:"outputKey,omitempty"`
	Output     string         `json:"output" yaml:"output"`
	MapFileOut string         `json:"mapfileOut,omitempty" yaml:"mapfileOut,omitempty"`
	MaxPerNode int            `json:"maxPerNode,omitempty" yaml:"maxPerNode,omitempty"`
	ParsetArgs map[string]any `json:"parsetArgs,omitempty" yaml:"parsetArgs,omitempty"`
}

// DefinitionView is the exported form of a pipeline definition.
type DefinitionView struct {
	Steps          []StepView `json:"steps" yaml:"steps"`
	ExternalInputs []string   `json:"externalInputs,omitempty" yaml:"externalInputs,omitempty"`
}

// DefinitionWriter exports pipeline definitions.
type DefinitionWriter struct{}

func NewDefinitionWriter() *DefinitionWriter {
	return &DefinitionWriter{}
}

// View converts def into its exported form.
func (w *DefinitionWriter) View(def *model.PipelineDefinition) DefinitionView {
	view := DefinitionView{Steps: make([]StepView, 0, def.Len())}
	for _, step := range def.Steps() {
		sv := StepView{
			ID:         step.ID,
			Kind:       string(step.Kind),
			Recipe:     step.Recipe.String(),
			Executable: step.Control.Executable,
			Arguments:  step.Control.Arguments,
			Inputs:     make([]string, len(step.Control.Inputs)),
			InputKeys:  step.Control.InputKeys,
			OutputKey:  step.Control.OutputKey,
			Output:     step.Output().Name,
			MapFileOut: step.Control.MapFileOut,
			MaxPerNode: step.Control.MaxPerNode,
		}
		for i, in := range step.Control.Inputs {
			sv.Inputs[i] = in.Name
		}
		if step.ParsetArgs.Len() > 0 {
			sv.ParsetArgs = step.ParsetArgs.Interface()
		}
		view.Steps = append(view.Steps, sv)
	}
	for _, ref := range def.ExternalInputs() {
		view.ExternalInputs = append(view.ExternalInputs, ref.Name)
	}
	return view
}

// RenderJSON renders def as JSON
func (w *DefinitionWriter) RenderJSON(def *model.PipelineDefinition) ([]byte, error) {
	return json.MarshalIndent(w.View(def), "", "  ")
}

// RenderYAML renders def as YAML
func (w *DefinitionWriter) RenderYAML(def *model.PipelineDefinition) ([]byte, error) {
	return yaml.Marshal(w.View(def))
}

// RenderParset renders def back into flat parset form, including the step
// list.
func (w *DefinitionWriter) RenderParset(def *model.PipelineDefinition) []byte {
	var sb strings.Builder
	sb.WriteString("pipeline.steps = [")
	sb.WriteString(strings.Join(def.Order(), ", "))
	sb.WriteString("]\n")
	for _, step := range def.Steps() {
		sb.WriteByte('\n')
		sb.WriteString(StepParset(step))
	}
	return []byte(sb.String())
}

// StepParset renders the parset block declaring step.
func StepParset(step *model.Step) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s.control.kind = %s\n", step.ID, step.Kind)
	fmt.Fprintf(&sb, "%s.control.type = %s\n", step.ID, step.Recipe)
	if step.Control.Raw != nil {
		sb.WriteString(parset.EncodePrefixed(step.ID+".control.opts", step.Control.Raw))
	}
	sb.WriteString(parset.EncodePrefixed(step.ID+".parsetarg", step.ParsetArgs))
	return sb.String()
}

// WriteDefinition writes def to path. The format follows the extension:
// .json, .yaml or .yml; anything else is written as a parset.
func (w *DefinitionWriter) WriteDefinition(def *model.PipelineDefinition, path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = w.RenderJSON(def)
	case ".yaml", ".yml":
		data, err = w.RenderYAML(def)
	default:
		data = w.RenderParset(def)
	}
	if err != nil {
		return fmt.Errorf("failed to render definition: %w", err)
	}

	return writeFile(path, data)
}

// WriteText persists rendered template text verbatim.
func WriteText(path, text string) error {
	return writeFile(path, []byte(text))
}

func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// DebugDump outputs debug information about def
func (w *DefinitionWriter) DebugDump(def *model.PipelineDefinition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Steps: %d\n", def.Len())
	for _, ref := range def.ExternalInputs() {
		fmt.Fprintf(&sb, "External input: %s\n", ref.Name)
	}
	sb.WriteString("\n")

	for _, step := range def.Steps() {
		fmt.Fprintf(&sb, "Step: %s\n", step.ID)
		fmt.Fprintf(&sb, "  Recipe: %s\n", step.Recipe)
		if step.Control.Executable != "" {
			fmt.Fprintf(&sb, "  Executable: %s\n", step.Control.Executable)
		}
		inputs := make([]string, len(step.Control.Inputs))
		for i, in := range step.Control.Inputs {
			inputs[i] = in.Name
		}
		fmt.Fprintf(&sb, "  Inputs: %v\n", inputs)
		fmt.Fprintf(&sb, "  Output: %s\n", step.Output())
		fmt.Fprintf(&sb, "  MaxPerNode: %d\n", step.Control.MaxPerNode)
		fmt.Fprintf(&sb, "  ParsetArgs: %d\n", len(step.ParsetArgs.Flatten()))
		sb.WriteString("\n")
	}
	return sb.String()
}
