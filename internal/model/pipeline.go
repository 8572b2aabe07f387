package model

import (
	"fmt"
	"strings"
)

// StepKind is the value of <id>.control.kind.
type StepKind string

const StepKindRecipe StepKind = "recipe"

// RecipeType selects how a step is executed.
type RecipeType int

const (
	RecipeUnknown RecipeType = iota
	// RecipeCasapy runs the imaging tool with a generated script.
	RecipeCasapy
	// RecipeExecutableArgs runs an arbitrary executable with positional arguments.
	RecipeExecutableArgs
)

// RecipeTypes lists every supported recipe type.
var RecipeTypes = []RecipeType{RecipeCasapy, RecipeExecutableArgs}

// ParseRecipeType maps the template spelling of a recipe type to the enum.
func ParseRecipeType(s string) (RecipeType, error) {
	switch s {
	case "casapy":
		return RecipeCasapy, nil
	case "executable_args":
		return RecipeExecutableArgs, nil
	default:
		return RecipeUnknown, fmt.Errorf("%w: %q", ErrUnsupportedRecipeType, s)
	}
}

func (r RecipeType) String() string {
	switch r {
	case RecipeCasapy:
		return "casapy"
	case RecipeExecutableArgs:
		return "executable_args"
	default:
		return "unknown"
	}
}

const outputMapFileSuffix = ".output.mapfile"

// MapFileRef names a MapFile by identity. Step is set when the reference
// points at the declared output of a step.
type MapFileRef struct {
	Name string
	Step string
}

// OutputRef returns the identity of the output MapFile declared by stepID.
func OutputRef(stepID string) MapFileRef {
	return MapFileRef{Name: stepID + outputMapFileSuffix, Step: stepID}
}

// ParseMapFileRef classifies a reference as a step output
// (<id>.output.mapfile) or an external mapfile.
func ParseMapFileRef(s string) MapFileRef {
	if id, ok := strings.CutSuffix(s, outputMapFileSuffix); ok && id != "" && !strings.ContainsAny(id, "./") {
		return MapFileRef{Name: s, Step: id}
	}
	return MapFileRef{Name: s}
}

// IsStepOutput reports whether the reference names a step's output.
func (r MapFileRef) IsStepOutput() bool { return r.Step != "" }

func (r MapFileRef) String() string { return r.Name }

// ControlOpts is the decoded <id>.control.opts block.
type ControlOpts struct {
	Executable string
	Arguments  []string
	// Inputs comes from mapfile_in (one entry) or mapfiles_in.
	Inputs []MapFileRef
	// InputKeys pairs one key with each input, by position.
	InputKeys []string
	OutputKey string
	// MapFileOut is where the output manifest is persisted; empty uses the
	// store default.
	MapFileOut string
	// MaxPerNode caps concurrent invocations per node. 0 means unbounded.
	MaxPerNode int
	// Raw is the undecoded block, kept for persistence.
	Raw *Document
}

// Step is one stage of a pipeline definition.
type Step struct {
	ID     string
	Index  int
	Kind   StepKind
	Recipe RecipeType
	// Control holds the executor options.
	Control ControlOpts
	ParsetArgs *Document
}

// Output returns the identity of the MapFile this step produces.
func (s *Step) Output() MapFileRef { return OutputRef(s.ID) }

// PrimaryInput returns the first input, which fixes the number of units.
func (s *Step) PrimaryInput() (MapFileRef, bool) {
	if len(s.Control.Inputs) == 0 {
		return MapFileRef{}, false
	}
	return s.Control.Inputs[0], true
}

// PipelineDefinition is the validated, ordered step graph of one rendered
// template. It exclusively owns its steps.
type PipelineDefinition struct {
	steps  []*Step
	byID   map[string]*Step
	source *Document
}

// NewPipelineDefinition wraps already validated steps in declared order.
func NewPipelineDefinition(steps []*Step, source *Document) *PipelineDefinition {
	def := &PipelineDefinition{
		steps:  make([]*Step, len(steps)),
		byID:   make(map[string]*Step, len(steps)),
		source: source,
	}
	copy(def.steps, steps)
	for _, s := range steps {
		def.byID[s.ID] = s
	}
	return def
}

// Steps returns the steps in execution order.
func (p *PipelineDefinition) Steps() []*Step {
	out := make([]*Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Step looks a step up by id.
func (p *PipelineDefinition) Step(id string) (*Step, bool) {
	s, ok := p.byID[id]
	return s, ok
}

// Order returns the declared step ids.
func (p *PipelineDefinition) Order() []string {
	ids := make([]string, len(p.steps))
	for i, s := range p.steps {
		ids[i] = s.ID
	}
	return ids
}

func (p *PipelineDefinition) Len() int { return len(p.steps) }

// Source returns the parsed document the definition was built from.
func (p *PipelineDefinition) Source() *Document { return p.source }

// ExternalInputs returns every input reference not produced by a step, in
// first-use order.
func (p *PipelineDefinition) ExternalInputs() []MapFileRef {
	seen := make(map[string]bool)
	var refs []MapFileRef
	for _, s := range p.steps {
		for _, in := range s.Control.Inputs {
			if in.IsStepOutput() || seen[in.Name] {
				continue
			}
			seen[in.Name] = true
			refs = append(refs, in)
		}
	}
	return refs
}
