package planner

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sourceplane/mapflow/internal/model"
	"github.com/sourceplane/mapflow/internal/schema"
)

// Builder turns a parsed parset into a validated pipeline definition.
type Builder struct {
	validator *schema.Validator
	externals map[string]bool
	logger    zerolog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithExternalMapFiles restricts external inputs to the named mapfiles.
// Without it any reference that is not a step output is accepted as external.
func WithExternalMapFiles(names ...string) Option {
	return func(b *Builder) {
		if b.externals == nil {
			b.externals = make(map[string]bool)
		}
		for _, n := range names {
			b.externals[n] = true
		}
	}
}

// WithValidator reuses an already compiled options validator.
func WithValidator(v *schema.Validator) Option {
	return func(b *Builder) { b.validator = v }
}

// WithLogger sets the logger used for build diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a builder.
func NewBuilder(opts ...Option) (*Builder, error) {
	b := &Builder{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	if b.validator == nil {
		v, err := schema.NewValidator()
		if err != nil {
			return nil, err
		}
		b.validator = v
	}
	b.logger = b.logger.With().Str("component", "planner").Logger()
	return b, nil
}

// Build is a shorthand for NewBuilder followed by Builder.Build.
func Build(doc *model.Document, opts ...Option) (*model.PipelineDefinition, error) {
	b, err := NewBuilder(opts...)
	if err != nil {
		return nil, err
	}
	return b.Build(doc)
}

// Build reads pipeline.steps and assembles every declared step. Either the
// whole definition is valid or an error is returned.
func (b *Builder) Build(doc *model.Document) (*model.PipelineDefinition, error) {
	ids, err := stepIDs(doc)
	if err != nil {
		return nil, err
	}

	position := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := position[id]; dup {
			return nil, &model.BuildError{Kind: model.ErrDuplicateStepID, Step: id}
		}
		position[id] = i
	}

	steps := make([]*model.Step, 0, len(ids))
	for i, id := range ids {
		step, err := b.buildStep(doc, id, i, position)
		if err != nil {
			return nil, err
		}
		b.logger.Debug().
			Str("step", id).
			Str("recipe", step.Recipe.String()).
			Int("inputs", len(step.Control.Inputs)).
			Msg("step built")
		steps = append(steps, step)
	}

	return model.NewPipelineDefinition(steps, doc), nil
}

func stepIDs(doc *model.Document) ([]string, error) {
	v, ok := doc.Get("pipeline.steps")
	if !ok {
		return nil, &model.BuildError{Kind: model.ErrMissingStepList, Msg: "pipeline.steps is not set"}
	}
	items, ok := v.AsList()
	if !ok {
		return nil, &model.BuildError{Kind: model.ErrMissingStepList, Msg: fmt.Sprintf("pipeline.steps must be a list, got %s", v.Kind())}
	}

	ids := make([]string, len(items))
	for i, item := range items {
		id := item.String()
		if !item.IsScalar() || id == "" || strings.ContainsAny(id, "./ ") {
			return nil, &model.BuildError{Kind: model.ErrMissingStepList, Msg: fmt.Sprintf("invalid step id %q at position %d", id, i)}
		}
		ids[i] = id
	}
	return ids, nil
}

func (b *Builder) buildStep(doc *model.Document, id string, index int, position map[string]int) (*model.Step, error) {
	sub, _ := doc.Sub(id)

	kind := model.StepKindRecipe
	if k := sub.Text("control.kind"); k != "" {
		kind = model.StepKind(k)
	}
	if kind != model.StepKindRecipe {
		return nil, &model.BuildError{Kind: model.ErrUnsupportedStepKind, Step: id, Msg: string(kind)}
	}

	typeName := sub.Text("control.type")
	recipe, err := model.ParseRecipeType(typeName)
	if err != nil {
		return nil, &model.BuildError{Kind: model.ErrUnsupportedRecipeType, Step: id, Msg: fmt.Sprintf("%q", typeName)}
	}

	opts, ok := sub.Sub("control.opts")
	if !ok {
		opts = model.NewDocumentBuilder().Build()
	}
	if err := b.validator.ValidateOptions(recipe, opts); err != nil {
		return nil, &model.BuildError{Kind: model.ErrInvalidStepOptions, Step: id, Err: err}
	}

	control, err := decodeControl(opts)
	if err != nil {
		return nil, &model.BuildError{Kind: model.ErrInvalidStepOptions, Step: id, Msg: err.Error()}
	}

	for _, in := range control.Inputs {
		if err := b.checkInput(id, index, in, position); err != nil {
			return nil, err
		}
	}

	args, ok := sub.Sub("parsetarg")
	if !ok {
		args = model.NewDocumentBuilder().Build()
	}

	return &model.Step{
		ID:         id,
		Index:      index,
		Kind:       kind,
		Recipe:     recipe,
		Control:    control,
		ParsetArgs: args,
	}, nil
}

// checkInput enforces that a step only consumes outputs of strictly earlier
// steps, or known external mapfiles.
func (b *Builder) checkInput(id string, index int, in model.MapFileRef, position map[string]int) error {
	if in.IsStepOutput() {
		pos, ok := position[in.Step]
		switch {
		case !ok:
			return &model.BuildError{Kind: model.ErrUnresolvedDataDependency, Step: id, Msg: fmt.Sprintf("%s: no step %q in pipeline.steps", in, in.Step)}
		case pos == index:
			return &model.BuildError{Kind: model.ErrUnresolvedDataDependency, Step: id, Msg: fmt.Sprintf("%s: step consumes its own output", in)}
		case pos > index:
			return &model.BuildError{Kind: model.ErrUnresolvedDataDependency, Step: id, Msg: fmt.Sprintf("%s: step %q runs later", in, in.Step)}
		}
		return nil
	}

	if b.externals != nil && !b.externals[in.Name] {
		return &model.BuildError{Kind: model.ErrUnresolvedDataDependency, Step: id, Msg: fmt.Sprintf("unknown external mapfile %s", in)}
	}
	return nil
}

func decodeControl(opts *model.Document) (model.ControlOpts, error) {
	c := model.ControlOpts{
		Executable: opts.Text("executable"),
		OutputKey:  opts.Text("outputkey"),
		MapFileOut: opts.Text("mapfile_out"),
		Raw:        opts,
	}

	if v, ok := opts.Get("arguments"); ok {
		c.Arguments = v.Strings()
	}

	if v, ok := opts.Get("mapfile_in"); ok {
		c.Inputs = []model.MapFileRef{model.ParseMapFileRef(v.String())}
	} else if v, ok := opts.Get("mapfiles_in"); ok {
		for _, name := range v.Strings() {
			c.Inputs = append(c.Inputs, model.ParseMapFileRef(name))
		}
	}

	if v, ok := opts.Get("inputkey"); ok {
		c.InputKeys = []string{v.String()}
	} else if v, ok := opts.Get("inputkeys"); ok {
		c.InputKeys = v.Strings()
	}
	if len(c.InputKeys) > 0 && len(c.InputKeys) != len(c.Inputs) {
		return c, fmt.Errorf("%d input keys for %d input mapfiles", len(c.InputKeys), len(c.Inputs))
	}

	if v, ok := opts.Get("max_per_node"); ok {
		n, _ := v.AsInt()
		c.MaxPerNode = int(n)
	}

	return c, nil
}
