package planner_test

import (
	"errors"
	"os"
	"testing"

	"github.com/sourceplane/mapflow/internal/loader"
	"github.com/sourceplane/mapflow/internal/model"
	"github.com/sourceplane/mapflow/internal/parset"
	"github.com/sourceplane/mapflow/internal/planner"
	"github.com/sourceplane/mapflow/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildText(t *testing.T, text string, opts ...planner.Option) (*model.PipelineDefinition, error) {
	t.Helper()
	doc, err := parset.Parse(text)
	require.NoError(t, err)
	return planner.Build(doc, opts...)
}

func TestBuildImagePipeline(t *testing.T) {
	tmpl, err := os.ReadFile("testdata/image.parset.tmpl")
	require.NoError(t, err)
	params, err := loader.LoadParameterContext("testdata/image.params.yaml", nil)
	require.NoError(t, err)

	rendered, err := render.Render(string(tmpl), params)
	require.NoError(t, err)
	doc, err := parset.Parse(rendered)
	require.NoError(t, err)

	def, err := planner.Build(doc, planner.WithExternalMapFiles("input.mapfile"))
	require.NoError(t, err)

	assert.Equal(t, []string{"casapy1", "mask", "casapy2"}, def.Order())

	casapy1, _ := def.Step("casapy1")
	assert.Equal(t, model.RecipeCasapy, casapy1.Recipe)
	assert.Equal(t, []model.MapFileRef{{Name: "input.mapfile"}}, casapy1.Control.Inputs)
	assert.Equal(t, 1, casapy1.Control.MaxPerNode)
	niter, ok := casapy1.ParsetArgs.Get("clean.niter")
	require.True(t, ok)
	assert.Equal(t, "1000", niter.String())
	wplanes, _ := casapy1.ParsetArgs.Get("clean.wprojplanes")
	assert.Equal(t, "32", wplanes.String())

	mask, _ := def.Step("mask")
	assert.Equal(t, model.RecipeExecutableArgs, mask.Recipe)
	assert.Equal(t, "/opt/factor/scripts/make_clean_mask.py", mask.Control.Executable)
	assert.Equal(t, []string{"imagefile", "maskfile"}, mask.Control.Arguments)

	casapy2, _ := def.Step("casapy2")
	require.Len(t, casapy2.Control.Inputs, 2)
	assert.Equal(t, casapy1.Output(), casapy2.Control.Inputs[0])
	assert.Equal(t, mask.Output(), casapy2.Control.Inputs[1])
	assert.Equal(t, []string{"imagermodel", "imagermask"}, casapy2.Control.InputKeys)
	cell, _ := casapy2.ParsetArgs.Get("clean.cell")
	assert.Equal(t, []string{"7.5arcsec", "7.5arcsec"}, cell.Strings())

	assert.Equal(t, []model.MapFileRef{{Name: "input.mapfile"}}, def.ExternalInputs())
}

func TestBuildStepList(t *testing.T) {
	tests := []struct {
		name string
		text string
		kind error
	}{
		{"missing", "a.control.type = casapy\n", model.ErrMissingStepList},
		{"scalar", "pipeline.steps = a\n", model.ErrMissingStepList},
		{"empty id", "pipeline.steps = [a, '']\n", model.ErrMissingStepList},
		{"dotted id", "pipeline.steps = [a.b]\n", model.ErrMissingStepList},
		{"duplicate", "pipeline.steps = [a, b, a]\n", model.ErrDuplicateStepID},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			def, err := buildText(t, tc.text)
			require.Error(t, err)
			assert.Nil(t, def)
			assert.True(t, errors.Is(err, tc.kind), "got %v", err)
		})
	}
}

func TestBuildEmptyPipeline(t *testing.T) {
	def, err := buildText(t, "pipeline.steps = []\n")
	require.NoError(t, err)
	assert.Equal(t, 0, def.Len())
}

func TestBuildUnsupportedRecipeType(t *testing.T) {
	def, err := buildText(t, `pipeline.steps = [a]
a.control.type = unknownrecipe
a.control.opts.mapfile_in = in.mapfile
`)
	require.Error(t, err)
	assert.Nil(t, def)
	assert.True(t, errors.Is(err, model.ErrUnsupportedRecipeType))

	var be *model.BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "a", be.Step)

	_, err = buildText(t, "pipeline.steps = [a]\na.control.opts.mapfile_in = x\n")
	assert.True(t, errors.Is(err, model.ErrUnsupportedRecipeType), "missing type")
}

func TestBuildUnsupportedStepKind(t *testing.T) {
	_, err := buildText(t, "pipeline.steps = [a]\na.control.kind = plugin\na.control.type = casapy\n")
	assert.True(t, errors.Is(err, model.ErrUnsupportedStepKind))
}

func TestBuildDataDependencies(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"forward", `pipeline.steps = [a, b]
a.control.type = casapy
a.control.opts.mapfile_in = b.output.mapfile
b.control.type = casapy
b.control.opts.mapfile_in = in.mapfile
`},
		{"self", `pipeline.steps = [a]
a.control.type = casapy
a.control.opts.mapfile_in = a.output.mapfile
`},
		{"unknown step", `pipeline.steps = [a]
a.control.type = casapy
a.control.opts.mapfiles_in = [in.mapfile, ghost.output.mapfile]
`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			def, err := buildText(t, tc.text)
			require.Error(t, err)
			assert.Nil(t, def)
			assert.True(t, errors.Is(err, model.ErrUnresolvedDataDependency), "got %v", err)
		})
	}
}

func TestBuildExternalMapFiles(t *testing.T) {
	text := "pipeline.steps = [a]\na.control.type = casapy\na.control.opts.mapfile_in = other.mapfile\n"

	_, err := buildText(t, text)
	require.NoError(t, err, "any external is accepted by default")

	_, err = buildText(t, text, planner.WithExternalMapFiles("input.mapfile"))
	assert.True(t, errors.Is(err, model.ErrUnresolvedDataDependency))
}

func TestBuildInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"both input forms", "pipeline.steps = [a]\na.control.type = casapy\na.control.opts.mapfile_in = x\na.control.opts.mapfiles_in = [x]\n"},
		{"no input", "pipeline.steps = [a]\na.control.type = casapy\n"},
		{"key count", "pipeline.steps = [a]\na.control.type = casapy\na.control.opts.mapfiles_in = [x, y]\na.control.opts.inputkeys = [k]\n"},
		{"no executable", "pipeline.steps = [a]\na.control.type = executable_args\na.control.opts.mapfile_in = x\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := buildText(t, tc.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrInvalidStepOptions), "got %v", err)
		})
	}
}

func TestStepGraph(t *testing.T) {
	def, err := buildText(t, `pipeline.steps = [a, b, c, d]
a.control.type = casapy
a.control.opts.mapfile_in = in.mapfile
b.control.type = casapy
b.control.opts.mapfile_in = a.output.mapfile
c.control.type = casapy
c.control.opts.mapfiles_in = [a.output.mapfile, b.output.mapfile]
d.control.type = casapy
d.control.opts.mapfile_in = in.mapfile
`)
	require.NoError(t, err)

	g := planner.NewStepGraph(def)
	assert.Equal(t, []string{"a", "d"}, g.Roots())
	assert.Equal(t, []string{"a", "b"}, g.Dependencies("c"))
	assert.Equal(t, []string{"b", "c"}, g.Dependents("a"))
	assert.Equal(t, []string{"b", "c"}, g.TransitiveDependents("a"))
	assert.Equal(t, []string{"c"}, g.TransitiveDependents("b"))
	assert.Empty(t, g.TransitiveDependents("d"))
}
