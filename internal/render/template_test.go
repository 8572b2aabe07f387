package render

import (
	"errors"
	"testing"

	"github.com/sourceplane/mapflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctx(kv ...string) model.ParameterContext {
	m := make(map[string]string)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return model.NewParameterContext(m)
}

func TestRenderExternal(t *testing.T) {
	text := "# niter {{niter}}\nimg.parsetarg.clean.niter = {{ niter }}\nimg.parsetarg.clean.nterms={{nterms}}\n"

	out, err := Render(text, ctx("niter", "1000", "nterms", "2"))
	require.NoError(t, err)
	assert.Equal(t, "# niter 1000\nimg.parsetarg.clean.niter = 1000\nimg.parsetarg.clean.nterms=2\n", out)
}

func TestRenderSinglePass(t *testing.T) {
	out, err := Render("a = {{ x }}\n", ctx("x", "{{ y }}"))
	require.NoError(t, err)
	assert.Equal(t, "a = {{ y }}\n", out, "substituted values are not rescanned")
}

func TestRenderUnresolvedCollectsAll(t *testing.T) {
	text := "a = {{ wplanes }}\nb = {{ cell }}\nc = {{ nterms }}\nd = {{ cell }}\n"

	out, err := Render(text, ctx("wplanes", "32"))
	require.Error(t, err)
	assert.Empty(t, out)
	assert.True(t, errors.Is(err, model.ErrUnresolvedVariable))

	var te *model.TemplateError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "cell", te.Name)
	assert.Equal(t, 2, te.Line)
	assert.Equal(t, []string{"cell", "nterms"}, te.Missing)
}

func TestRenderReferences(t *testing.T) {
	text := `base = /data/field
img.opts.ms = %(base)s/obs.ms
img.opts.copy = %(img.opts.ms)s.copy
# %(ignored)s in a comment
not an assignment %(ignored)s
base = /scratch/field
`
	out, err := Render(text, model.ParameterContext{})
	require.NoError(t, err)
	assert.Equal(t, `base = /data/field
img.opts.ms = /scratch/field/obs.ms
img.opts.copy = /scratch/field/obs.ms.copy
# %(ignored)s in a comment
not an assignment %(ignored)s
base = /scratch/field
`, out, "references see the final value of a key")
}

func TestRenderReferencesAfterExternal(t *testing.T) {
	text := "a.niter = {{ niter }}\nb.niter = %(a.niter)s\n"
	out, err := Render(text, ctx("niter", "1000"))
	require.NoError(t, err)
	assert.Equal(t, "a.niter = 1000\nb.niter = 1000\n", out)
}

func TestRenderCyclicReference(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		chain []string
	}{
		{"self", "a = %(a)s\n", []string{"a", "a"}},
		{"pair", "a = x %(b)s\nb = %(a)s\n", []string{"a", "b", "a"}},
		{"indirect", "start = %(a)s\na = %(b)s\nb = %(c)s\nc = %(a)s\n", []string{"a", "b", "c", "a"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Render(tc.text, model.ParameterContext{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrCyclicReference))

			var te *model.TemplateError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tc.chain, te.Chain)
		})
	}
}

func TestRenderMissingReference(t *testing.T) {
	_, err := Render("a = 1\nb = %(nope)s\n", model.ParameterContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnresolvedVariable))

	var te *model.TemplateError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "nope", te.Name)
	assert.Equal(t, 2, te.Line)
}

func TestRenderIdempotent(t *testing.T) {
	text := `pipeline.steps = [img]
img.control.type = casapy
img.parsetarg.clean.niter = {{ niter }}
img.parsetarg.clean.cell = ['{{ cell }}', '{{ cell }}']
img.parsetarg.clean.imagename = %(img.parsetarg.clean.vis)s.image
img.parsetarg.clean.vis = {{ ms }}
`
	c := ctx("niter", "1000", "cell", "7.5arcsec", "ms", "/data/obs.ms")

	once, err := Render(text, c)
	require.NoError(t, err)
	twice, err := Render(once, c)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
	assert.NotContains(t, once, "{{")
	assert.NotContains(t, once, "%(")
}
