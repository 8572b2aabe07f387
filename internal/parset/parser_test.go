package parset

import (
	"errors"
	"testing"

	"github.com/sourceplane/mapflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLiteral(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind model.Kind
		text string
	}{
		{"bool true", "True", model.KindBool, "True"},
		{"bool false", "False", model.KindBool, "False"},
		{"lowercase stays string", "true", model.KindString, "true"},
		{"integer", "1000", model.KindInt, "1000"},
		{"negative integer", "-3", model.KindInt, "-3"},
		{"float keeps spelling", "3.0", model.KindFloat, "3.0"},
		{"exponent", "1e-4", model.KindFloat, "1e-4"},
		{"bare string", "7.5arcsec", model.KindString, "7.5arcsec"},
		{"double quoted", `"0.08~7.0klambda"`, model.KindString, "0.08~7.0klambda"},
		{"single quoted number", "'12'", model.KindString, "12"},
		{"tuple is one string", "(70, 20)", model.KindString, "(70, 20)"},
		{"path", "/data/scratch/img.ms", model.KindString, "/data/scratch/img.ms"},
		{"inf is a word", "inf", model.KindString, "inf"},
		{"empty", "", model.KindString, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := DecodeLiteral(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, v.Kind())
			assert.Equal(t, tc.text, v.String())
		})
	}
}

func TestDecodeLiteralLists(t *testing.T) {
	v, err := DecodeLiteral("[--nologger, --log2term, -c]")
	require.NoError(t, err)
	assert.Equal(t, []string{"--nologger", "--log2term", "-c"}, v.Strings())

	v, err = DecodeLiteral("[]")
	require.NoError(t, err)
	items, ok := v.AsList()
	require.True(t, ok)
	assert.Empty(t, items)

	v, err = DecodeLiteral("[[1, 2], ['a', \"b,c\"], [], True]")
	require.NoError(t, err)
	items, _ = v.AsList()
	require.Len(t, items, 4)
	inner, _ := items[0].AsList()
	n, ok := inner[1].AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"a", "b,c"}, items[1].Strings())
	empty, _ := items[2].AsList()
	assert.Empty(t, empty)
	b, ok := items[3].AsBool()
	assert.True(t, ok)
	assert.True(t, b)
}

func TestDecodeLiteralMapping(t *testing.T) {
	v, err := DecodeLiteral("{niter: 1000, cell: '7.5arcsec', mask: [], nested: {a: 1}}")
	require.NoError(t, err)
	doc, ok := v.AsDocument()
	require.True(t, ok)
	assert.Equal(t, []string{"niter", "cell", "mask", "nested"}, doc.Keys())
	assert.Equal(t, "7.5arcsec", doc.Text("cell"))
	a, ok := doc.Get("nested.a")
	require.True(t, ok)
	assert.Equal(t, model.KindInt, a.Kind())
}

func TestDecodeLiteralMalformed(t *testing.T) {
	for _, raw := range []string{
		"[a, b",
		"[a,,b]",
		"[a, b]]",
		"[a] trailing",
		`"unterminated`,
		"{a 1}",
		"{a: 1",
		"a]",
		"[a, [b]",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := DecodeLiteral(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrMalformedLiteral), "got %v", err)
		})
	}
}

func TestParse(t *testing.T) {
	text := `
# imaging step
pipeline.steps = [casapy1, mask]
casapy1.control.kind = recipe
casapy1.control.type = casapy
casapy1.control.opts.max_per_node = 1
casapy1.parsetarg.clean.niter = 1000
casapy1.parsetarg.clean.imsize = [6250, 6250]
mask.control.type = executable_args
casapy1.parsetarg.clean.niter = 2000
`
	doc, err := Parse(text)
	require.NoError(t, err)

	assert.Equal(t, []string{"pipeline", "casapy1", "mask"}, doc.Keys())
	steps, ok := doc.Get("pipeline.steps")
	require.True(t, ok)
	assert.Equal(t, []string{"casapy1", "mask"}, steps.Strings())

	niter, ok := doc.Get("casapy1.parsetarg.clean.niter")
	require.True(t, ok)
	n, _ := niter.AsInt()
	assert.Equal(t, int64(2000), n, "last write wins")

	clean, ok := doc.Sub("casapy1.parsetarg.clean")
	require.True(t, ok)
	assert.Equal(t, []string{"niter", "imsize"}, clean.Keys(), "first-seen order is kept")
}

func TestParseDistinguishesEmptyListFromAbsent(t *testing.T) {
	doc, err := Parse("a.mask = []\n")
	require.NoError(t, err)

	v, ok := doc.Get("a.mask")
	require.True(t, ok)
	assert.Equal(t, model.KindList, v.Kind())
	assert.False(t, doc.Has("a.other"))
}

func TestParseConflicts(t *testing.T) {
	tests := []struct {
		name string
		text string
		kind error
		line int
	}{
		{"scalar then list", "a.b = 1\na.b = [1]\n", model.ErrDuplicateKeyConflict, 2},
		{"scalar then sub-key", "a.b = 1\na.b.c = 2\n", model.ErrDuplicateKeyConflict, 2},
		{"sub-key then scalar", "a.b.c = 2\na.b = 1\n", model.ErrDuplicateKeyConflict, 2},
		{"missing equals", "a.b\n", model.ErrMalformedLiteral, 1},
		{"empty segment", "a..b = 1\n", model.ErrMalformedLiteral, 1},
		{"bad literal", "\n\na = [1,\n", model.ErrMalformedLiteral, 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.kind), "got %v", err)

			var pe *model.ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tc.line, pe.Line)
		})
	}
}

func TestParseSameShapeOverwrites(t *testing.T) {
	doc, err := Parse("a = 1\na = text\nl = [1]\nl = [2, 3]\n")
	require.NoError(t, err)
	assert.Equal(t, "text", doc.Text("a"))
	v, _ := doc.Get("l")
	assert.Equal(t, []string{"2", "3"}, v.Strings())
}

func TestEncodeRoundTrip(t *testing.T) {
	text := `pipeline.steps = [casapy1, mask]
casapy1.parsetarg.clean.uvrange = "0.08~7.0klambda"
casapy1.parsetarg.clean.threshisl = 3.0
casapy1.parsetarg.clean.label = "12"
casapy1.parsetarg.clean.cell = ['7.5arcsec', '7.5arcsec']
casapy1.parsetarg.clean.mask = []
casapy1.parsetarg.clean.usescratch = True
casapy1.parsetarg.extra = {}
mask.parsetarg.rmsbox = (70, 20)
`
	doc, err := Parse(text)
	require.NoError(t, err)

	again, err := Parse(Encode(doc))
	require.NoError(t, err)
	assert.True(t, doc.Equal(again), "encoded:\n%s", Encode(doc))
}
