package dispatch

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sourceplane/mapflow/internal/cluster"
	"github.com/sourceplane/mapflow/internal/fsutil"
	"github.com/sourceplane/mapflow/internal/model"
)

// casapyRecipe runs the imaging tool on a generated script. Every parsetarg
// sub-document becomes a task call, every scalar an assignment.
type casapyRecipe struct {
	scriptDir  string
	executable string
	arguments  []string
}

func (r *casapyRecipe) Type() model.RecipeType { return model.RecipeCasapy }

func (r *casapyRecipe) Prepare(step *model.Step, unit Unit) (cluster.Command, error) {
	script := Script(step, unit)
	path := filepath.Join(r.scriptDir, step.ID, fmt.Sprintf("unit-%d.py", unit.Index))
	if err := fsutil.WriteFileAtomic(path, []byte(script), 0o644); err != nil {
		return cluster.Command{}, fmt.Errorf("failed to write script for unit %d: %w", unit.Index, err)
	}

	executable := step.Control.Executable
	if executable == "" {
		executable = r.executable
	}
	args := step.Control.Arguments
	if len(args) == 0 {
		args = r.arguments
	}

	return cluster.Command{
		Path: executable,
		Args: append(append([]string(nil), args...), path),
	}, nil
}

// Script renders the tool script of one unit.
func Script(step *model.Step, unit Unit) string {
	t := tokens(step, unit)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# step %s, unit %d on %s\n", step.ID, unit.Index, unit.Node)
	for _, key := range step.ParsetArgs.Keys() {
		v, _ := step.ParsetArgs.Get(key)
		doc, ok := v.AsDocument()
		if !ok {
			fmt.Fprintf(&sb, "%s = %s\n", key, pyLiteral(v, t))
			continue
		}
		kwargs := make([]string, 0, doc.Len())
		for _, k := range doc.Keys() {
			arg, _ := doc.Get(k)
			kwargs = append(kwargs, k+"="+pyLiteral(arg, t))
		}
		fmt.Fprintf(&sb, "%s(%s)\n", key, strings.Join(kwargs, ", "))
	}
	return sb.String()
}

// pyLiteral formats v as a Python literal, replacing key tokens by paths.
func pyLiteral(v model.Value, t map[string]string) string {
	switch v.Kind() {
	case model.KindBool, model.KindInt, model.KindFloat:
		return v.String()
	case model.KindList:
		items, _ := v.AsList()
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = pyLiteral(item, t)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case model.KindDocument:
		doc, _ := v.AsDocument()
		parts := make([]string, 0, doc.Len())
		for _, k := range doc.Keys() {
			item, _ := doc.Get(k)
			parts = append(parts, pyString(k)+": "+pyLiteral(item, t))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		s := v.String()
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			return pyTuple(s, t)
		}
		return pyString(substitute(s, t))
	}
}

// pyTuple keeps a tuple token as Python source. Items naming an input or
// output key become the quoted path.
func pyTuple(s string, t map[string]string) string {
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return "()"
	}
	items := strings.Split(inner, ",")
	for i, item := range items {
		item = strings.TrimSpace(item)
		if path, ok := t[item]; ok {
			item = pyString(path)
		}
		items[i] = item
	}
	return "(" + strings.Join(items, ", ") + ")"
}

func pyString(s string) string {
	q := strconv.Quote(s)
	q = strings.ReplaceAll(q[1:len(q)-1], `\"`, `"`)
	return "'" + strings.ReplaceAll(q, "'", `\'`) + "'"
}
