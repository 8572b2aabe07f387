package dispatch

import (
	"strings"

	"github.com/sourceplane/mapflow/internal/cluster"
	"github.com/sourceplane/mapflow/internal/model"
)

// executableArgsRecipe runs an arbitrary executable. Positional arguments
// naming an input or output key are replaced by the unit's paths, then every
// parsetarg leaf is passed as --dotted.key=value.
type executableArgsRecipe struct{}

func (executableArgsRecipe) Type() model.RecipeType { return model.RecipeExecutableArgs }

func (executableArgsRecipe) Prepare(step *model.Step, unit Unit) (cluster.Command, error) {
	t := tokens(step, unit)

	args := make([]string, 0, len(step.Control.Arguments))
	for _, a := range step.Control.Arguments {
		args = append(args, substitute(a, t))
	}
	for _, f := range step.ParsetArgs.Flatten() {
		if f.Value.Kind() == model.KindDocument {
			continue
		}
		args = append(args, "--"+f.Path+"="+flagValue(f.Value, t))
	}

	return cluster.Command{Path: step.Control.Executable, Args: args}, nil
}

func flagValue(v model.Value, t map[string]string) string {
	if v.Kind() != model.KindList {
		return substitute(v.String(), t)
	}
	items := v.Strings()
	for i, item := range items {
		items[i] = substitute(item, t)
	}
	return strings.Join(items, ",")
}
