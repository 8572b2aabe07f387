package loader

import (
	"fmt"
	"os"
	"strings"

	"github.com/sourceplane/mapflow/internal/model"
	"github.com/sourceplane/mapflow/internal/normalize"
	"github.com/sourceplane/mapflow/internal/parset"
	"gopkg.in/yaml.v3"
)

// LoadTemplate reads a pipeline template.
func LoadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template file: %w", err)
	}
	return string(data), nil
}

// LoadParameterContext reads a YAML mapping of template variables and applies
// overrides on top. An empty path yields a context holding only overrides.
func LoadParameterContext(path string, overrides map[string]string) (model.ParameterContext, error) {
	values := make(map[string]interface{})

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return model.ParameterContext{}, fmt.Errorf("failed to read parameter file: %w", err)
		}
		if err := yaml.Unmarshal(data, &values); err != nil {
			return model.ParameterContext{}, fmt.Errorf("failed to parse parameter YAML: %w", err)
		}
	}

	ctx, err := normalize.Context(values)
	if err != nil {
		return model.ParameterContext{}, fmt.Errorf("invalid parameter file %s: %w", path, err)
	}
	return ctx.With(overrides), nil
}

// ParseAssignments splits name=value pairs as given on the command line.
func ParseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected name=value", p)
		}
		out[name] = value
	}
	return out, nil
}

// LoadParset reads an already rendered parset.
func LoadParset(path string) (*model.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parset file: %w", err)
	}
	defer f.Close()

	doc, err := parset.ParseReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc, nil
}
