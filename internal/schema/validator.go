package schema

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sourceplane/mapflow/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed schemas/*.schema.yaml
var schemaFS embed.FS

// Validator checks step control options against the schema of their recipe.
type Validator struct {
	recipes map[model.RecipeType]*jsonschema.Schema
}

// NewValidator compiles the embedded schema of every recipe type.
func NewValidator() (*Validator, error) {
	v := &Validator{recipes: make(map[model.RecipeType]*jsonschema.Schema)}

	for _, recipe := range model.RecipeTypes {
		name := recipe.String() + ".schema.yaml"
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s schema: %w", recipe, err)
		}
		compiled, err := compile(name, data)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s schema: %w", recipe, err)
		}
		v.recipes[recipe] = compiled
	}

	return v, nil
}

// ValidateOptions validates a step's control.opts block.
func (v *Validator) ValidateOptions(recipe model.RecipeType, opts *model.Document) error {
	s, ok := v.recipes[recipe]
	if !ok {
		return fmt.Errorf("%w: no schema for %s", model.ErrUnsupportedRecipeType, recipe)
	}

	// The validator expects JSON-decoded values.
	raw, err := json.Marshal(opts.Interface())
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode options: %w", err)
	}

	return s.Validate(doc)
}

// compile loads a schema document (JSON or YAML).
func compile(name string, data []byte) (*jsonschema.Schema, error) {
	var schemaData interface{}
	if err := yaml.Unmarshal(data, &schemaData); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}

	// Convert to JSON for schema compiler
	jsonData, err := json.Marshal(schemaData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	compiled, err := jsonschema.CompileString(name, string(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return compiled, nil
}
