package main

import (
	"fmt"

	"github.com/sourceplane/mapflow/internal/loader"
	"github.com/sourceplane/mapflow/internal/model"
	"github.com/sourceplane/mapflow/internal/parset"
	"github.com/sourceplane/mapflow/internal/planner"
	"github.com/sourceplane/mapflow/internal/render"
)

// loaded is a parsed pipeline definition together with its rendered text.
type loaded struct {
	text string
	doc  *model.Document
	def  *model.PipelineDefinition
}

// renderTemplate renders --template, or reads --parset verbatim.
func renderTemplate() (string, *model.Document, error) {
	if templateFile == "" && parsetFile == "" {
		return "", nil, fmt.Errorf("one of --template or --parset is required")
	}
	if parsetFile != "" {
		fmt.Println("□ Loading parset...")
		text, err := loader.LoadTemplate(parsetFile)
		if err != nil {
			return "", nil, err
		}
		doc, err := loader.LoadParset(parsetFile)
		if err != nil {
			return "", nil, err
		}
		return text, doc, nil
	}

	fmt.Println("□ Loading template...")
	tmpl, err := loader.LoadTemplate(templateFile)
	if err != nil {
		return "", nil, err
	}

	fmt.Println("□ Loading parameters...")
	overrides, err := loader.ParseAssignments(setValues)
	if err != nil {
		return "", nil, err
	}
	params, err := loader.LoadParameterContext(paramsFile, overrides)
	if err != nil {
		return "", nil, err
	}
	if debugMode {
		fmt.Printf("  %d template variables\n", params.Len())
	}

	fmt.Println("□ Rendering template...")
	text, err := render.Render(tmpl, params)
	if err != nil {
		return "", nil, fmt.Errorf("failed to render %s: %w", templateFile, err)
	}

	fmt.Println("□ Parsing parset...")
	doc, err := parset.Parse(text)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse rendered template: %w", err)
	}
	return text, doc, nil
}

// loadDefinition renders, parses and builds the selected definition.
// Non-empty inputs restrict external mapfiles to their names.
func loadDefinition(inputs map[string]string) (*loaded, error) {
	text, doc, err := renderTemplate()
	if err != nil {
		return nil, err
	}

	fmt.Println("□ Building step graph...")
	def, err := buildDefinition(doc, inputs)
	if err != nil {
		return nil, err
	}
	return &loaded{text: text, doc: doc, def: def}, nil
}

func buildDefinition(doc *model.Document, inputs map[string]string) (*model.PipelineDefinition, error) {
	opts := []planner.Option{planner.WithLogger(logger)}
	if len(inputs) > 0 {
		names := make([]string, 0, len(inputs))
		for name := range inputs {
			names = append(names, name)
		}
		opts = append(opts, planner.WithExternalMapFiles(names...))
	}

	def, err := planner.Build(doc, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	return def, nil
}
