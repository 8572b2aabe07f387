package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sourceplane/mapflow/internal/render"
)

var stepsCmd = &cobra.Command{
	Use:     "steps",
	Aliases: []string{"step"},
	Short:   "Show the steps of a pipeline and how their mapfiles connect",
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewPipeline()
	},
}

func registerStepsCommand(root *cobra.Command) {
	root.AddCommand(stepsCmd)

	addDefinitionFlags(stepsCmd)
	stepsCmd.Flags().StringVarP(&viewSteps, "view", "v", "dag", "View (dag/dependencies/step=ID)")
}

func viewPipeline() error {
	l, err := loadDefinition(nil)
	if err != nil {
		return err
	}

	viewer := render.NewStepViewer(l.def)
	var output string
	switch {
	case viewSteps == "dependencies":
		output = viewer.ViewDependencies()
	case strings.HasPrefix(viewSteps, "step="):
		output = viewer.ViewStep(strings.TrimPrefix(viewSteps, "step="))
	default:
		output = viewer.ViewDAG()
	}

	fmt.Println("\n" + output)
	return nil
}
