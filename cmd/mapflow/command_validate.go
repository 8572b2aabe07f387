package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourceplane/mapflow/internal/render"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a pipeline template and its step options",
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateDefinition()
	},
}

func registerValidateCommand(root *cobra.Command) {
	root.AddCommand(validateCmd)

	addDefinitionFlags(validateCmd)
	validateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Also export the definition (.json, .yaml or .parset)")
	validateCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug output")
}

func validateDefinition() error {
	l, err := loadDefinition(nil)
	if err != nil {
		return err
	}

	writer := render.NewDefinitionWriter()
	if debugMode {
		fmt.Println("\n" + writer.DebugDump(l.def))
	}

	for _, step := range l.def.Steps() {
		fmt.Printf("  %s [%s]\n", step.ID, step.Recipe)
	}
	fmt.Printf("✓ Pipeline valid with %d steps\n", l.def.Len())

	if outputFile != "" {
		if err := writer.WriteDefinition(l.def, outputFile); err != nil {
			return err
		}
		fmt.Printf("✓ Saved to: %s\n", outputFile)
	}
	return nil
}
