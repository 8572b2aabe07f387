package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourceplane/mapflow/internal/render"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a pipeline template into a parset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderParset()
	},
}

func registerRenderCommand(root *cobra.Command) {
	root.AddCommand(renderCmd)

	addDefinitionFlags(renderCmd)
	renderCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the rendered parset here (default stdout)")
	renderCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug output")
}

func renderParset() error {
	text, doc, err := renderTemplate()
	if err != nil {
		return err
	}

	if outputFile == "" {
		fmt.Println()
		fmt.Print(text)
		return nil
	}
	if err := render.WriteText(outputFile, text); err != nil {
		return err
	}
	fmt.Printf("✓ Rendered %d keys\n", len(doc.Flatten()))
	fmt.Printf("✓ Saved to: %s\n", outputFile)
	return nil
}
