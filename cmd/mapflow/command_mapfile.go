package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sourceplane/mapflow/internal/expand"
	"github.com/sourceplane/mapflow/internal/mapfile"
)

var mapfileNodes []string

var mapfileCmd = &cobra.Command{
	Use:     "mapfile",
	Aliases: []string{"mapfiles"},
	Short:   "Create and inspect mapfiles",
}

var mapfileCreateCmd = &cobra.Command{
	Use:   "create FILE...",
	Short: "Distribute input files over nodes into a mapfile",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return createMapFile(args)
	},
}

var mapfileShowCmd = &cobra.Command{
	Use:   "show PATH",
	Short: "Print the entries of a mapfile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showMapFile(args[0])
	},
}

func registerMapFileCommand(root *cobra.Command) {
	root.AddCommand(mapfileCmd)
	mapfileCmd.AddCommand(mapfileCreateCmd)
	mapfileCmd.AddCommand(mapfileShowCmd)

	mapfileCreateCmd.Flags().StringArrayVarP(&mapfileNodes, "node", "n", nil, "Node to place files on (repeatable, default cluster.nodes)")
	mapfileCreateCmd.Flags().StringVarP(&outputFile, "output", "o", "input.mapfile", "Output mapfile path")
}

func createMapFile(files []string) error {
	nodes := mapfileNodes
	if len(nodes) == 0 {
		nodes = cfg.Cluster.Nodes
	}

	entries, err := expand.Distribute(files, nodes)
	if err != nil {
		return err
	}
	if err := mapfile.WriteListingFile(outputFile, entries); err != nil {
		return err
	}
	fmt.Printf("✓ Mapfile created with %d entries on %d nodes\n", len(entries), len(nodes))
	fmt.Printf("✓ Saved to: %s\n", outputFile)
	return nil
}

func showMapFile(path string) error {
	entries, err := mapfile.ReadListingFile(path)
	if err != nil {
		return err
	}

	for i, e := range entries {
		skip := ""
		if e.Skip {
			skip = " (skip)"
		}
		fmt.Printf("%4d  %-16s %s%s\n", i, e.Node, e.Path, skip)
	}

	balance := expand.Balance(entries, nil)
	nodes := make([]string, 0, len(balance))
	for n := range balance {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	fmt.Printf("\n%d entries\n", len(entries))
	for _, n := range nodes {
		fmt.Printf("  %s: %d\n", n, balance[n])
	}
	return nil
}
