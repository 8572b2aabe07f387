// Package expand spreads pipeline input files over the cluster nodes.
package expand

import (
	"fmt"

	"github.com/sourceplane/mapflow/internal/model"
)

// Distribute assigns files to nodes round-robin, keeping file order. The
// result is the entry list of an input mapfile.
func Distribute(files []string, nodes []string) ([]model.Entry, error) {
	if len(nodes) == 0 && len(files) > 0 {
		return nil, fmt.Errorf("no nodes to distribute %d files over", len(files))
	}

	entries := make([]model.Entry, len(files))
	for i, f := range files {
		if f == "" {
			return nil, fmt.Errorf("empty file name at position %d", i)
		}
		entries[i] = model.Entry{Node: nodes[i%len(nodes)], Path: f}
	}
	return entries, nil
}

// Balance reports how many entries each node received, in node order.
func Balance(entries []model.Entry, nodes []string) map[string]int {
	counts := make(map[string]int, len(nodes))
	for _, n := range nodes {
		counts[n] = 0
	}
	for _, e := range entries {
		counts[e.Node]++
	}
	return counts
}
