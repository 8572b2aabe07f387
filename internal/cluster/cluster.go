// Package cluster runs unit commands on the nodes of the processing cluster.
package cluster

import (
	"context"
	"strings"
	"time"
)

// Command is one process invocation.
type Command struct {
	Path string
	Args []string
	// Dir is the working directory; empty inherits the engine's.
	Dir string
	// Env holds extra KEY=value pairs added to the inherited environment.
	Env []string
}

// Argv returns the full argument vector.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// String renders the command line for logs, quoting arguments with spaces.
func (c Command) String() string {
	argv := c.Argv()
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t'\"") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Inventory is the set of nodes work can be sent to.
type Inventory interface {
	// Nodes lists the available node identifiers.
	Nodes() []string
	// Run executes cmd on node and waits for it. A non-zero exit is an error.
	Run(ctx context.Context, node string, cmd Command) (Result, error)
}

// HasNode reports whether inv offers node.
func HasNode(inv Inventory, node string) bool {
	for _, n := range inv.Nodes() {
		if n == node {
			return true
		}
	}
	return false
}
