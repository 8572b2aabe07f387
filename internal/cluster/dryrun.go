package cluster

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Invocation records a command a DryRun inventory was asked to run.
type Invocation struct {
	Node    string
	Command Command
}

// DryRun reports success for every command without executing it. Scripts
// and listings are still produced by the callers as in a real run.
type DryRun struct {
	inner  Inventory
	logger zerolog.Logger

	mu          sync.Mutex
	invocations []Invocation
}

// NewDryRun wraps inner, which still provides the node list.
func NewDryRun(inner Inventory, logger zerolog.Logger) *DryRun {
	return &DryRun{inner: inner, logger: logger.With().Str("component", "cluster").Bool("dry_run", true).Logger()}
}

func (d *DryRun) Nodes() []string { return d.inner.Nodes() }

func (d *DryRun) Run(ctx context.Context, node string, cmd Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	d.mu.Lock()
	d.invocations = append(d.invocations, Invocation{Node: node, Command: cmd})
	d.mu.Unlock()

	d.logger.Info().Str("node", node).Str("command", cmd.String()).Msg("would run")
	return Result{}, nil
}

// Invocations returns every recorded command in call order.
func (d *DryRun) Invocations() []Invocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Invocation(nil), d.invocations...)
}
