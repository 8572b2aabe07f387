package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NodePlaceholder is replaced by the target node in launcher arguments.
const NodePlaceholder = "{node}"

// Local runs commands through os/exec. With a launcher such as
// [ssh, "{node}"] the command is prefixed with the launcher argv so it runs
// on the target node; without one every node is the local host.
type Local struct {
	nodes    []string
	launcher []string
	logger   zerolog.Logger
}

// NewLocal creates an inventory over nodes.
func NewLocal(nodes []string, launcher []string, logger zerolog.Logger) *Local {
	return &Local{
		nodes:    append([]string(nil), nodes...),
		launcher: append([]string(nil), launcher...),
		logger:   logger.With().Str("component", "cluster").Logger(),
	}
}

func (l *Local) Nodes() []string { return append([]string(nil), l.nodes...) }

// Wrap returns the argv actually executed for cmd on node.
func (l *Local) Wrap(node string, cmd Command) []string {
	argv := make([]string, 0, len(l.launcher)+len(cmd.Args)+1)
	for _, a := range l.launcher {
		argv = append(argv, strings.ReplaceAll(a, NodePlaceholder, node))
	}
	return append(argv, cmd.Argv()...)
}

func (l *Local) Run(ctx context.Context, node string, cmd Command) (Result, error) {
	argv := l.Wrap(node, cmd)

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	l.logger.Debug().Str("node", node).Str("command", cmd.String()).Msg("starting command")
	start := time.Now()
	err := c.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			if ctx.Err() != nil {
				return res, fmt.Errorf("%s interrupted: %w", argv[0], ctx.Err())
			}
			return res, fmt.Errorf("%s exited with code %d%s", argv[0], res.ExitCode, tail(res.Stderr))
		}
		res.ExitCode = -1
		return res, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	return res, nil
}

// tail returns the last line of stderr for error messages.
func tail(stderr string) string {
	s := strings.TrimSpace(stderr)
	if s == "" {
		return ""
	}
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return ": " + s
}
