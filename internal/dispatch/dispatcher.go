package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sourceplane/mapflow/internal/cluster"
	"github.com/sourceplane/mapflow/internal/model"
)

// Config holds the dispatcher settings that do not come from the step.
type Config struct {
	WorkDir   string
	ScriptDir string
	// CasapyExecutable and CasapyArguments are used when a casapy step does
	// not set its own executable or arguments.
	CasapyExecutable string
	CasapyArguments  []string
	// AbortOnUnitFailure stops admitting units of a step after its first
	// failing unit.
	AbortOnUnitFailure bool
	// UnitTimeout bounds each invocation. 0 means no limit.
	UnitTimeout time.Duration
}

// DefaultCasapyArguments precede the script path on the tool command line.
var DefaultCasapyArguments = []string{"--nologger", "--log2term", "--nogui", "-c"}

// UnitResult is the outcome of one unit, index-aligned with the dispatched
// units.
type UnitResult struct {
	Unit    Unit
	Command cluster.Command
	Result  cluster.Result
	// Started is false for skipped units and units never admitted.
	Started bool
	Err     error
}

// Failed reports whether the unit did not complete successfully.
func (r UnitResult) Failed() bool { return r.Err != nil }

// Dispatcher executes the units of a step through a node inventory.
type Dispatcher struct {
	inv    cluster.Inventory
	cfg    Config
	logger zerolog.Logger

	casapy     *casapyRecipe
	executable executableArgsRecipe
}

// NewDispatcher creates a dispatcher sending work to inv.
func NewDispatcher(inv cluster.Inventory, cfg Config, logger zerolog.Logger) *Dispatcher {
	if cfg.CasapyExecutable == "" {
		cfg.CasapyExecutable = "casapy"
	}
	if cfg.CasapyArguments == nil {
		cfg.CasapyArguments = DefaultCasapyArguments
	}
	if cfg.ScriptDir == "" {
		cfg.ScriptDir = filepath.Join(cfg.WorkDir, "scripts")
	}
	return &Dispatcher{
		inv:    inv,
		cfg:    cfg,
		logger: logger.With().Str("component", "dispatch").Logger(),
		casapy: &casapyRecipe{
			scriptDir:  cfg.ScriptDir,
			executable: cfg.CasapyExecutable,
			arguments:  cfg.CasapyArguments,
		},
	}
}

// Recipe returns the implementation of t.
func (d *Dispatcher) Recipe(t model.RecipeType) (Recipe, error) {
	switch t {
	case model.RecipeCasapy:
		return d.casapy, nil
	case model.RecipeExecutableArgs:
		return d.executable, nil
	case model.RecipeUnknown:
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedRecipeType, t)
	default:
		return nil, fmt.Errorf("%w: %d", model.ErrUnsupportedRecipeType, int(t))
	}
}

// OutputPath is where unit output derived from primary is written.
func (d *Dispatcher) OutputPath(stepID, primary string) string {
	return filepath.Join(d.cfg.WorkDir, stepID, filepath.Base(primary)+"."+stepID)
}

// Units pairs the resolved input mapfiles positionally. The first input
// fixes each unit's node and output path. Inputs must already have equal
// lengths.
func (d *Dispatcher) Units(step *model.Step, inputs []*model.MapFile) []Unit {
	if len(inputs) == 0 {
		return nil
	}
	primary := inputs[0]
	units := make([]Unit, primary.Len())
	for i := range units {
		e := primary.Entry(i)
		paths := make([]string, len(inputs))
		skip := false
		for j, in := range inputs {
			paths[j] = in.Entry(i).Path
			skip = skip || in.Entry(i).Skip
		}
		units[i] = Unit{
			Index:  i,
			Node:   e.Node,
			Inputs: paths,
			Output: d.OutputPath(step.ID, e.Path),
			Skip:   skip,
		}
	}
	return units
}

// Dispatch runs every non-skipped unit concurrently, admitting at most
// step.Control.MaxPerNode units per node at a time. All commands are
// prepared before the first one starts. Once ctx is cancelled no further
// unit is admitted; units already running are awaited.
func (d *Dispatcher) Dispatch(ctx context.Context, step *model.Step, units []Unit) []UnitResult {
	results := make([]UnitResult, len(units))
	for i, u := range units {
		results[i].Unit = u
	}
	log := d.logger.With().Str("step", step.ID).Logger()

	if err := d.prepare(step, units, results); err != nil {
		log.Error().Err(err).Msg("failed to prepare units")
		return results
	}

	admitCtx, stopAdmission := context.WithCancel(ctx)
	defer stopAdmission()

	limits := d.limiters(step, units)

	var wg sync.WaitGroup
	for i := range units {
		if units[i].Skip {
			continue
		}
		wg.Add(1)
		go func(r *UnitResult) {
			defer wg.Done()
			d.runUnit(ctx, admitCtx, log, limits[r.Unit.Node], r, stopAdmission)
		}(&results[i])
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) prepare(step *model.Step, units []Unit, results []UnitResult) error {
	recipe, err := d.Recipe(step.Recipe)
	if err == nil {
		err = os.MkdirAll(filepath.Join(d.cfg.WorkDir, step.ID), 0o755)
	}
	if err != nil {
		for i := range results {
			if !units[i].Skip {
				results[i].Err = err
			}
		}
		return err
	}

	var firstErr error
	for i, u := range units {
		if u.Skip {
			continue
		}
		cmd, err := recipe.Prepare(step, u)
		if err != nil {
			results[i].Err = err
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results[i].Command = cmd
	}
	if firstErr != nil {
		for i := range results {
			if !units[i].Skip && results[i].Err == nil {
				results[i].Err = fmt.Errorf("%w: not started after a failed preparation", model.ErrStepCancelled)
			}
		}
	}
	return firstErr
}

func (d *Dispatcher) limiters(step *model.Step, units []Unit) map[string]*semaphore.Weighted {
	limits := make(map[string]*semaphore.Weighted)
	if step.Control.MaxPerNode <= 0 {
		return limits
	}
	for _, u := range units {
		if _, ok := limits[u.Node]; !ok {
			limits[u.Node] = semaphore.NewWeighted(int64(step.Control.MaxPerNode))
		}
	}
	return limits
}

// runUnit waits for admission and runs one unit. abort is called on failure
// when configured, before the unit's slot is released.
func (d *Dispatcher) runUnit(ctx, admitCtx context.Context, log zerolog.Logger, limit *semaphore.Weighted, r *UnitResult, abort func()) {
	ulog := log.With().Int("unit", r.Unit.Index).Str("node", r.Unit.Node).Logger()

	if limit != nil {
		if err := limit.Acquire(admitCtx, 1); err != nil {
			r.Err = notAdmitted(err)
			return
		}
		defer limit.Release(1)
	}
	if err := admitCtx.Err(); err != nil {
		r.Err = notAdmitted(err)
		return
	}

	// Admitted units run to completion even if ctx is cancelled meanwhile.
	runCtx := context.WithoutCancel(ctx)
	if d.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, d.cfg.UnitTimeout)
		defer cancel()
	}

	r.Started = true
	ulog.Debug().Str("command", r.Command.String()).Msg("unit started")
	res, err := d.inv.Run(runCtx, r.Unit.Node, r.Command)
	r.Result = res
	if err != nil {
		r.Err = fmt.Errorf("%w: %w", model.ErrUnitFailed, err)
		if d.cfg.AbortOnUnitFailure {
			abort()
		}
		ulog.Warn().Err(err).Int("exit_code", res.ExitCode).Msg("unit failed")
		return
	}
	ulog.Debug().Dur("duration", res.Duration).Msg("unit succeeded")
}

func notAdmitted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: not started", model.ErrStepCancelled)
	}
	return err
}
