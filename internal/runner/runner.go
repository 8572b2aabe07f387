// Package runner drives the steps of a pipeline definition in declared
// order, linking each step's output mapfile to the steps that consume it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sourceplane/mapflow/internal/cluster"
	"github.com/sourceplane/mapflow/internal/dispatch"
	"github.com/sourceplane/mapflow/internal/fsutil"
	"github.com/sourceplane/mapflow/internal/mapfile"
	"github.com/sourceplane/mapflow/internal/model"
	"github.com/sourceplane/mapflow/internal/parset"
	"github.com/sourceplane/mapflow/internal/planner"
)

// Dispatcher executes the units of one step.
type Dispatcher interface {
	Units(step *model.Step, inputs []*model.MapFile) []dispatch.Unit
	Dispatch(ctx context.Context, step *model.Step, units []dispatch.Unit) []dispatch.UnitResult
}

// StepResult is the outcome of one step.
type StepResult struct {
	ID    string
	State StepState
	// Output is set once the step succeeded.
	Output model.Handle
	// Restored is true when a resumed run reused the output of an earlier run.
	Restored bool
	Units    []dispatch.UnitResult
	Err      error

	startedAt  time.Time
	finishedAt time.Time
}

func (s *StepResult) transition(to StepState) error {
	if !canTransition(s.State, to) {
		return fmt.Errorf("step %s: illegal transition %s -> %s", s.ID, s.State, to)
	}
	s.State = to
	return nil
}

// RunResult collects the step outcomes of a run, in declared order.
type RunResult struct {
	RunID string
	// Dir is the run-state directory, empty when state is not persisted.
	Dir   string
	Steps []*StepResult
}

// Step returns the result of step id.
func (r *RunResult) Step(id string) (*StepResult, bool) {
	for _, s := range r.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Succeeded reports whether every step succeeded.
func (r *RunResult) Succeeded() bool {
	for _, s := range r.Steps {
		if s.State != StateSucceeded {
			return false
		}
	}
	return true
}

type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithStateDir persists run state under dir/<run-id>.
func WithStateDir(dir string) Option {
	return func(r *Runner) { r.stateDir = dir }
}

// WithResume continues the run whose state is stored in runDir. Steps that
// succeeded there and whose output mapfile can still be read are not run
// again, unless a step they depend on is.
func WithResume(runDir string) Option {
	return func(r *Runner) { r.resumeDir = runDir }
}

// WithDefinitionText records text as the persisted definition instead of
// re-encoding the parsed document.
func WithDefinitionText(text string) Option {
	return func(r *Runner) { r.definition = text }
}

// Runner executes a pipeline definition.
type Runner struct {
	def        *model.PipelineDefinition
	store      *mapfile.Store
	dispatcher Dispatcher
	inv        cluster.Inventory
	graph      *planner.StepGraph

	logger     zerolog.Logger
	stateDir   string
	resumeDir  string
	definition string
}

// New creates a runner for def.
func New(def *model.PipelineDefinition, store *mapfile.Store, dispatcher Dispatcher, inv cluster.Inventory, opts ...Option) *Runner {
	r := &Runner{
		def:        def,
		store:      store,
		dispatcher: dispatcher,
		inv:        inv,
		graph:      planner.NewStepGraph(def),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run validates the external inputs and then executes the steps one after
// another. The first failing step stops the run; later steps stay pending.
// The returned result is non-nil whenever the run got past setup.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	res := &RunResult{RunID: uuid.NewString()}
	for _, step := range r.def.Steps() {
		res.Steps = append(res.Steps, &StepResult{ID: step.ID, State: StatePending})
	}

	var previous *runState
	if r.resumeDir != "" {
		st, err := loadState(r.resumeDir)
		if err != nil {
			return nil, err
		}
		previous = st
		res.RunID = st.RunID
		res.Dir = r.resumeDir
	} else if r.stateDir != "" {
		res.Dir = filepath.Join(r.stateDir, res.RunID)
	}

	log := r.logger.With().Str("component", "runner").Str("run_id", res.RunID).Logger()

	if err := r.preflight(); err != nil {
		log.Error().Err(err).Msg("preflight failed")
		return res, err
	}

	st := &runState{RunID: res.RunID, StartedAt: time.Now()}
	if previous != nil {
		st.StartedAt = previous.StartedAt
	}
	if err := r.initRunDir(res.Dir, st, res); err != nil {
		return res, err
	}

	log.Info().Int("steps", r.def.Len()).Str("dir", res.Dir).Msg("run started")

	rerun := make(map[string]bool)
	for i, step := range r.def.Steps() {
		sr := res.Steps[i]
		slog := log.With().Str("step", step.ID).Logger()

		if previous != nil && !rerun[step.ID] && r.restore(step, sr, previous, slog) {
			if err := r.persist(res, st); err != nil {
				return res, err
			}
			continue
		}
		if previous != nil {
			for _, id := range r.graph.TransitiveDependents(step.ID) {
				rerun[id] = true
			}
		}

		if err := ctx.Err(); err != nil {
			err = &model.RuntimeError{Kind: model.ErrStepCancelled, Step: step.ID, Msg: "run cancelled before the step started", Err: err}
			slog.Warn().Err(err).Msg("run cancelled")
			return res, err
		}

		stepErr := r.runStep(ctx, step, sr, res, st, slog)
		if err := r.persist(res, st); err != nil && stepErr == nil {
			stepErr = err
		}
		if stepErr != nil {
			return res, stepErr
		}
	}

	log.Info().Msg("run succeeded")
	return res, nil
}

// preflight resolves every external input and checks arity and nodes
// before anything is invoked.
func (r *Runner) preflight() error {
	lengths := make(map[string]int)
	for _, ref := range r.def.ExternalInputs() {
		mf, err := r.store.Resolve(ref)
		if err != nil {
			return err
		}
		lengths[ref.Name] = mf.Len()
		for _, node := range mf.Nodes() {
			if !cluster.HasNode(r.inv, node) {
				return &model.RuntimeError{
					Kind: model.ErrUnknownNode,
					Node: node,
					Path: ref.Name,
					Msg:  "node is not in the inventory",
				}
			}
		}
	}

	// Every output has one entry per entry of its step's primary input, so
	// pairing can be checked for all steps before any of them runs.
	for _, step := range r.def.Steps() {
		inputs := step.Control.Inputs
		if len(inputs) == 0 {
			continue
		}
		first, ok := lengths[inputs[0].Name]
		if !ok {
			continue
		}
		for _, in := range inputs[1:] {
			n, ok := lengths[in.Name]
			if ok && n != first {
				return &model.RuntimeError{
					Kind: model.ErrMapFileArityMismatch,
					Step: step.ID,
					Msg:  fmt.Sprintf("%s has %d entries, %s has %d", inputs[0].Name, first, in.Name, n),
				}
			}
		}
		lengths[step.Output().Name] = first
	}
	return nil
}

func (r *Runner) restore(step *model.Step, sr *StepResult, previous *runState, log zerolog.Logger) bool {
	snap, ok := previous.step(step.ID)
	if !ok || snap.State != StateSucceeded || snap.Output == "" {
		return false
	}
	h, err := r.store.Restore(step.ID, snap.Output)
	if err != nil {
		log.Info().Err(err).Msg("previous output unavailable, running step again")
		return false
	}
	if err := sr.transition(StateSucceeded); err != nil {
		return false
	}
	sr.Output = h
	sr.Restored = true
	sr.startedAt, sr.finishedAt = snap.StartedAt, snap.FinishedAt
	log.Info().Str("mapfile", h.Path).Msg("step restored from previous run")
	return true
}

func (r *Runner) runStep(ctx context.Context, step *model.Step, sr *StepResult, res *RunResult, st *runState, log zerolog.Logger) error {
	sr.startedAt = time.Now()
	fail := func(err error) error {
		sr.Err = err
		sr.finishedAt = time.Now()
		if terr := sr.transition(StateFailed); terr != nil {
			return errors.Join(err, terr)
		}
		log.Error().Err(err).Msg("step failed")
		return err
	}

	if err := sr.transition(StateDispatching); err != nil {
		return err
	}
	if err := r.persist(res, st); err != nil {
		return fail(err)
	}

	inputs, err := r.store.ResolveAll(step.Control.Inputs)
	if err != nil {
		return fail(withStep(err, step.ID))
	}
	units := r.dispatcher.Units(step, inputs)
	for _, u := range units {
		if !cluster.HasNode(r.inv, u.Node) {
			return fail(&model.RuntimeError{
				Kind: model.ErrUnknownNode,
				Step: step.ID,
				Node: u.Node,
				Path: u.Inputs[0],
				Msg:  "node is not in the inventory",
			})
		}
	}

	if err := sr.transition(StateRunning); err != nil {
		return fail(err)
	}
	log.Info().Int("units", len(units)).Str("recipe", step.Recipe.String()).Msg("step started")

	results := r.dispatcher.Dispatch(ctx, step, units)
	sr.Units = results
	if err := stepFailure(ctx, step, results); err != nil {
		return fail(err)
	}

	entries := make([]model.Entry, len(units))
	for i, u := range units {
		entries[i] = model.Entry{Node: u.Node, Path: u.Output, Skip: u.Skip}
	}
	h, err := r.store.CreateAt(step.ID, step.Control.MapFileOut, entries)
	if err != nil {
		return fail(&model.RuntimeError{Kind: model.ErrUnitFailed, Step: step.ID, Msg: "failed to record output mapfile", Err: err})
	}

	sr.Output = h
	sr.finishedAt = time.Now()
	if err := sr.transition(StateSucceeded); err != nil {
		return err
	}
	log.Info().
		Str("mapfile", h.Name).
		Str("path", h.Path).
		Dur("duration", sr.finishedAt.Sub(sr.startedAt)).
		Msg("step succeeded")
	return nil
}

// stepFailure builds the error of a step with failed units, or returns nil
// when every unit succeeded. Units that were never started are only reported
// when no unit actually failed.
func stepFailure(ctx context.Context, step *model.Step, results []dispatch.UnitResult) error {
	var failed, cancelled []model.UnitFailure
	for _, ur := range results {
		if !ur.Failed() {
			continue
		}
		f := model.UnitFailure{Index: ur.Unit.Index, Node: ur.Unit.Node, Path: ur.Unit.Output, Err: ur.Err}
		if errors.Is(ur.Err, model.ErrStepCancelled) {
			cancelled = append(cancelled, f)
		} else {
			failed = append(failed, f)
		}
	}
	if len(failed) == 0 && len(cancelled) == 0 {
		return nil
	}

	// Cancellation only counts when it kept some unit from starting.
	kind := model.ErrUnitFailed
	if ctx.Err() != nil && len(cancelled) > 0 {
		kind = model.ErrStepCancelled
	}
	units := failed
	if len(units) == 0 {
		units = cancelled
	}
	return &model.RuntimeError{Kind: kind, Step: step.ID, Units: units}
}

func withStep(err error, stepID string) error {
	var re *model.RuntimeError
	if errors.As(err, &re) && re.Step == "" {
		re.Step = stepID
	}
	return err
}

func (r *Runner) initRunDir(dir string, st *runState, res *RunResult) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	text := r.definition
	if text == "" && r.def.Source() != nil {
		text = parset.Encode(r.def.Source())
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, definitionFile), []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to persist definition: %w", err)
	}
	return r.persist(res, st)
}

func (r *Runner) persist(res *RunResult, st *runState) error {
	if res.Dir == "" {
		return nil
	}
	st.UpdatedAt = time.Now()
	st.Steps = st.Steps[:0]
	for _, sr := range res.Steps {
		snap := stepSnapshot{
			ID:         sr.ID,
			State:      sr.State,
			Output:     sr.Output.Path,
			Restored:   sr.Restored,
			StartedAt:  sr.startedAt,
			FinishedAt: sr.finishedAt,
		}
		if sr.Err != nil {
			snap.Error = sr.Err.Error()
		}
		st.Steps = append(st.Steps, snap)
	}
	return saveState(res.Dir, st)
}
