package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sourceplane/mapflow/internal/fsutil"
)

// StepState is the lifecycle state of one step within a run.
type StepState string

const (
	StatePending     StepState = "pending"
	StateDispatching StepState = "dispatching"
	StateRunning     StepState = "running"
	StateSucceeded   StepState = "succeeded"
	StateFailed      StepState = "failed"
)

// A pending step may go straight to succeeded when a resumed run restores
// its output.
var transitions = map[StepState][]StepState{
	StatePending:     {StateDispatching, StateSucceeded},
	StateDispatching: {StateRunning, StateFailed},
	StateRunning:     {StateSucceeded, StateFailed},
}

// Terminal reports whether no further transition is possible.
func (s StepState) Terminal() bool { return s == StateSucceeded || s == StateFailed }

func canTransition(from, to StepState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const (
	stateFile      = "state.yaml"
	definitionFile = "definition.parset"
)

// runState is the persisted form of a run, stored as state.yaml in the run
// directory.
type runState struct {
	RunID     string         `yaml:"run_id"`
	StartedAt time.Time      `yaml:"started_at"`
	UpdatedAt time.Time      `yaml:"updated_at"`
	Steps     []stepSnapshot `yaml:"steps"`
}

type stepSnapshot struct {
	ID         string    `yaml:"id"`
	State      StepState `yaml:"state"`
	Output     string    `yaml:"output,omitempty"`
	Restored   bool      `yaml:"restored,omitempty"`
	StartedAt  time.Time `yaml:"started_at,omitempty"`
	FinishedAt time.Time `yaml:"finished_at,omitempty"`
	Error      string    `yaml:"error,omitempty"`
}

func (s *runState) step(id string) (stepSnapshot, bool) {
	for _, snap := range s.Steps {
		if snap.ID == id {
			return snap, true
		}
	}
	return stepSnapshot{}, false
}

func loadState(dir string) (*runState, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}
	var st runState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode run state %s: %w", dir, err)
	}
	return &st, nil
}

func saveState(dir string, st *runState) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, stateFile), data, 0o644)
}
