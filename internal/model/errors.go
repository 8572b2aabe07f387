package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by the engine wraps exactly one of these,
// so callers can classify failures with errors.Is.
var (
	// Template rendering
	ErrUnresolvedVariable = errors.New("unresolved variable")
	ErrCyclicReference    = errors.New("cyclic reference")

	// Parset parsing
	ErrMalformedLiteral     = errors.New("malformed literal")
	ErrDuplicateKeyConflict = errors.New("duplicate key conflict")

	// Step graph building
	ErrMissingStepList          = errors.New("missing step list")
	ErrDuplicateStepID          = errors.New("duplicate step id")
	ErrUnsupportedStepKind      = errors.New("unsupported step kind")
	ErrUnsupportedRecipeType    = errors.New("unsupported recipe type")
	ErrInvalidStepOptions       = errors.New("invalid step options")
	ErrUnresolvedDataDependency = errors.New("unresolved data dependency")

	// Execution
	ErrMapFileNotFound      = errors.New("mapfile not found")
	ErrMapFileArityMismatch = errors.New("mapfile arity mismatch")
	ErrUnknownNode          = errors.New("unknown node")
	ErrUnitFailed           = errors.New("unit failed")
	ErrStepCancelled        = errors.New("step cancelled")
)

// TemplateError reports a failure to render a template.
type TemplateError struct {
	Kind error
	// Name is the variable or key that could not be resolved.
	Name string
	// Line is the 1-based template line, 0 when unknown.
	Line int
	// Missing lists every unresolved name, in order of first use.
	Missing []string
	// Chain is the reference cycle for ErrCyclicReference.
	Chain []string
}

func (e *TemplateError) Error() string {
	var sb strings.Builder
	sb.WriteString("template: ")
	sb.WriteString(e.Kind.Error())
	if len(e.Chain) > 0 {
		fmt.Fprintf(&sb, ": %s", strings.Join(e.Chain, " -> "))
	} else if e.Name != "" {
		fmt.Fprintf(&sb, " %q", e.Name)
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, " at line %d", e.Line)
	}
	if len(e.Missing) > 1 {
		fmt.Fprintf(&sb, " (missing: %s)", strings.Join(e.Missing, ", "))
	}
	return sb.String()
}

func (e *TemplateError) Unwrap() error { return e.Kind }

// ParseError reports a failure to decode a rendered parset.
type ParseError struct {
	Kind error
	Line int
	Key  string
	Msg  string
}

func (e *ParseError) Error() string {
	var sb strings.Builder
	sb.WriteString("parset: ")
	sb.WriteString(e.Kind.Error())
	if e.Line > 0 {
		fmt.Fprintf(&sb, " at line %d", e.Line)
	}
	if e.Key != "" {
		fmt.Fprintf(&sb, " (key %s)", e.Key)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	return sb.String()
}

func (e *ParseError) Unwrap() error { return e.Kind }

// BuildError reports an invalid pipeline definition.
type BuildError struct {
	Kind error
	Step string
	Msg  string
	Err  error
}

func (e *BuildError) Error() string {
	var sb strings.Builder
	sb.WriteString("build: ")
	sb.WriteString(e.Kind.Error())
	if e.Step != "" {
		fmt.Fprintf(&sb, " in step %s", e.Step)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Unwrap exposes both the kind and the underlying cause.
func (e *BuildError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// UnitFailure describes one failed unit of work within a step.
type UnitFailure struct {
	Index int
	Node  string
	Path  string
	Err   error
}

// RuntimeError reports a failure while executing a pipeline.
type RuntimeError struct {
	Kind error
	Step string
	Node string
	Path string
	Msg  string
	// Units holds every failed unit of the step, in unit order.
	Units []UnitFailure
	Err   error
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	sb.WriteString("run: ")
	sb.WriteString(e.Kind.Error())
	if e.Step != "" {
		fmt.Fprintf(&sb, " in step %s", e.Step)
	}
	node, path, cause := e.Node, e.Path, e.Err
	if len(e.Units) > 0 {
		first := e.Units[0]
		node, path, cause = first.Node, first.Path, first.Err
		if len(e.Units) > 1 {
			fmt.Fprintf(&sb, " (%d units failed)", len(e.Units))
		}
	}
	if node != "" {
		fmt.Fprintf(&sb, " on node %s", node)
	}
	if path != "" {
		fmt.Fprintf(&sb, " for %s", path)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if cause != nil {
		fmt.Fprintf(&sb, ": %v", cause)
	}
	return sb.String()
}

// Unwrap exposes both the kind and the underlying cause.
func (e *RuntimeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsPreExecution reports whether err was raised before any tool could have
// been invoked (template, parse or build failures).
func IsPreExecution(err error) bool {
	var te *TemplateError
	var pe *ParseError
	var be *BuildError
	return errors.As(err, &te) || errors.As(err, &pe) || errors.As(err, &be)
}
