package model

import "sort"

// ParameterContext is the externally supplied set of template variables.
// Values are already stringified by the caller. A context never changes
// after construction.
type ParameterContext struct {
	values map[string]string
}

// NewParameterContext copies values into a new context.
func NewParameterContext(values map[string]string) ParameterContext {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return ParameterContext{values: copied}
}

// Lookup returns the value bound to name.
func (c ParameterContext) Lookup(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Names returns all variable names in sorted order.
func (c ParameterContext) Names() []string {
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of variables.
func (c ParameterContext) Len() int { return len(c.values) }

// With returns a new context with overrides applied on top of c.
func (c ParameterContext) With(overrides map[string]string) ParameterContext {
	merged := make(map[string]string, len(c.values)+len(overrides))
	for k, v := range c.values {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return ParameterContext{values: merged}
}
