// Package render turns pipeline templates into rendered parsets and presents
// built pipeline definitions.
package render

import (
	"regexp"
	"strings"

	"github.com/sourceplane/mapflow/internal/model"
)

var (
	externalPattern  = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)
	referencePattern = regexp.MustCompile(`%\(([^()\s]+)\)s`)
)

// Render resolves a template against ctx. External {{ name }} placeholders
// are replaced first in a single pass; %(name)s references to other keys of
// the same document are then resolved against their final values.
func Render(text string, ctx model.ParameterContext) (string, error) {
	substituted, err := substituteExternal(text, ctx)
	if err != nil {
		return "", err
	}
	return resolveReferences(substituted)
}

func substituteExternal(text string, ctx model.ParameterContext) (string, error) {
	matches := externalPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var (
		sb        strings.Builder
		last      int
		missing   []string
		seen      = make(map[string]bool)
		firstLine int
	)
	for _, m := range matches {
		name := text[m[2]:m[3]]
		value, ok := ctx.Lookup(name)
		if !ok {
			if !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
			if firstLine == 0 {
				firstLine = strings.Count(text[:m[0]], "\n") + 1
			}
			continue
		}
		sb.WriteString(text[last:m[0]])
		sb.WriteString(value)
		last = m[1]
	}

	if len(missing) > 0 {
		return "", &model.TemplateError{
			Kind:    model.ErrUnresolvedVariable,
			Name:    missing[0],
			Line:    firstLine,
			Missing: missing,
		}
	}
	sb.WriteString(text[last:])
	return sb.String(), nil
}

// assignment is one key = value line of a template.
type assignment struct {
	line  int
	key   string
	split int // offset just past '='
}

func parseAssignment(raw string, lineNo int) (assignment, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return assignment{}, false
	}
	idx := strings.IndexByte(raw, '=')
	if idx < 0 {
		return assignment{}, false
	}
	key := strings.TrimSpace(raw[:idx])
	if key == "" {
		return assignment{}, false
	}
	return assignment{line: lineNo, key: key, split: idx + 1}, true
}

type resolver struct {
	values   map[string]string
	lines    map[string]int
	resolved map[string]string
	stack    []string
}

func resolveReferences(text string) (string, error) {
	if !strings.Contains(text, "%(") {
		return text, nil
	}

	lines := strings.Split(text, "\n")
	assigns := make([]*assignment, len(lines))
	r := &resolver{
		values:   make(map[string]string),
		lines:    make(map[string]int),
		resolved: make(map[string]string),
	}
	for i, raw := range lines {
		a, ok := parseAssignment(raw, i+1)
		if !ok {
			continue
		}
		assigns[i] = &a
		// Last write wins.
		r.values[a.key] = strings.TrimSpace(strings.TrimSuffix(raw[a.split:], "\r"))
		r.lines[a.key] = a.line
	}

	for i, a := range assigns {
		if a == nil {
			continue
		}
		raw := lines[i][a.split:]
		if !strings.Contains(raw, "%(") {
			continue
		}

		var value string
		var err error
		if r.lines[a.key] == a.line {
			value, err = r.value(a.key, a.line)
		} else {
			// Overwritten assignment: expanded for output only.
			value, err = r.expand(strings.TrimSpace(raw), a.line)
		}
		if err != nil {
			return "", err
		}
		lead := raw[:len(raw)-len(strings.TrimLeft(raw, " \t"))]
		lines[i] = lines[i][:a.split] + lead + value
	}
	return strings.Join(lines, "\n"), nil
}

// expand replaces every reference in s. line locates errors.
func (r *resolver) expand(s string, line int) (string, error) {
	var firstErr error
	out := referencePattern.ReplaceAllStringFunc(s, func(m string) string {
		if firstErr != nil {
			return m
		}
		name := referencePattern.FindStringSubmatch(m)[1]
		v, err := r.value(name, line)
		if err != nil {
			firstErr = err
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func (r *resolver) value(name string, line int) (string, error) {
	if v, ok := r.resolved[name]; ok {
		return v, nil
	}
	for i, k := range r.stack {
		if k == name {
			chain := append(append([]string{}, r.stack[i:]...), name)
			return "", &model.TemplateError{Kind: model.ErrCyclicReference, Name: name, Line: r.lines[name], Chain: chain}
		}
	}

	raw, ok := r.values[name]
	if !ok {
		return "", &model.TemplateError{Kind: model.ErrUnresolvedVariable, Name: name, Line: line, Missing: []string{name}}
	}

	r.stack = append(r.stack, name)
	v, err := r.expand(raw, r.lines[name])
	r.stack = r.stack[:len(r.stack)-1]
	if err != nil {
		return "", err
	}
	r.resolved[name] = v
	return v, nil
}
