// Package parset decodes rendered pipeline definitions: flat key = value
// documents whose dotted keys express nesting.
package parset

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sourceplane/mapflow/internal/model"
)

// Parse decodes a rendered parset into an immutable document.
func Parse(text string) (*model.Document, error) {
	b := model.NewDocumentBuilder()

	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &model.ParseError{Kind: model.ErrMalformedLiteral, Line: lineNo, Msg: fmt.Sprintf("missing '=' in %q", line)}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, &model.ParseError{Kind: model.ErrMalformedLiteral, Line: lineNo, Msg: "empty key"}
		}

		v, err := DecodeLiteral(value)
		if err != nil {
			return nil, locate(err, lineNo, key)
		}
		if err := b.Set(key, v); err != nil {
			return nil, locate(err, lineNo, key)
		}
	}

	return b.Build(), nil
}

// ParseReader reads r fully and parses it.
func ParseReader(r io.Reader) (*model.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read parset: %w", err)
	}
	return Parse(string(data))
}

func locate(err error, line int, key string) error {
	var pe *model.ParseError
	if errors.As(err, &pe) {
		located := *pe
		located.Line = line
		located.Key = key
		return &located
	}
	return err
}
