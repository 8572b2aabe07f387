package parset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sourceplane/mapflow/internal/model"
)

// DecodeLiteral decodes the right-hand side of a parset assignment.
//
// Recognized forms: True/False, [a, b, ...] lists (nested), {k: v, ...}
// mappings, quoted strings, integers, floats. Anything else is a bare string.
func DecodeLiteral(raw string) (model.Value, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return model.StringValue(""), nil
	}

	switch s[0] {
	case '[', '{', '"', '\'':
		d := &decoder{s: s}
		v, err := d.value()
		if err != nil {
			return model.Value{}, err
		}
		d.skipSpace()
		if d.pos != len(d.s) {
			return model.Value{}, malformed("unexpected %q after position %d", d.s[d.pos:], d.pos)
		}
		return v, nil
	default:
		if strings.ContainsAny(s[len(s)-1:], "]}") && !strings.ContainsAny(s, "[{") {
			return model.Value{}, malformed("unbalanced closing bracket in %q", s)
		}
		return decodeScalar(s), nil
	}
}

func malformed(format string, args ...any) *model.ParseError {
	return &model.ParseError{Kind: model.ErrMalformedLiteral, Msg: fmt.Sprintf(format, args...)}
}

type decoder struct {
	s   string
	pos int
}

func (d *decoder) skipSpace() {
	for d.pos < len(d.s) && (d.s[d.pos] == ' ' || d.s[d.pos] == '\t') {
		d.pos++
	}
}

func (d *decoder) peek() byte {
	if d.pos >= len(d.s) {
		return 0
	}
	return d.s[d.pos]
}

func (d *decoder) value() (model.Value, error) {
	d.skipSpace()
	switch d.peek() {
	case '[':
		return d.list()
	case '{':
		return d.mapping()
	case '"', '\'':
		s, err := d.quoted()
		if err != nil {
			return model.Value{}, err
		}
		return model.StringValue(s), nil
	case 0:
		return model.Value{}, malformed("unexpected end of %q", d.s)
	default:
		tok, err := d.bare(",]}")
		if err != nil {
			return model.Value{}, err
		}
		return decodeScalar(tok), nil
	}
}

func (d *decoder) list() (model.Value, error) {
	d.pos++ // [
	d.skipSpace()
	if d.peek() == ']' {
		d.pos++
		return model.ListValue(), nil
	}

	var items []model.Value
	for {
		item, err := d.value()
		if err != nil {
			return model.Value{}, err
		}
		items = append(items, item)

		d.skipSpace()
		switch d.peek() {
		case ',':
			d.pos++
		case ']':
			d.pos++
			return model.ListValue(items...), nil
		case 0:
			return model.Value{}, malformed("unterminated list in %q", d.s)
		default:
			return model.Value{}, malformed("expected ',' or ']' at position %d in %q", d.pos, d.s)
		}
	}
}

func (d *decoder) mapping() (model.Value, error) {
	d.pos++ // {
	b := model.NewDocumentBuilder()
	d.skipSpace()
	if d.peek() == '}' {
		d.pos++
		return model.DocumentValue(b.Build()), nil
	}

	for {
		d.skipSpace()
		var key string
		var err error
		if c := d.peek(); c == '"' || c == '\'' {
			key, err = d.quoted()
		} else {
			key, err = d.bare(":,}")
		}
		if err != nil {
			return model.Value{}, err
		}
		if key == "" || strings.Contains(key, ".") {
			return model.Value{}, malformed("invalid mapping key %q in %q", key, d.s)
		}

		d.skipSpace()
		if d.peek() != ':' {
			return model.Value{}, malformed("expected ':' after key %q in %q", key, d.s)
		}
		d.pos++

		v, err := d.value()
		if err != nil {
			return model.Value{}, err
		}
		if err := b.Set(key, v); err != nil {
			return model.Value{}, err
		}

		d.skipSpace()
		switch d.peek() {
		case ',':
			d.pos++
		case '}':
			d.pos++
			return model.DocumentValue(b.Build()), nil
		case 0:
			return model.Value{}, malformed("unterminated mapping in %q", d.s)
		default:
			return model.Value{}, malformed("expected ',' or '}' at position %d in %q", d.pos, d.s)
		}
	}
}

func (d *decoder) quoted() (string, error) {
	q := d.s[d.pos]
	end := strings.IndexByte(d.s[d.pos+1:], q)
	if end < 0 {
		return "", malformed("unterminated quoted string in %q", d.s)
	}
	s := d.s[d.pos+1 : d.pos+1+end]
	d.pos += end + 2
	return s, nil
}

// bare scans an unquoted token up to one of stops. Parentheses group, so a
// tuple such as (70, 20) stays one token.
func (d *decoder) bare(stops string) (string, error) {
	start := d.pos
	depth := 0
	for d.pos < len(d.s) {
		c := d.s[d.pos]
		switch {
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '[' || c == '{':
			return "", malformed("unexpected %q inside token at position %d in %q", c, d.pos, d.s)
		case depth <= 0 && strings.IndexByte(stops, c) >= 0:
			return d.token(start)
		}
		d.pos++
	}
	return d.token(start)
}

func (d *decoder) token(start int) (string, error) {
	tok := strings.TrimSpace(d.s[start:d.pos])
	if tok == "" {
		return "", malformed("empty element at position %d in %q", start, d.s)
	}
	return tok, nil
}

func decodeScalar(tok string) model.Value {
	switch tok {
	case "True":
		return model.BoolValue(true)
	case "False":
		return model.BoolValue(false)
	}
	if !looksNumeric(tok) {
		return model.StringValue(tok)
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return model.IntLiteral(i, tok)
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return model.FloatValue(f, tok)
	}
	return model.StringValue(tok)
}

// looksNumeric rejects tokens strconv would accept but a parset means as
// words, such as "inf" or "nan".
func looksNumeric(tok string) bool {
	c := tok[0]
	if c == '+' || c == '-' {
		if len(tok) == 1 {
			return false
		}
		c = tok[1]
	}
	return (c >= '0' && c <= '9') || c == '.'
}
