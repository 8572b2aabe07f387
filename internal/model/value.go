package model

import (
	"strconv"
	"strings"
)

// Kind identifies the decoded type of a parset value.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindFloat
	KindList
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindList:
		return "list"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Shape groups kinds for conflict detection: two assignments to the same
// path conflict only when their shapes differ.
type Shape int

const (
	ShapeScalar Shape = iota
	ShapeList
	ShapeDocument
)

func (s Shape) String() string {
	switch s {
	case ShapeList:
		return "list"
	case ShapeDocument:
		return "document"
	default:
		return "scalar"
	}
}

// Value is a decoded parset value: a scalar, an ordered list, or a nested
// document. The zero Value is the empty string.
type Value struct {
	kind Kind
	text string
	b    bool
	i    int64
	f    float64
	list []Value
	doc  *Document
}

// StringValue returns a string scalar.
func StringValue(s string) Value { return Value{kind: KindString, text: s} }

// BoolValue returns a boolean scalar.
func BoolValue(b bool) Value {
	text := "False"
	if b {
		text = "True"
	}
	return Value{kind: KindBool, b: b, text: text}
}

// IntValue returns an integer scalar.
func IntValue(i int64) Value {
	return Value{kind: KindInt, i: i, text: strconv.FormatInt(i, 10)}
}

// FloatValue returns a float scalar. text is the literal as written; when
// empty the shortest decimal form is used.
func FloatValue(f float64, text string) Value {
	if text == "" {
		text = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return Value{kind: KindFloat, f: f, text: text}
}

// IntLiteral returns an integer scalar that keeps its literal spelling.
func IntLiteral(i int64, text string) Value {
	v := IntValue(i)
	if text != "" {
		v.text = text
	}
	return v
}

// ListValue returns an ordered list. The slice is copied.
func ListValue(items ...Value) Value {
	copied := make([]Value, len(items))
	copy(copied, items)
	return Value{kind: KindList, list: copied}
}

// DocumentValue wraps a nested document.
func DocumentValue(d *Document) Value {
	if d == nil {
		d = emptyDocument()
	}
	return Value{kind: KindDocument, doc: d}
}

func (v Value) Kind() Kind { return v.kind }

// Shape returns the conflict-detection group of v.
func (v Value) Shape() Shape {
	switch v.kind {
	case KindList:
		return ShapeList
	case KindDocument:
		return ShapeDocument
	default:
		return ShapeScalar
	}
}

func (v Value) IsScalar() bool { return v.Shape() == ShapeScalar }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the numeric value of an int or float scalar.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsList returns a copy of the list items.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	items := make([]Value, len(v.list))
	copy(items, v.list)
	return items, true
}

func (v Value) AsDocument() (*Document, bool) {
	if v.kind != KindDocument {
		return nil, false
	}
	return v.doc, true
}

// Strings returns the text of every item of a list value. A scalar yields a
// one-element slice.
func (v Value) Strings() []string {
	switch v.kind {
	case KindList:
		out := make([]string, len(v.list))
		for i, item := range v.list {
			out[i] = item.String()
		}
		return out
	case KindDocument:
		return nil
	default:
		return []string{v.String()}
	}
}

// String returns the plain text of a scalar, or the literal form of a list
// or document.
func (v Value) String() string {
	switch v.kind {
	case KindList, KindDocument:
		return v.Literal()
	default:
		return v.text
	}
}

// Literal returns text that decodes back to v.
func (v Value) Literal() string {
	switch v.kind {
	case KindString:
		return quoteIfNeeded(v.text)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.Literal()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindDocument:
		keys := v.doc.Keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			item, _ := v.doc.Get(k)
			parts[i] = k + ": " + item.Literal()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return v.text
	}
}

// Interface converts v to plain Go values: string, bool, int64, float64,
// []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindDocument:
		return v.doc.Interface()
	default:
		return v.text
	}
}

// Equal reports whether v and o hold the same decoded content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindDocument:
		return v.doc.Equal(o.doc)
	default:
		return v.text == o.text
	}
}

func quoteIfNeeded(s string) string {
	if !needsQuoting(s) {
		return s
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	return `"` + s + `"`
}

func needsQuoting(s string) bool {
	if s == "" || s == "True" || s == "False" {
		return true
	}
	if strings.TrimSpace(s) != s {
		return true
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return true
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	return strings.ContainsAny(s, `,[]{}:"'`)
}
