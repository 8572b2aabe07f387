package model

import (
	"fmt"
	"strings"
)

// Document is an ordered tree of parset values keyed by path segment.
// Documents are immutable; use DocumentBuilder to assemble one.
type Document struct {
	keys   []string
	values map[string]Value
}

// Field is one leaf of a flattened document.
type Field struct {
	Path  string
	Value Value
}

func emptyDocument() *Document {
	return &Document{values: make(map[string]Value)}
}

// Keys returns the direct child keys in first-seen order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of direct children.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Get looks up a dotted path.
func (d *Document) Get(path string) (Value, bool) {
	if d == nil || path == "" {
		return Value{}, false
	}
	segs := strings.Split(path, ".")
	cur := d
	for i, seg := range segs {
		v, ok := cur.values[seg]
		if !ok {
			return Value{}, false
		}
		if i == len(segs)-1 {
			return v, true
		}
		if v.kind != KindDocument {
			return Value{}, false
		}
		cur = v.doc
	}
	return Value{}, false
}

// Has reports whether path is present.
func (d *Document) Has(path string) bool {
	_, ok := d.Get(path)
	return ok
}

// Sub returns the nested document at path.
func (d *Document) Sub(path string) (*Document, bool) {
	v, ok := d.Get(path)
	if !ok || v.kind != KindDocument {
		return nil, false
	}
	return v.doc, true
}

// Text returns the text of the value at path, or "" when absent.
func (d *Document) Text(path string) string {
	v, ok := d.Get(path)
	if !ok {
		return ""
	}
	return v.String()
}

// Flatten returns every leaf in depth-first, first-seen order. Empty nested
// documents are returned as leaves so that they survive a round trip.
func (d *Document) Flatten() []Field {
	var out []Field
	d.flatten("", &out)
	return out
}

func (d *Document) flatten(prefix string, out *[]Field) {
	if d == nil {
		return
	}
	for _, k := range d.keys {
		v := d.values[k]
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if v.kind == KindDocument && v.doc.Len() > 0 {
			v.doc.flatten(path, out)
			continue
		}
		*out = append(*out, Field{Path: path, Value: v})
	}
}

// Interface converts the document to a map of plain Go values.
func (d *Document) Interface() map[string]any {
	out := make(map[string]any, d.Len())
	if d == nil {
		return out
	}
	for _, k := range d.keys {
		out[k] = d.values[k].Interface()
	}
	return out
}

// Equal reports whether both documents hold the same keys, order and values.
func (d *Document) Equal(o *Document) bool {
	if d.Len() != o.Len() {
		return false
	}
	for i, k := range d.Keys() {
		if o.keys[i] != k {
			return false
		}
		if !d.values[k].Equal(o.values[k]) {
			return false
		}
	}
	return true
}

func (d *Document) put(key string, v Value) {
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// DocumentBuilder merges dotted-path assignments into a Document. The last
// assignment to a path wins unless it changes the value's shape.
type DocumentBuilder struct {
	root *Document
}

// NewDocumentBuilder returns an empty builder.
func NewDocumentBuilder() *DocumentBuilder {
	return &DocumentBuilder{root: emptyDocument()}
}

// Set assigns v at the dotted path. Document values are merged key by key.
func (b *DocumentBuilder) Set(path string, v Value) error {
	if b.root == nil {
		return fmt.Errorf("document builder already built")
	}
	segs := strings.Split(path, ".")
	for _, seg := range segs {
		if seg == "" {
			return &ParseError{Kind: ErrMalformedLiteral, Key: path, Msg: "empty key segment"}
		}
	}
	return b.set(b.root, segs, path, v)
}

func (b *DocumentBuilder) set(d *Document, segs []string, path string, v Value) error {
	for i, seg := range segs[:len(segs)-1] {
		cur, ok := d.values[seg]
		if !ok {
			child := emptyDocument()
			d.put(seg, Value{kind: KindDocument, doc: child})
			d = child
			continue
		}
		if cur.kind != KindDocument {
			return &ParseError{
				Kind: ErrDuplicateKeyConflict,
				Key:  path,
				Msg:  fmt.Sprintf("%s is a %s, cannot hold sub-keys", strings.Join(segs[:i+1], "."), cur.Shape()),
			}
		}
		d = cur.doc
	}

	last := segs[len(segs)-1]
	cur, exists := d.values[last]
	if exists && cur.Shape() != v.Shape() {
		return &ParseError{
			Kind: ErrDuplicateKeyConflict,
			Key:  path,
			Msg:  fmt.Sprintf("%s reassigned from %s to %s", path, cur.Shape(), v.Shape()),
		}
	}

	if v.kind != KindDocument {
		d.put(last, v)
		return nil
	}

	// Merge a document literal into the tree so that later dotted keys and
	// earlier ones combine instead of replacing each other.
	target := cur.doc
	if !exists {
		target = emptyDocument()
		d.put(last, Value{kind: KindDocument, doc: target})
	}
	for _, k := range v.doc.keys {
		if err := b.set(target, []string{k}, path+"."+k, v.doc.values[k]); err != nil {
			return err
		}
	}
	return nil
}

// Build returns the assembled document. The builder cannot be used after.
func (b *DocumentBuilder) Build() *Document {
	d := b.root
	b.root = nil
	if d == nil {
		return emptyDocument()
	}
	return d
}
