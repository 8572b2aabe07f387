package parset

import (
	"strings"

	"github.com/sourceplane/mapflow/internal/model"
)

// Encode writes doc back in flat key = value form. Parsing the result yields
// a document equal to doc.
func Encode(doc *model.Document) string {
	var sb strings.Builder
	for _, f := range doc.Flatten() {
		sb.WriteString(f.Path)
		sb.WriteString(" = ")
		sb.WriteString(f.Value.Literal())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// EncodePrefixed encodes doc with every key placed under prefix.
func EncodePrefixed(prefix string, doc *model.Document) string {
	var sb strings.Builder
	for _, f := range doc.Flatten() {
		sb.WriteString(prefix)
		sb.WriteByte('.')
		sb.WriteString(f.Path)
		sb.WriteString(" = ")
		sb.WriteString(f.Value.Literal())
		sb.WriteByte('\n')
	}
	return sb.String()
}
