// Package records defines the row value container shared by parsers, the
// row pipeline, and output sinks.
package records

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Record maps output column names to extracted, typed values. Values are one
// of: nil, string, int64, float64, bool, decimal.Decimal, or a JSON-encoded
// string for structural field types. A Record is scoped to a single input
// row; sinks render it and never retain it.
type Record map[string]any

// Clone returns a shallow copy of the record, for consumers that need to
// retain row values past the write call.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Render converts a value to its output string form. Decimals render in
// plain fixed notation, never exponential; nil renders as the empty string.
// Formula interpolation and every sink use this one function so computed
// hashes match what lands on disk.
func Render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case decimal.Decimal:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		if s, ok := t.(interface{ String() string }); ok {
			return s.String()
		}
		return fmt.Sprintf("%v", t)
	}
}
