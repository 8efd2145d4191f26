package postgres

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"tabular/pkg/records"
)

// TestQuoteIdent verifies identifier quoting, including embedded quotes.
func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"orders", `"orders"`},
		{"order id", `"order id"`},
		{`we"ird`, `"we""ird"`},
	}
	for _, tt := range tests {
		if got := quoteIdent(tt.in); got != tt.want {
			t.Fatalf("quoteIdent(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// TestRenderArgs verifies COPY argument rendering: nulls stay nil, every
// other value renders to its output string form in column order.
func TestRenderArgs(t *testing.T) {
	row := records.Record{
		"id":     int64(7),
		"price":  decimal.RequireFromString("0.1"),
		"active": true,
		"note":   nil,
	}
	got := renderArgs(row, []string{"id", "price", "active", "note", "missing"})
	want := []any{"7", "0.1", "true", nil, nil}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("renderArgs = %v, want %v", got, want)
	}
}
