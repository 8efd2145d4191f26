package extract

import "testing"

// TestHeaderIndex verifies header mapping including BOM stripping on the
// first cell.
func TestHeaderIndex(t *testing.T) {
	idx := HeaderIndex([]string{"\uFEFFid", "name", "price"})
	if i, ok := idx["id"]; !ok || i != 0 {
		t.Fatalf("idx[id] = %d, %v; want 0, true", i, ok)
	}
	if i, ok := idx["price"]; !ok || i != 2 {
		t.Fatalf("idx[price] = %d, %v; want 2, true", i, ok)
	}
	if _, ok := idx["\uFEFFid"]; ok {
		t.Fatal("BOM-prefixed header should not survive")
	}
}

// TestResolveColumn covers both addressing modes.
func TestResolveColumn(t *testing.T) {
	idx := map[string]int{"name": 1}

	if i, ok := ResolveColumn("name", idx, true); !ok || i != 1 {
		t.Fatalf("by name = %d, %v; want 1, true", i, ok)
	}
	if _, ok := ResolveColumn("missing", idx, true); ok {
		t.Fatal("unknown header name should not resolve")
	}
	if i, ok := ResolveColumn("2", nil, false); !ok || i != 2 {
		t.Fatalf("by index = %d, %v; want 2, true", i, ok)
	}
	if _, ok := ResolveColumn("x", nil, false); ok {
		t.Fatal("non-numeric path without header should not resolve")
	}
}

// TestColumn verifies trimming and the nil result for a short row.
func TestColumn(t *testing.T) {
	cells := []string{" a ", "b"}
	if got := Column(cells, 0); got != "a" {
		t.Fatalf("Column(0) = %v, want a", got)
	}
	if got := Column(cells, 5); got != nil {
		t.Fatalf("Column(5) = %v, want nil", got)
	}
	if got := Column(cells, -1); got != nil {
		t.Fatalf("Column(-1) = %v, want nil", got)
	}
}

// TestPosition verifies span extraction with clamping: a span past the end
// of the line truncates, a start beyond the line yields no value.
func TestPosition(t *testing.T) {
	line := "AB  code42"

	tests := []struct {
		name   string
		span   Span
		want   string
		wantOK bool
	}{
		{"exact span", Span{0, 2}, "AB", true},
		{"trims padding", Span{2, 8}, "code", true},
		{"end clamped to line", Span{4, 99}, "code42", true},
		{"start at length", Span{10, 12}, "", false},
		{"start beyond length", Span{50, 60}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Position(line, tt.span)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("Position(%v) = %q, %v; want %q, %v", tt.span, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
