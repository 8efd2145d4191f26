package records

import (
	"testing"

	"github.com/shopspring/decimal"
)

// TestRender verifies the output string form for every value kind a cast
// can produce, including plain notation for tiny decimals.
func TestRender(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "x", "x"},
		{"decimal plain", decimal.RequireFromString("0.00000001"), "0.00000001"},
		{"bool", true, "true"},
		{"int64", int64(-7), "-7"},
		{"int", 42, "42"},
		{"float", 3.5, "3.5"},
		{"float whole", 2.0, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.in); got != tt.want {
				t.Fatalf("Render(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestClone verifies the copy is independent of the original.
func TestClone(t *testing.T) {
	orig := Record{"id": int64(1), "note": nil}
	cp := orig.Clone()
	cp["id"] = int64(2)
	cp["extra"] = "x"

	if orig["id"] != int64(1) {
		t.Fatalf("original id = %v, want 1", orig["id"])
	}
	if _, ok := orig["extra"]; ok {
		t.Fatal("original gained a key from the clone")
	}
	if len(cp) != 3 {
		t.Fatalf("clone has %d keys, want 3", len(cp))
	}
}
