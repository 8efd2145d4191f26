package csvout

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"tabular/internal/config"
	"tabular/internal/sink"
	"tabular/pkg/records"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

// TestWriter_RowsAndRendering verifies lazy per-record file creation, the
// header line, and value rendering for the types a cast produces.
func TestWriter_RowsAndRendering(t *testing.T) {
	dir := t.TempDir()
	w, err := New(sink.Config{Dir: dir, FlushEveryRow: true})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}

	cols := []string{"id", "price", "active", "note"}
	rows := []records.Record{
		{"id": int64(1), "price": decimal.RequireFromString("0.00000001"), "active": true, "note": "a,b"},
		{"id": int64(2), "price": 3.5, "active": false, "note": nil},
	}
	for _, row := range rows {
		if err := w.WriteRow("orders", row, cols); err != nil {
			t.Fatalf("WriteRow error = %v", err)
		}
	}
	if got := w.RowCount("orders"); got != 2 {
		t.Fatalf("RowCount = %d, want 2", got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	got := readCSV(t, filepath.Join(dir, "orders.csv"))
	want := [][]string{
		{"id", "price", "active", "note"},
		{"1", "0.00000001", "true", "a,b"},
		{"2", "3.5", "false", ""},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("orders.csv = %v, want %v", got, want)
	}
}

// TestWriter_Rejected verifies the rejected destination carries the
// trailing _error_reason column in its own file.
func TestWriter_Rejected(t *testing.T) {
	dir := t.TempDir()
	w, err := New(sink.Config{Dir: dir, FlushEveryRow: true})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	cols := []string{"id", "qty"}
	row := records.Record{"id": nil, "qty": int64(200)}
	reason := "Field 'id' cannot be null; Field 'qty' value 200 above maximum 100"
	if err := w.WriteRejected("orders", row, reason, cols); err != nil {
		t.Fatalf("WriteRejected error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	got := readCSV(t, filepath.Join(dir, "orders_rejected.csv"))
	want := [][]string{
		{"id", "qty", "_error_reason"},
		{"", "200", reason},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("orders_rejected.csv = %v, want %v", got, want)
	}
	// no accepted rows were written
	if _, err := os.Stat(filepath.Join(dir, "orders.csv")); !os.IsNotExist(err) {
		t.Fatalf("orders.csv should not exist, stat err = %v", err)
	}
}

// TestWriter_FlushCadence verifies rows stay buffered until the cadence is
// hit when flush-per-row is off.
func TestWriter_FlushCadence(t *testing.T) {
	dir := t.TempDir()
	w, err := New(sink.Config{Dir: dir, FlushEvery: 2})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	cols := []string{"n"}
	path := filepath.Join(dir, "r.csv")

	if err := w.WriteRow("r", records.Record{"n": int64(1)}, cols); err != nil {
		t.Fatalf("WriteRow error = %v", err)
	}
	// only the header is flushed so far
	if got := readCSV(t, path); len(got) != 1 {
		t.Fatalf("after 1 row file has %d lines, want header only", len(got))
	}
	if err := w.WriteRow("r", records.Record{"n": int64(2)}, cols); err != nil {
		t.Fatalf("WriteRow error = %v", err)
	}
	if got := readCSV(t, path); len(got) != 3 {
		t.Fatalf("after 2 rows file has %d lines, want 3", len(got))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
}

// TestWriter_DialectOptions verifies the delimiter and crlf keys of
// output.options change the written dialect.
func TestWriter_DialectOptions(t *testing.T) {
	dir := t.TempDir()
	w, err := New(sink.Config{
		Dir:           dir,
		FlushEveryRow: true,
		Options:       config.Options{"delimiter": ";", "crlf": true},
	})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	cols := []string{"a", "b"}
	if err := w.WriteRow("r", records.Record{"a": "1", "b": "x;y"}, cols); err != nil {
		t.Fatalf("WriteRow error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "r.csv"))
	if err != nil {
		t.Fatalf("read r.csv: %v", err)
	}
	want := "a;b\r\n1;\"x;y\"\r\n"
	if string(raw) != want {
		t.Fatalf("r.csv = %q, want %q", raw, want)
	}
}

// TestWriter_Dedupe verifies duplicate accepted rows are dropped
// keep-first while distinct rows pass through.
func TestWriter_Dedupe(t *testing.T) {
	dir := t.TempDir()
	w, err := New(sink.Config{Dir: dir, FlushEveryRow: true, Dedupe: true})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	cols := []string{"a", "b"}
	for _, row := range []records.Record{
		{"a": "x", "b": "1"},
		{"a": "x", "b": "1"},
		{"a": "x", "b": "2"},
	} {
		if err := w.WriteRow("r", row, cols); err != nil {
			t.Fatalf("WriteRow error = %v", err)
		}
	}
	if got := w.RowCount("r"); got != 2 {
		t.Fatalf("RowCount = %d, want 2", got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if got := readCSV(t, filepath.Join(dir, "r.csv")); len(got) != 3 {
		t.Fatalf("r.csv has %d lines, want header plus 2 rows", len(got))
	}
}

// TestWriter_SchemaMismatch verifies a record cannot change column shape
// after its file is created.
func TestWriter_SchemaMismatch(t *testing.T) {
	w, err := New(sink.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if err := w.WriteRow("r", records.Record{"a": "1"}, []string{"a"}); err != nil {
		t.Fatalf("WriteRow error = %v", err)
	}
	if err := w.WriteRow("r", records.Record{"a": "1", "b": "2"}, []string{"a", "b"}); err == nil {
		t.Fatal("WriteRow with a different column set should fail")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
}

// TestWriter_ClosedWrites verifies Close is idempotent and writes after it
// fail.
func TestWriter_ClosedWrites(t *testing.T) {
	w, err := New(sink.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close error = %v", err)
	}
	if err := w.WriteRow("r", records.Record{"a": "1"}, []string{"a"}); err == nil {
		t.Fatal("WriteRow after Close should fail")
	}
}
