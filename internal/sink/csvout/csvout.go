// Package csvout is the default sink backend: one CSV file per record name
// under the output directory, plus <name>_rejected.csv carrying a trailing
// _error_reason column for rows that failed validation.
package csvout

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/xxh3"

	"tabular/internal/sink"
	"tabular/pkg/records"
)

func init() {
	sink.Register("csv", func(cfg sink.Config) (sink.Sink, error) {
		return New(cfg)
	})
}

type table struct {
	file    *os.File
	w       *csv.Writer
	columns []string
	rows    int64
	writes  int64
	seen    map[uint64]struct{} // nil unless dedupe
}

// Writer writes per-record CSV destinations with a configurable flush
// cadence. Files are created lazily on the first row for a record, header
// first, and closed exactly once. The output dialect follows the
// "delimiter" and "crlf" keys of output.options.
type Writer struct {
	dir      string
	cfg      sink.Config
	comma    rune
	crlf     bool
	tables   map[string]*table
	rejected map[string]*table
	closed   bool
}

// New creates the output directory and returns a ready writer.
func New(cfg sink.Config) (*Writer, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Writer{
		dir:      cfg.Dir,
		cfg:      cfg,
		comma:    cfg.Options.Rune("delimiter", ','),
		crlf:     cfg.Options.Bool("crlf", false),
		tables:   map[string]*table{},
		rejected: map[string]*table{},
	}, nil
}

func (w *Writer) open(name string, columns []string, dedupe bool) (*table, error) {
	f, err := os.Create(filepath.Join(w.dir, name+".csv"))
	if err != nil {
		return nil, fmt.Errorf("open %s.csv: %w", name, err)
	}
	cw := csv.NewWriter(f)
	cw.Comma = w.comma
	cw.UseCRLF = w.crlf
	if err := cw.Write(columns); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header for %s: %w", name, err)
	}
	cw.Flush()
	t := &table{file: f, w: cw, columns: append([]string(nil), columns...)}
	if dedupe {
		t.seen = map[uint64]struct{}{}
	}
	return t, nil
}

func render(row records.Record, columns []string) []string {
	cells := make([]string, len(columns))
	for i, col := range columns {
		cells[i] = records.Render(row[col])
	}
	return cells
}

func (w *Writer) flush(t *table) error {
	t.writes++
	if w.cfg.FlushEveryRow || (w.cfg.FlushEvery > 0 && t.writes%int64(w.cfg.FlushEvery) == 0) {
		t.w.Flush()
		if err := t.w.Error(); err != nil {
			return err
		}
		return t.file.Sync()
	}
	return nil
}

// WriteRow implements sink.Sink.
func (w *Writer) WriteRow(record string, row records.Record, columns []string) error {
	if w.closed {
		return fmt.Errorf("csvout: writer is closed")
	}
	t, ok := w.tables[record]
	if !ok {
		var err error
		if t, err = w.open(record, columns, w.cfg.Dedupe); err != nil {
			return err
		}
		w.tables[record] = t
	}
	if len(t.columns) != len(columns) {
		return fmt.Errorf("csvout: schema mismatch for record %q", record)
	}

	cells := render(row, columns)
	if t.seen != nil {
		key := xxh3.HashString(strings.Join(cells, "\x1f"))
		if _, dup := t.seen[key]; dup {
			return nil
		}
		t.seen[key] = struct{}{}
	}
	if err := t.w.Write(cells); err != nil {
		return fmt.Errorf("write row for %s: %w", record, err)
	}
	t.rows++
	return w.flush(t)
}

// WriteRejected implements sink.Sink.
func (w *Writer) WriteRejected(record string, row records.Record, errReason string, columns []string) error {
	if w.closed {
		return fmt.Errorf("csvout: writer is closed")
	}
	name := record + "_rejected"
	t, ok := w.rejected[name]
	if !ok {
		var err error
		if t, err = w.open(name, append(append([]string(nil), columns...), "_error_reason"), false); err != nil {
			return err
		}
		w.rejected[name] = t
	}

	cells := append(render(row, columns), errReason)
	if err := t.w.Write(cells); err != nil {
		return fmt.Errorf("write rejected row for %s: %w", record, err)
	}
	return w.flush(t)
}

// RowCount implements sink.Sink.
func (w *Writer) RowCount(record string) int64 {
	if t, ok := w.tables[record]; ok {
		return t.rows
	}
	return 0
}

// Close flushes and closes every destination, reporting the first error
// but always attempting all of them.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	closeAll := func(tables map[string]*table) {
		for name, t := range tables {
			t.w.Flush()
			if err := t.w.Error(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("flush %s.csv: %w", name, err)
			}
			if err := t.file.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close %s.csv: %w", name, err)
			}
		}
	}
	closeAll(w.tables)
	closeAll(w.rejected)
	return firstErr
}
