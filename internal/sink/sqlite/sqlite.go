// Package sqlite is a sink backend writing converted rows into a SQLite
// database, one table per record name and a <name>_rejected table for rows
// that failed validation. The flush cadence maps onto transaction commits.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"tabular/internal/sink"
	"tabular/pkg/records"
)

func init() {
	sink.Register("sqlite", func(cfg sink.Config) (sink.Sink, error) {
		return Open(cfg)
	})
}

type table struct {
	insert  string
	columns []string
	rows    int64
}

// Repo owns one database handle and the prepared per-record state.
type Repo struct {
	db     *sql.DB
	tx     *sql.Tx
	cfg    sink.Config
	tables map[string]*table
	writes int64
	closed bool
}

// journalModes lists the values accepted for the journal_mode option.
var journalModes = map[string]bool{
	"delete": true, "truncate": true, "persist": true,
	"memory": true, "wal": true, "off": true,
}

// Open connects to the database named by the DSN (a file path for SQLite)
// and applies the busy_timeout_ms and journal_mode keys of output.options.
func Open(cfg sink.Config) (*Repo, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", cfg.DSN, err)
	}
	if ms := cfg.Options.Int("busy_timeout_ms", 0); ms > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy_timeout: %w", err)
		}
	}
	if mode := strings.ToLower(cfg.Options.String("journal_mode", "")); mode != "" {
		if !journalModes[mode] {
			db.Close()
			return nil, fmt.Errorf("sqlite: unknown journal_mode %q", mode)
		}
		if _, err := db.Exec("PRAGMA journal_mode = " + mode); err != nil {
			db.Close()
			return nil, fmt.Errorf("set journal_mode: %w", err)
		}
	}
	return &Repo{db: db, cfg: cfg, tables: map[string]*table{}}, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (r *Repo) ensure(name string, columns []string) (*table, error) {
	if t, ok := r.tables[name]; ok {
		if len(t.columns) != len(columns) {
			return nil, fmt.Errorf("sqlite: schema mismatch for table %q", name)
		}
		return t, nil
	}

	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c) + " TEXT"
		marks[i] = "?"
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(name), strings.Join(quoted, ", "))
	if _, err := r.db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("create table %q: %w", name, err)
	}

	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quoteIdent(c)
	}
	t := &table{
		insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdent(name), strings.Join(cols, ", "), strings.Join(marks, ", ")),
		columns: append([]string(nil), columns...),
	}
	r.tables[name] = t
	return t, nil
}

func (r *Repo) exec(query string, args []any) error {
	// Batch inserts inside a transaction; the flush cadence decides when it
	// commits.
	if r.cfg.FlushEveryRow {
		_, err := r.db.Exec(query, args...)
		return err
	}
	if r.tx == nil {
		tx, err := r.db.Begin()
		if err != nil {
			return err
		}
		r.tx = tx
	}
	if _, err := r.tx.Exec(query, args...); err != nil {
		return err
	}
	r.writes++
	if r.cfg.FlushEvery > 0 && r.writes%int64(r.cfg.FlushEvery) == 0 {
		err := r.tx.Commit()
		r.tx = nil
		return err
	}
	return nil
}

func renderArgs(row records.Record, columns []string) []any {
	args := make([]any, 0, len(columns)+1)
	for _, col := range columns {
		if row[col] == nil {
			args = append(args, nil)
			continue
		}
		args = append(args, records.Render(row[col]))
	}
	return args
}

// WriteRow implements sink.Sink.
func (r *Repo) WriteRow(record string, row records.Record, columns []string) error {
	if r.closed {
		return fmt.Errorf("sqlite: sink is closed")
	}
	t, err := r.ensure(record, columns)
	if err != nil {
		return err
	}
	if err := r.exec(t.insert, renderArgs(row, columns)); err != nil {
		return fmt.Errorf("insert into %q: %w", record, err)
	}
	t.rows++
	return nil
}

// WriteRejected implements sink.Sink.
func (r *Repo) WriteRejected(record string, row records.Record, errReason string, columns []string) error {
	if r.closed {
		return fmt.Errorf("sqlite: sink is closed")
	}
	name := record + "_rejected"
	cols := append(append([]string(nil), columns...), "_error_reason")
	t, err := r.ensure(name, cols)
	if err != nil {
		return err
	}
	args := append(renderArgs(row, columns), errReason)
	if err := r.exec(t.insert, args); err != nil {
		return fmt.Errorf("insert into %q: %w", name, err)
	}
	return nil
}

// RowCount implements sink.Sink.
func (r *Repo) RowCount(record string) int64 {
	if t, ok := r.tables[record]; ok {
		return t.rows
	}
	return 0
}

// Close commits any open transaction and releases the handle.
func (r *Repo) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var firstErr error
	if r.tx != nil {
		if err := r.tx.Commit(); err != nil {
			firstErr = fmt.Errorf("commit: %w", err)
		}
		r.tx = nil
	}
	if err := r.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
