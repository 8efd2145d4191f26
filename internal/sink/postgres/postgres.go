// Package postgres is a sink backend writing converted rows into Postgres
// through pgx, one table per record name and a <name>_rejected table for
// rows that failed validation. Rows buffer in memory and land via COPY on
// the flush cadence.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabular/internal/sink"
	"tabular/pkg/records"
)

func init() {
	sink.Register("postgres", func(cfg sink.Config) (sink.Sink, error) {
		return Open(context.Background(), cfg)
	})
}

type table struct {
	name    string
	columns []string
	pending [][]any
	rows    int64
}

// Repo owns a connection pool and per-record COPY buffers.
type Repo struct {
	ctx    context.Context
	pool   *pgxpool.Pool
	cfg    sink.Config
	tables map[string]*table
	closed bool
}

// Open connects and pings the pool so DSN problems surface before the
// first file is parsed.
func Open(ctx context.Context, cfg sink.Config) (*Repo, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Repo{ctx: ctx, pool: pool, cfg: cfg, tables: map[string]*table{}}, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (r *Repo) ensure(name string, columns []string) (*table, error) {
	if t, ok := r.tables[name]; ok {
		if len(t.columns) != len(columns) {
			return nil, fmt.Errorf("postgres: schema mismatch for table %q", name)
		}
		return t, nil
	}
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quoteIdent(c) + " TEXT"
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(name), strings.Join(cols, ", "))
	if _, err := r.pool.Exec(r.ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %q: %w", name, err)
	}
	t := &table{name: name, columns: append([]string(nil), columns...)}
	r.tables[name] = t
	return t, nil
}

func (r *Repo) copyPending(t *table) error {
	if len(t.pending) == 0 {
		return nil
	}
	_, err := r.pool.CopyFrom(r.ctx, pgx.Identifier{t.name}, t.columns, pgx.CopyFromRows(t.pending))
	if err != nil {
		return fmt.Errorf("copy into %q: %w", t.name, err)
	}
	t.pending = t.pending[:0]
	return nil
}

func (r *Repo) write(t *table, args []any) error {
	t.pending = append(t.pending, args)
	if r.cfg.FlushEveryRow || (r.cfg.FlushEvery > 0 && len(t.pending) >= r.cfg.FlushEvery) {
		return r.copyPending(t)
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
		return fmt.Errorf("postgres: sink is closed")
	}
	t, err := r.ensure(record, columns)
	if err != nil {
		return err
	}
	if err := r.write(t, renderArgs(row, columns)); err != nil {
		return err
	}
	t.rows++
	return nil
}

// WriteRejected implements sink.Sink.
func (r *Repo) WriteRejected(record string, row records.Record, errReason string, columns []string) error {
	if r.closed {
		return fmt.Errorf("postgres: sink is closed")
	}
	name := record + "_rejected"
	cols := append(append([]string(nil), columns...), "_error_reason")
	t, err := r.ensure(name, cols)
	if err != nil {
		return err
	}
	return r.write(t, append(renderArgs(row, columns), errReason))
}

// RowCount implements sink.Sink.
func (r *Repo) RowCount(record string) int64 {
	if t, ok := r.tables[record]; ok {
		return t.rows
	}
	return 0
}

// Close drains pending COPY buffers and releases the pool.
func (r *Repo) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var firstErr error
	for _, t := range r.tables {
		if err := r.copyPending(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.pool.Close()
	return firstErr
}
