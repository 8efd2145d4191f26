// Package sink defines the output destination abstraction and its backend
// registry. A Sink receives accepted rows and rejected rows (with an error
// reason) per record name, owns the flush policy, and is closed exactly
// once by the batch orchestrator regardless of how the batch ends.
//
// Backends register themselves in init functions; importing
// tabular/internal/sink/all links every built-in backend into a binary.
package sink

import (
	"fmt"
	"sync"

	"tabular/internal/config"
	"tabular/pkg/records"
)

// Sink is the destination for converted rows. Implementations must be safe
// for use by a single goroutine; parallel batch workers wrap a shared sink
// in Locked.
type Sink interface {
	// WriteRow appends an accepted row for the named record, rendering
	// values in output form and creating the destination on first use.
	WriteRow(record string, row records.Record, columns []string) error

	// WriteRejected appends a row that failed validation to the record's
	// rejected destination, with errReason in a trailing _error_reason
	// column.
	WriteRejected(record string, row records.Record, errReason string, columns []string) error

	// RowCount reports accepted rows written for the record so far.
	RowCount(record string) int64

	// Close flushes and releases every destination. Safe to call twice.
	Close() error
}

// Config carries sink settings resolved from the batch configuration.
type Config struct {
	// Kind selects the registered backend; empty means "csv".
	Kind string

	// Dir is the output directory for file-based backends.
	Dir string

	// DSN is the connection string for database backends.
	DSN string

	// FlushEveryRow flushes after each write; otherwise FlushEvery is the
	// row cadence, with 0 meaning flush only at close.
	FlushEveryRow bool
	FlushEvery    int

	// Dedupe drops exact duplicate accepted rows per record, keep-first.
	Dedupe bool

	// Options holds backend-specific keys from output.options; backends
	// read their own keys and ignore the rest.
	Options config.Options
}

// Factory constructs a backend from resolved settings.
type Factory func(cfg Config) (Sink, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs a backend factory under kind. Backends call this from
// init; a duplicate kind panics to surface wiring mistakes at startup.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("sink: duplicate backend %q", kind))
	}
	factories[kind] = f
}

// New constructs the backend selected by cfg.Kind.
func New(cfg Config) (Sink, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = "csv"
	}
	regMu.RLock()
	f, ok := factories[kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sink: unknown backend %q", kind)
	}
	return f(cfg)
}

// Locked wraps a sink with a mutex so parallel workers can share one set of
// per-record destinations without interleaving writes.
func Locked(s Sink) Sink {
	return &lockedSink{inner: s}
}

type lockedSink struct {
	mu    sync.Mutex
	inner Sink
}

func (l *lockedSink) WriteRow(record string, row records.Record, columns []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.WriteRow(record, row, columns)
}

func (l *lockedSink) WriteRejected(record string, row records.Record, errReason string, columns []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.WriteRejected(record, row, errReason, columns)
}

func (l *lockedSink) RowCount(record string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.RowCount(record)
}

func (l *lockedSink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Close()
}
