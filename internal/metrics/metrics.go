// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from conversion runs.
//
// The package is intentionally minimal and opinionated:
//
//   - It exposes a narrow interface (Backend) focused on counters and timing
//     data (histograms).
//   - Backends are injected explicitly by the caller; Nop is always a safe
//     default, so instrumented code never needs nil checks.
//   - Concrete metric systems live isolated in subpackages, so the batch
//     runner depends only on this interface.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
// It is intentionally generic so we can plug in Prometheus, Datadog, etc.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

// Nop is a backend that discards everything.
var Nop Backend = nopBackend{}

// OrNop returns b, or Nop when b is nil, so callers can hold the result
// without guarding every call site.
func OrNop(b Backend) Backend {
	if b == nil {
		return Nop
	}
	return b
}

// RecordFile is a convenience for the common pattern:
// measure latency + success/failure per converted file.
func RecordFile(b Backend, run, format string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"run":    run,
		"format": format,
		"status": status,
	}

	b.IncCounter("convert_files_total", 1, lbls)
	b.ObserveHistogram("convert_file_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a row-level counter for the given run and kind.
//
// Typical kinds mirror the per-record stats fields, e.g.:
//   - "total"
//   - "success"
//   - "failed"
//   - "skipped"
//   - "validation_errors"
func RecordRows(b Backend, run, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	b.IncCounter("convert_rows_total", float64(delta), Labels{
		"run":  run,
		"kind": kind,
	})
}

// RecordBatch increments the batch counter for the given run.
func RecordBatch(b Backend, run string, delta int64) {
	if delta <= 0 {
		return
	}
	b.IncCounter("convert_batches_total", float64(delta), Labels{
		"run": run,
	})
}
