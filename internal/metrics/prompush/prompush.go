// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// This package adapts the generic metrics.Backend interface to Prometheus by:
//
//   - Using client_golang CounterVec and SummaryVec collectors.
//   - Mapping the conversion labels (format, status, kind) onto Prometheus
//     labels; the run ID becomes the Pushgateway "job" grouping key.
//   - Pushing collected metrics to a Prometheus Pushgateway instance instead
//     of exposing an HTTP scrape endpoint, which suits a batch process that
//     exits when the run finishes.
//
// The package intentionally contains all Prometheus-specific dependencies so
// that the rest of the project remains decoupled from Prometheus and can swap
// to alternative backends (e.g. Datadog, StatsD) without changes to the batch
// runner.
package prompush

import (
	"fmt"

	"tabular/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	// File-level metrics
	fileCounter  *prometheus.CounterVec // "convert_files_total"
	fileDuration *prometheus.SummaryVec // "convert_file_duration_seconds"

	// Row-level metrics
	rowCounter   *prometheus.CounterVec // "convert_rows_total"
	batchCounter prometheus.Counter     // "convert_batches_total"
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name (usually the run ID).
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "tabular"
	}

	reg := prometheus.NewRegistry()

	fileCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convert_files_total",
			Help: "Total number of files processed, partitioned by format and status.",
		},
		[]string{"format", "status"},
	)
	fileDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "convert_file_duration_seconds",
			Help:       "Per-file conversion duration in seconds, partitioned by format and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"format", "status"},
	)

	// ROW metrics: kind (total, success, failed, skipped, validation_errors).
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convert_rows_total",
			Help: "Row-level counts per kind (total, success, failed, skipped, validation_errors).",
		},
		[]string{"kind"},
	)

	// BATCH metrics: simple counter; the run is the Pushgateway grouping key.
	batchCounter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "convert_batches_total",
			Help: "Total number of batch runs completed.",
		},
	)

	if err := reg.Register(fileCounter); err != nil {
		return nil, fmt.Errorf("prompush: register file counter: %w", err)
	}
	if err := reg.Register(fileDuration); err != nil {
		return nil, fmt.Errorf("prompush: register file summary: %w", err)
	}
	if err := reg.Register(rowCounter); err != nil {
		return nil, fmt.Errorf("prompush: register row counter: %w", err)
	}
	if err := reg.Register(batchCounter); err != nil {
		return nil, fmt.Errorf("prompush: register batch counter: %w", err)
	}

	return &Backend{
		gatewayURL:   gatewayURL,
		jobName:      jobName,
		reg:          reg,
		fileCounter:  fileCounter,
		fileDuration: fileDuration,
		rowCounter:   rowCounter,
		batchCounter: batchCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "convert_files_total":
		if b.fileCounter == nil {
			return
		}
		format := labels["format"]
		status := labels["status"]
		b.fileCounter.WithLabelValues(format, status).Add(delta)

	case "convert_rows_total":
		if b.rowCounter == nil {
			return
		}
		kind := labels["kind"]
		b.rowCounter.WithLabelValues(kind).Add(delta)

	case "convert_batches_total":
		if b.batchCounter == nil {
			return
		}
		b.batchCounter.Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "convert_file_duration_seconds" || b.fileDuration == nil {
		return
	}
	format := labels["format"]
	status := labels["status"]
	b.fileDuration.WithLabelValues(format, status).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
