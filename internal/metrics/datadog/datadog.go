// Package datadog emits run metrics over DogStatsD. Labels become
// "key:value" tags; counters map to Count and histograms to Histogram, so
// the rest of the program stays on the metrics.Backend abstraction.
package datadog

import (
	"fmt"

	"tabular/internal/metrics"

	"github.com/DataDog/datadog-go/v5/statsd"
)

// Config locates the agent and fixes the tags every metric carries.
type Config struct {
	// Addr is the DogStatsD endpoint: "host:port" or "unix:///path".
	Addr string

	// Namespace prefixes every metric name, e.g. "tabular.".
	Namespace string

	// GlobalTags are appended to the tags of every emission.
	GlobalTags []string
}

// Backend sends metrics to a Datadog agent. One instance serves a whole
// batch run.
type Backend struct {
	client *statsd.Client
}

// NewBackend dials the agent named by cfg.Addr, which must be non-empty.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("datadog: Addr is required")
	}

	var opts []statsd.Option
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}

	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: create client: %w", err)
	}

	return &Backend{client: c}, nil
}

// IncCounter implements metrics.Backend. DogStatsD counts are integral, so
// fractional deltas truncate.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	b.client.Count(name, int64(delta), labelsToTags(labels), 1)
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	b.client.Histogram(name, value, labelsToTags(labels), 1)
}

// Flush implements metrics.Backend by closing the client, which drains its
// buffer. Called once at the end of a run.
func (b *Backend) Flush() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func labelsToTags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	out := make([]string, 0, len(lbls))
	for k, v := range lbls {
		out = append(out, k+":"+v)
	}
	return out
}
