package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"tabular/internal/archive"
	"tabular/internal/batch"
	"tabular/internal/config"
	"tabular/internal/metrics"
	"tabular/internal/metrics/datadog"
	"tabular/internal/metrics/prompush"

	// register all backends with the sink factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "tabular/internal/sink/all"
)

// main is the entry point for the tabular binary. It loads the conversion
// config, expands compressed inputs, optionally initializes a metrics
// backend, and executes the batch run over the input files named as
// arguments.
//
// Exit codes: 0 when every file succeeded, 1 when every file failed (or
// the run never started), 2 on a partial failure.
func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath        string
		outDir         string
		dryRun         bool
		failFast       bool
		workers        int
		validate       bool
		metricsBackend string
		pushGatewayURL string
		statsdAddr     string
	)

	flag.StringVar(&cfgPath, "config", "config.json", "conversion config JSON path")
	flag.StringVar(&outDir, "out", "out", "output directory for file-based sinks")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and validate without writing output")
	flag.BoolVar(&failFast, "fail-fast", false, "abort the batch on the first file failure")
	flag.IntVar(&workers, "workers", 1, "number of parallel file workers")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.StringVar(&metricsBackend, "metrics", "none", "metrics backend to use (pushgateway, datadog, none)")
	flag.StringVar(&pushGatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&statsdAddr, "statsd-addr", "", "DogStatsD address for the datadog backend, e.g. 127.0.0.1:8125")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("Configuration is invalid: %v", cfgPath)
		return 1
	}

	// If validate flag is set, only validate the configuration and exit
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		return 0
	}

	if flag.NArg() == 0 {
		fatalf("no input files: usage: tabular -config config.json file [file...]")
	}

	files, cleanup, err := expandInputs(flag.Args())
	if err != nil {
		cleanup()
		fatalf("%v", err)
	}
	defer cleanup()

	mb := setupMetrics(metricsBackend, pushGatewayURL, statsdAddr, *verbose)

	ctx := context.Background()
	start := time.Now()

	if *verbose {
		log.Printf("batch: format=%s sink=%s files=%d workers=%d dry_run=%v",
			cfg.FormatType, cfg.Output.Kind, len(files), workers, dryRun)
	}

	summary, recordStats, fileErrors, err := batch.RunParallel(ctx, cfg, files, batch.Options{
		OutputDir: outDir,
		DryRun:    dryRun,
		FailFast:  failFast,
		Metrics:   mb,
		Workers:   workers,
	})
	if err != nil {
		log.Printf("%v", err)
	}

	for path, msg := range fileErrors {
		log.Printf("failed: %s: %s", path, msg)
	}
	for name, s := range recordStats {
		log.Printf("record %s: total=%d success=%d failed=%d skipped=%d validation_errors=%d (%.0f rows/s)",
			name, s.TotalRows, s.SuccessRows, s.FailedRows, s.SkippedRows, s.ValidationErrors, s.RowsPerSecond())
	}
	log.Printf("files: processed=%d succeeded=%d failed=%d in %s",
		summary.Processed, summary.Succeeded, summary.Failed, time.Since(start).Truncate(time.Millisecond))

	switch {
	case summary.Processed == 0 || summary.Succeeded == 0:
		return 1
	case summary.Failed > 0:
		return 2
	}
	return 0
}

// expandInputs replaces compressed inputs with their extracted members.
// Extraction lands in a temp directory removed by the returned cleanup.
func expandInputs(args []string) ([]string, func(), error) {
	cleanup := func() {}
	var tmp string
	var files []string
	for _, path := range args {
		if !archive.IsCompressed(path) {
			files = append(files, path)
			continue
		}
		if tmp == "" {
			dir, err := os.MkdirTemp("", "tabular-extract-")
			if err != nil {
				return nil, cleanup, fmt.Errorf("create extraction dir: %w", err)
			}
			tmp = dir
			cleanup = func() { os.RemoveAll(dir) }
		}
		extracted, err := archive.Extract(path, tmp)
		if err != nil {
			return nil, cleanup, fmt.Errorf("extract %s: %w", path, err)
		}
		log.Printf("extracted %d file(s) from %s", len(extracted), path)
		files = append(files, extracted...)
	}
	return files, cleanup, nil
}

// setupMetrics resolves the metrics backend: flag → env → disabled.
func setupMetrics(name, gatewayURL, statsdAddr string, verbose bool) metrics.Backend {
	if name == "" {
		name = os.Getenv("METRICS_BACKEND")
	}
	switch name {
	case "pushgateway":
		if gatewayURL == "" {
			gatewayURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gatewayURL == "" {
			gatewayURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend("tabular", gatewayURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return metrics.Nop
		}
		log.Printf("metrics: backend=pushgateway url=%v", gatewayURL)
		return b

	case "datadog":
		if statsdAddr == "" {
			statsdAddr = os.Getenv("DOGSTATSD_ADDR")
		}
		if statsdAddr == "" {
			statsdAddr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: statsdAddr, Namespace: "tabular."})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return metrics.Nop
		}
		log.Printf("metrics: backend=datadog addr=%v", statsdAddr)
		return b

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", name)
		}
		return metrics.Nop

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", name)
		return metrics.Nop
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
