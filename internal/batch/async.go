package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tabular/internal/config"
	"tabular/internal/metrics"
	"tabular/internal/parser"
	"tabular/internal/pipeline"
	"tabular/internal/sink"
	"tabular/internal/stats"
)

// RunParallel processes files across opts.Workers goroutines. Each worker
// tracks its own per-record stats, merged after every file, and all
// workers share one serialized sink so output stays well-formed. With one
// worker it falls through to Run.
//
// FailFast cancels the group context on the first failure: files not yet
// dispatched are never started and stay out of the summary, matching the
// sequential runner; files already in flight finish their current row loop
// and report the cancellation as a file error.
func RunParallel(ctx context.Context, cfg *config.Config, files []string, opts Options) (stats.Summary, map[string]*stats.Parsing, map[string]string, error) {
	if opts.Workers <= 1 {
		return Run(ctx, cfg, files, opts)
	}

	start := time.Now()
	summary := stats.Summary{}
	recordStats := map[string]*stats.Parsing{}
	fileErrors := map[string]string{}

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	mb := metrics.OrNop(opts.Metrics)

	files, err := prepareFiles(cfg, files)
	if err != nil {
		return summary, recordStats, fileErrors, err
	}

	parse, err := parser.For(cfg.FormatType)
	if err != nil {
		return summary, recordStats, fileErrors, err
	}

	var snk sink.Sink
	if !opts.DryRun {
		snk, err = sink.New(sink.Config{
			Kind:          cfg.Output.Kind,
			Dir:           opts.OutputDir,
			DSN:           cfg.Output.DSN,
			FlushEveryRow: cfg.Output.FlushEvery.EveryRow,
			FlushEvery:    cfg.Output.FlushEvery.N,
			Dedupe:        cfg.Output.Dedupe,
			Options:       cfg.Output.Options,
		})
		if err != nil {
			return summary, recordStats, fileErrors, fmt.Errorf("open sink: %w", err)
		}
		snk = sink.Locked(snk)
	}
	closeSink := closeOnce(snk)
	defer closeSink()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for _, path := range files {
		if gctx.Err() != nil {
			break
		}
		path := path
		g.Go(func() error {
			// SetLimit can hold this closure back until after the group
			// is cancelled; do not start a file then.
			if gctx.Err() != nil {
				return nil
			}
			workerStats := map[string]*stats.Parsing{}
			run := pipeline.NewRunner(cfg, snk, workerStats)
			fileStart := time.Now()
			err := processFile(gctx, parse, run, path, cfg)

			mu.Lock()
			summary.Processed++
			for name, s := range workerStats {
				if agg, ok := recordStats[name]; ok {
					agg.Merge(s)
				} else {
					recordStats[name] = s
				}
			}
			if err != nil {
				summary.Failed++
				fileErrors[path] = err.Error()
				log.Printf("run %s: file %s failed: %v", opts.RunID, path, err)
			} else {
				summary.Succeeded++
			}
			mu.Unlock()

			metrics.RecordFile(mb, opts.RunID, cfg.FormatType, err, time.Since(fileStart))
			if err != nil && opts.FailFast {
				return fmt.Errorf("fail-fast: aborting after %s: %w", path, err)
			}
			return nil
		})
	}

	aborted := g.Wait()

	if err := closeSink(); err != nil {
		return summary, recordStats, fileErrors, fmt.Errorf("close sink: %w", err)
	}

	summary.Duration = time.Since(start)
	emit(mb, opts.RunID, recordStats)
	return summary, recordStats, fileErrors, aborted
}
