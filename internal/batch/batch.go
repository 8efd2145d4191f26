// Package batch orchestrates a conversion run: it validates the
// configuration, filters and preflights the input files, opens the output
// sink, dispatches each file to its format parser, and aggregates
// per-record stats and per-file errors into a run summary.
//
// Failure containment is layered. Row errors stay inside the pipeline
// (continueOnError), broken files are recorded and skipped
// (ignoreBrokenFiles), and FailFast aborts the batch on the first file
// failure. Config validation errors are always batch-fatal.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"tabular/internal/config"
	"tabular/internal/metrics"
	"tabular/internal/parser"
	"tabular/internal/pipeline"
	"tabular/internal/sink"
	"tabular/internal/stats"
)

// Options carry per-run settings that do not belong in the config document.
type Options struct {
	// OutputDir is where file-based sinks write.
	OutputDir string

	// DryRun parses and validates without opening a sink.
	DryRun bool

	// FailFast aborts the batch on the first file failure.
	FailFast bool

	// Metrics receives run counters; nil means no metrics.
	Metrics metrics.Backend

	// RunID labels metrics and logs; generated when empty.
	RunID string

	// Workers > 1 selects the parallel runner in RunParallel; Run ignores it.
	Workers int
}

// Run processes files sequentially and returns the run summary, the
// per-record stats, and the per-file error messages. The error return is
// batch-fatal only: invalid config, no usable files, or an aborted run.
func Run(ctx context.Context, cfg *config.Config, files []string, opts Options) (stats.Summary, map[string]*stats.Parsing, map[string]string, error) {
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
	}
	closeSink := closeOnce(snk)
	defer closeSink()

	run := pipeline.NewRunner(cfg, snk, recordStats)

	var aborted error
	for _, path := range files {
		summary.Processed++
		fileStart := time.Now()
		err := processFile(ctx, parse, run, path, cfg)
		if err != nil {
			summary.Failed++
			fileErrors[path] = err.Error()
			log.Printf("run %s: file %s failed: %v", opts.RunID, path, err)
			if opts.FailFast {
				aborted = fmt.Errorf("fail-fast: aborting after %s: %w", path, err)
				break
			}
		} else {
			summary.Succeeded++
		}
		metrics.RecordFile(mb, opts.RunID, cfg.FormatType, err, time.Since(fileStart))
	}

	if err := closeSink(); err != nil {
		return summary, recordStats, fileErrors, fmt.Errorf("close sink: %w", err)
	}

	summary.Duration = time.Since(start)
	emit(mb, opts.RunID, recordStats)
	return summary, recordStats, fileErrors, aborted
}

// prepareFiles runs config validation and the file_mask / max_files
// filters. A mask that filters every file out is batch-fatal; an input
// list over max_files is truncated with a warning.
func prepareFiles(cfg *config.Config, files []string) ([]string, error) {
	issues := config.Validate(cfg)
	for _, is := range issues {
		if is.Severity == config.SeverityWarning {
			log.Printf("config: %s: %s", is.Path, is.Message)
		}
	}
	if errs := config.Errors(issues); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, is := range errs {
			msgs[i] = is.Path + ": " + is.Message
		}
		return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	if cfg.FileMask != "" {
		mask, err := regexp.Compile(cfg.FileMask)
		if err != nil {
			return nil, fmt.Errorf("invalid file_mask: %w", err)
		}
		var kept []string
		for _, f := range files {
			if mask.MatchString(filepath.Base(f)) {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			return nil, fmt.Errorf("file_mask %q matched none of %d files", cfg.FileMask, len(files))
		}
		files = kept
	}

	if cfg.MaxFiles != nil && len(files) > *cfg.MaxFiles {
		log.Printf("max_files=%d: truncating %d input files", *cfg.MaxFiles, len(files))
		files = files[:*cfg.MaxFiles]
	}
	if len(files) == 0 {
		return nil, errors.New("no input files")
	}
	return files, nil
}

func processFile(ctx context.Context, parse parser.ParseFunc, run *pipeline.Runner, path string, cfg *config.Config) error {
	if err := preflight(path, cfg); err != nil {
		return run.HandleFileError(path, err)
	}
	return parse(ctx, path, run)
}

// preflight rejects missing and oversized inputs before a parser opens
// them. Symlinks are sized through their target; pipes, sockets, and
// devices are logged and exempt from the size check so streaming inputs
// still work.
func preflight(path string, cfg *config.Config) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("file not found: %s", path)
	}

	mode := fi.Mode()
	if mode&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("broken symlink: %s: %w", path, err)
		}
		if fi, err = os.Stat(target); err != nil {
			return fmt.Errorf("stat symlink target %s: %w", target, err)
		}
		mode = fi.Mode()
	}

	if mode&(os.ModeNamedPipe|os.ModeSocket|os.ModeDevice) != 0 {
		log.Printf("special file %s (%s): skipping size check", path, mode)
		return nil
	}
	if mode.IsDir() {
		return fmt.Errorf("is a directory: %s", path)
	}

	if cfg.MaxFileSize != nil && fi.Size() > *cfg.MaxFileSize {
		return fmt.Errorf("file %s exceeds max_file_size (%d > %d bytes)", path, fi.Size(), *cfg.MaxFileSize)
	}
	return nil
}

// closeOnce wraps a sink close so the deferred call and the explicit call
// cannot both run it. A nil sink (dry run) closes to nil.
func closeOnce(s sink.Sink) func() error {
	closed := false
	return func() error {
		if closed || s == nil {
			return nil
		}
		closed = true
		return s.Close()
	}
}

// emit pushes aggregated row counters and flushes the backend. Metric
// failures never fail the run.
func emit(mb metrics.Backend, runID string, recordStats map[string]*stats.Parsing) {
	var total, success, failed, skipped, validation int64
	for _, s := range recordStats {
		total += s.TotalRows
		success += s.SuccessRows
		failed += s.FailedRows
		skipped += s.SkippedRows
		validation += s.ValidationErrors
	}
	metrics.RecordRows(mb, runID, "total", total)
	metrics.RecordRows(mb, runID, "success", success)
	metrics.RecordRows(mb, runID, "failed", failed)
	metrics.RecordRows(mb, runID, "skipped", skipped)
	metrics.RecordRows(mb, runID, "validation_errors", validation)
	metrics.RecordBatch(mb, runID, 1)
	if err := mb.Flush(); err != nil {
		log.Printf("metrics flush: %v", err)
	}
}
