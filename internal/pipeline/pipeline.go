package pipeline

import (
	"fmt"
	"log"
	"strings"

	"tabular/internal/cast"
	"tabular/internal/config"
	"tabular/internal/formula"
	"tabular/internal/sink"
	"tabular/internal/stats"
	"tabular/pkg/records"
)

// FileError marks a whole-file parse failure on its way to the batch
// orchestrator. Ignored records whether the ignore-broken-files policy
// contained it inside the parser; the orchestrator counts the file as
// failed either way.
type FileError struct {
	Path    string
	Ignored bool
	Err     error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Runner carries the state shared by one parser invocation: configuration
// flags, the output sink (nil in dry-run), and the per-record stats that
// accumulate across all files of a batch.
type Runner struct {
	Cfg         *config.Config
	Sink        sink.Sink
	RecordStats map[string]*stats.Parsing

	SafeMode        bool
	ContinueOnError bool
	IgnoreBroken    bool

	computed map[string]config.ComputedField
}

// NewRunner prepares a runner and eagerly creates stats objects for every
// configured record so file-level failures have counters to bump.
func NewRunner(cfg *config.Config, snk sink.Sink, recordStats map[string]*stats.Parsing) *Runner {
	r := &Runner{
		Cfg:             cfg,
		Sink:            snk,
		RecordStats:     recordStats,
		SafeMode:        cfg.SafeMode(),
		ContinueOnError: cfg.ContinueOnError,
		IgnoreBroken:    cfg.IgnoreBrokenFiles,
		computed:        cfg.Computed(),
	}
	for _, rec := range cfg.Records {
		r.Stats(rec.Name)
	}
	return r
}

// Stats returns the stats object for a record name, creating it lazily.
func (r *Runner) Stats(name string) *stats.Parsing {
	if s, ok := r.RecordStats[name]; ok {
		return s
	}
	s := stats.NewParsing()
	r.RecordStats[name] = s
	return s
}

// ComputeFields runs the second extraction pass: fields whose type is
// computed resolve their formula against the row as extracted so far and
// cast the result to the formula's declared type. A dangling formula
// reference logs a warning and leaves the field null.
func (r *Runner) ComputeFields(rec config.Record, row records.Record) error {
	for _, f := range rec.Fields {
		if !f.IsComputed() || f.ComputedField == "" {
			continue
		}
		comp, ok := r.computed[f.ComputedField]
		if !ok {
			log.Printf("record %s: computed field %q referenced but not defined", rec.Name, f.ComputedField)
			row[f.Name] = nil
			continue
		}
		if comp.Formula == "" {
			row[f.Name] = nil
			continue
		}
		v, err := cast.Value(formula.Interpolate(comp.Formula, row), comp.Type, r.SafeMode)
		if err != nil {
			return err
		}
		row[f.Name] = v
	}
	return nil
}

// ProcessRow validates a fully-extracted row and routes it to the accepted
// or rejected destination. All failing fields are collected; their messages
// join into one semicolon-separated reason. The total counter increments
// exactly once per row entering here, regardless of outcome.
func (r *Runner) ProcessRow(name string, row records.Record, columns []string, checks []FieldCheck) error {
	st := r.Stats(name)
	st.TotalRows++

	var errs []string
	for _, fc := range checks {
		if ok, msg := CheckValue(row[fc.Field.Name], fc); !ok {
			errs = append(errs, msg)
			st.ValidationErrors++
		}
	}

	if len(errs) > 0 {
		st.FailedRows++
		if r.Sink != nil && r.Cfg.RejectedOutput() {
			if err := r.Sink.WriteRejected(name, row, strings.Join(errs, "; "), columns); err != nil {
				return fmt.Errorf("write rejected row: %w", err)
			}
		}
		return nil
	}

	st.SuccessRows++
	if r.Sink != nil {
		if err := r.Sink.WriteRow(name, row, columns); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	return nil
}

// HandleRowError applies the continue-on-error policy to an extraction,
// casting, or formula failure. The row counts as skipped; when the policy
// is off the error propagates and aborts the containing file.
func (r *Runner) HandleRowError(name string, err error, line int) error {
	if line > 0 {
		log.Printf("error processing %s at row %d: %v", name, line, err)
	} else {
		log.Printf("error processing %s: %v", name, err)
	}
	r.Stats(name).SkippedRows++
	if r.ContinueOnError {
		return nil
	}
	return err
}

// HandleFileError applies the ignore-broken-files policy to a whole-file
// failure. It always returns a *FileError so the orchestrator names the
// file in its error map; when the policy is on, the per-record
// file-parse-failure counters are also bumped.
func (r *Runner) HandleFileError(path string, err error) error {
	if !r.IgnoreBroken {
		return &FileError{Path: path, Err: err}
	}
	log.Printf("file parsing failed: %v (continuing due to ignoreBrokenFiles)", err)
	for _, st := range r.RecordStats {
		st.FileParseFailures++
	}
	return &FileError{Path: path, Ignored: true, Err: err}
}

// FinalizeStats closes the clock on every record's stats.
func (r *Runner) FinalizeStats() {
	for _, st := range r.RecordStats {
		st.Finalize()
	}
}

// LogProgress emits the row-count heartbeat at the configured interval.
func (r *Runner) LogProgress(name string, rows int) {
	if r.Cfg.ProgressInterval > 0 && rows%r.Cfg.ProgressInterval == 0 {
		log.Printf("[%s] processed %d rows", name, rows)
	}
}
