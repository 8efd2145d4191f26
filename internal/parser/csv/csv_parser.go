// Package csv parses delimited text files into the row pipeline.
//
// Header handling: when csv_has_header is set (the default), the first data
// line after csv_skip_rows resolves a header-name to column-index map once
// per file, and field paths are header names. Without a header, field paths
// are zero-based column index literals.
//
// When several record types are configured, each physical row is offered to
// them in order and only the first processes it; flat formats stop at the
// first match to avoid duplicate emission.
package csv

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"tabular/internal/cast"
	"tabular/internal/config"
	"tabular/internal/extract"
	"tabular/internal/pipeline"
	"tabular/internal/textenc"
	"tabular/pkg/records"
)

// recordPlan is the per-record extraction context, resolved once per file.
type recordPlan struct {
	rec      config.Record
	fieldIdx map[string]int // field name -> source column, -1 when unresolved
	columns  []string
	checks   []pipeline.FieldCheck
}

// Parse consumes one CSV file. File-level failures (open, decode, a read
// error from the underlying reader, or an uncontained row error) pass
// through the runner's ignore-broken-files policy.
func Parse(ctx context.Context, path string, run *pipeline.Runner) error {
	cfg := run.Cfg

	f, err := os.Open(path)
	if err != nil {
		return run.HandleFileError(path, err)
	}
	defer f.Close()

	decoded, err := textenc.Reader(f, cfg.CSVEncoding)
	if err != nil {
		return run.HandleFileError(path, err)
	}

	br := bufio.NewReader(decoded)
	for i := 0; i < cfg.CSVSkipRows; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return run.HandleFileError(path, fmt.Errorf("skip leading rows: %w", err))
		}
	}

	cr := csv.NewReader(br)
	cr.Comma = delimiter(cfg)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	// encoding/csv has no escape-character mode; tolerate those inputs
	// instead of failing on every quote.
	if cfg.CSVEscapeChar != "" || (cfg.CSVDoubleQuote != nil && !*cfg.CSVDoubleQuote) {
		cr.LazyQuotes = true
	}

	var headerIdx map[string]int
	hasHeader := cfg.CSVHeader()
	if hasHeader {
		header, err := cr.Read()
		if err != nil {
			return run.HandleFileError(path, fmt.Errorf("read header: %w", err))
		}
		headerIdx = extract.HeaderIndex(header)
	}

	plans := make([]recordPlan, 0, len(cfg.Records))
	for _, rec := range cfg.Records {
		plan := recordPlan{
			rec:      rec,
			fieldIdx: map[string]int{},
			columns:  rec.Columns(),
			checks:   pipeline.BuildFieldChecks(rec),
		}
		for _, fld := range rec.Fields {
			if fld.IsComputed() || fld.Path == "" {
				continue
			}
			if idx, ok := extract.ResolveColumn(fld.Path, headerIdx, hasHeader); ok {
				plan.fieldIdx[fld.Name] = idx
			} else {
				plan.fieldIdx[fld.Name] = -1
			}
		}
		plans = append(plans, plan)
	}

	rowNum := 0
	for {
		select {
		case <-ctx.Done():
			return run.HandleFileError(path, ctx.Err())
		default:
		}

		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return run.HandleFileError(path, fmt.Errorf("csv read: %w", err))
		}
		rowNum++
		run.LogProgress("CSV", rowNum)

		if allBlank(cells) {
			continue
		}

		// first matching record wins
		for _, plan := range plans {
			row, err := extractRow(run, plan, headerIdx, hasHeader, cells)
			if err == nil {
				err = run.ProcessRow(plan.rec.Name, row, plan.columns, plan.checks)
				if err != nil {
					return run.HandleFileError(path, err)
				}
				break
			}
			if herr := run.HandleRowError(plan.rec.Name, err, rowNum); herr != nil {
				return run.HandleFileError(path, herr)
			}
			break
		}
	}

	run.FinalizeStats()
	return nil
}

func delimiter(cfg *config.Config) rune {
	if cfg.CSVDelimiter == "" {
		return ','
	}
	return []rune(cfg.CSVDelimiter)[0]
}

func allBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// extractRow builds one row: context first, then declared fields with their
// casts, then the computed pass over the row as extracted so far.
func extractRow(run *pipeline.Runner, plan recordPlan, headerIdx map[string]int, hasHeader bool, cells []string) (records.Record, error) {
	row := make(records.Record, len(plan.columns))

	for _, c := range plan.rec.Context {
		switch {
		case c.Value != nil:
			row[c.Name] = c.Value
		case c.Expr() != "":
			var raw any
			if idx, ok := extract.ResolveColumn(c.Expr(), headerIdx, hasHeader); ok {
				raw = extract.Column(cells, idx)
			}
			v, err := cast.Value(raw, "string", run.SafeMode)
			if err != nil {
				return nil, err
			}
			row[c.Name] = v
		default:
			row[c.Name] = nil
		}
	}

	for _, fld := range plan.rec.Fields {
		if fld.IsComputed() {
			row[fld.Name] = nil
			continue
		}
		idx, ok := plan.fieldIdx[fld.Name]
		if !ok || idx < 0 {
			row[fld.Name] = nil
			continue
		}
		v, err := cast.Value(extract.Column(cells, idx), fld.Type, run.SafeMode)
		if err != nil {
			return nil, err
		}
		row[fld.Name] = v
	}

	if err := run.ComputeFields(plan.rec, row); err != nil {
		return nil, err
	}
	return row, nil
}
