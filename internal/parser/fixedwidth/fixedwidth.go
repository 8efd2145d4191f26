// Package fixedwidth parses column-aligned text files into the row
// pipeline. Field spans resolve from start with exactly one of end or
// width; extraction clamps the span to the physical line so short lines
// truncate instead of failing.
//
// Routing: a record may declare a discriminator (record_type_field plus
// record_type_value); a physical line is routed only to records whose
// discriminator value matches, trimmed substring equality. When no record
// declares one, every line is offered to every record.
package fixedwidth

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"tabular/internal/cast"
	"tabular/internal/config"
	"tabular/internal/extract"
	"tabular/internal/pipeline"
	"tabular/internal/textenc"
	"tabular/pkg/records"
)

// maxLine bounds a single physical line; fixed-width layouts are far
// narrower in practice.
const maxLine = 4 << 20

type recordPlan struct {
	rec     config.Record
	spans   map[string]extract.Span
	columns []string
	checks  []pipeline.FieldCheck
}

// Parse consumes one fixed-width file.
func Parse(ctx context.Context, path string, run *pipeline.Runner) error {
	cfg := run.Cfg

	f, err := os.Open(path)
	if err != nil {
		return run.HandleFileError(path, err)
	}
	defer f.Close()

	decoded, err := textenc.Reader(f, cfg.FixedWidthEncoding)
	if err != nil {
		return run.HandleFileError(path, err)
	}

	plans := buildPlans(cfg)

	sc := bufio.NewScanner(decoded)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	lineNum := 0
	skipped := 0
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return run.HandleFileError(path, ctx.Err())
		default:
		}

		if skipped < cfg.FixedWidthSkipRows {
			skipped++
			continue
		}
		line := strings.TrimRight(sc.Text(), "\r\n")
		lineNum++
		run.LogProgress("fixed-width", lineNum)
		if strings.TrimSpace(line) == "" {
			continue
		}

		matched := route(plans, line)
		for _, plan := range matched {
			row, err := extractRow(run, plan, line)
			if err != nil {
				if herr := run.HandleRowError(plan.rec.Name, err, lineNum); herr != nil {
					return run.HandleFileError(path, herr)
				}
				break
			}
			if err := run.ProcessRow(plan.rec.Name, row, plan.columns, plan.checks); err != nil {
				return run.HandleFileError(path, err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return run.HandleFileError(path, fmt.Errorf("read line: %w", err))
	}

	run.FinalizeStats()
	return nil
}

func buildPlans(cfg *config.Config) []recordPlan {
	plans := make([]recordPlan, 0, len(cfg.Records))
	for _, rec := range cfg.Records {
		plan := recordPlan{
			rec:     rec,
			spans:   map[string]extract.Span{},
			columns: rec.Columns(),
			checks:  pipeline.BuildFieldChecks(rec),
		}
		for _, fld := range rec.Fields {
			if fld.IsComputed() {
				continue
			}
			start, end, ok := fld.Span()
			if !ok {
				log.Printf("record %s: field %q has no usable start/end position", rec.Name, fld.Name)
				continue
			}
			plan.spans[fld.Name] = extract.Span{Start: start, End: end}
		}
		plans = append(plans, plan)
	}
	return plans
}

// route selects which records see a physical line. A record with a
// discriminator matches only when the trimmed value at the discriminator
// span equals record_type_value; a record without one matches every line.
func route(plans []recordPlan, line string) []recordPlan {
	var matched []recordPlan
	for _, plan := range plans {
		rec := plan.rec
		if rec.RecordTypeField == "" || rec.RecordTypeValue == "" {
			matched = append(matched, plan)
			continue
		}
		sp, ok := plan.spans[rec.RecordTypeField]
		if !ok {
			log.Printf("record %s: record_type_field %q has no span", rec.Name, rec.RecordTypeField)
			continue
		}
		if v, ok := extract.Position(line, sp); ok && v == rec.RecordTypeValue {
			matched = append(matched, plan)
		}
	}
	return matched
}

func extractRow(run *pipeline.Runner, plan recordPlan, line string) (records.Record, error) {
	row := make(records.Record, len(plan.columns))

	for _, c := range plan.rec.Context {
		switch {
		case c.Value != nil:
			row[c.Name] = c.Value
		case c.Expr() != "":
			var raw any
			if sp, ok := plan.spans[c.Expr()]; ok {
				if v, ok := extract.Position(line, sp); ok {
					raw = v
				}
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
		sp, ok := plan.spans[fld.Name]
		if !ok {
			row[fld.Name] = nil
			continue
		}
		var raw any
		if v, ok := extract.Position(line, sp); ok {
			if v == "" && fld.IsNullable() {
				raw = nil
			} else {
				raw = v
			}
		}
		v, err := cast.Value(raw, fld.Type, run.SafeMode)
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
