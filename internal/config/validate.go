// Package config provides configuration models and helpers for the
// conversion engine.
//
// This file adds a lightweight linter/validator for Config values. It
// performs static checks over a decoded Config and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests. Findings
// are collected, never fail-fast, so a user sees every problem at once.
package config

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be
	// surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Config.
//
// Path is a dotted path into the config (e.g. "format_type",
// "records[1].fields[0].regex"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a
// single error in contexts that expect one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Errors filters a finding list down to error severity.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			out = append(out, iss)
		}
	}
	return out
}

// Validate performs static validation / linting of a Config.
//
// It does not mutate the config. Callers may decide whether to treat
// warnings as fatal; a config with zero error-severity issues is the only
// kind a batch accepts.
func Validate(c *Config) []Issue {
	var issues []Issue

	format := c.FormatType
	switch format {
	case "":
		issues = append(issues, Issue{SeverityError, "format_type", "missing required field"})
	case FormatXML, FormatCSV, FormatJSON, FormatFixedWidth:
	default:
		issues = append(issues, Issue{SeverityError, "format_type",
			fmt.Sprintf("invalid format_type: %q", format)})
	}

	if len(c.Records) == 0 {
		issues = append(issues, Issue{SeverityError, "records", "must be a non-empty list"})
	}

	computedNames := make(map[string]struct{}, len(c.ComputedFields))
	for i, comp := range c.ComputedFields {
		if comp.Name == "" {
			issues = append(issues, Issue{SeverityError,
				fmt.Sprintf("computed_fields[%d].name", i), "must not be empty"})
			continue
		}
		computedNames[comp.Name] = struct{}{}
	}

	recordNames := make(map[string]struct{}, len(c.Records))
	for i, rec := range c.Records {
		issues = append(issues, validateRecord(i, rec, format, c, computedNames, recordNames)...)
	}

	issues = append(issues, validateNormalization(c.Normalization)...)
	issues = append(issues, validateOutput(c.Output)...)
	issues = append(issues, validateBatchLimits(c)...)
	if format == FormatCSV {
		issues = append(issues, validateCSVOptions(c)...)
	}

	return issues
}

// validateRecord checks one record definition.
func validateRecord(idx int, rec Record, format string, c *Config,
	computedNames, recordNames map[string]struct{}) []Issue {

	var issues []Issue
	base := fmt.Sprintf("records[%d]", idx)
	name := rec.Name
	if name == "" {
		issues = append(issues, Issue{SeverityError, base + ".name", "missing 'name' field"})
		name = fmt.Sprintf("<unnamed-%d>", idx)
	} else if _, dup := recordNames[name]; dup {
		issues = append(issues, Issue{SeverityError, base + ".name",
			fmt.Sprintf("duplicate record name %q", name)})
	}
	recordNames[name] = struct{}{}

	if (format == FormatXML || format == FormatJSON) && strings.TrimSpace(rec.Select) == "" {
		issues = append(issues, Issue{SeverityError, base + ".select",
			fmt.Sprintf("%s records must have a non-empty 'select' expression", format)})
	}

	if len(rec.Fields) == 0 {
		issues = append(issues, Issue{SeverityError, base + ".fields", "missing 'fields' list"})
		return issues
	}

	fieldNames := make(map[string]int, len(rec.Fields))
	for _, f := range rec.Fields {
		fieldNames[f.Name]++
	}
	var dups []string
	for n, count := range fieldNames {
		if count > 1 {
			dups = append(dups, n)
		}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		issues = append(issues, Issue{SeverityError, base + ".fields",
			fmt.Sprintf("record %q: duplicate field names: %s", name, strings.Join(dups, ", "))})
	}

	for fi, f := range rec.Fields {
		fbase := fmt.Sprintf("%s.fields[%d]", base, fi)
		fname := f.Name
		if fname == "" {
			issues = append(issues, Issue{SeverityError, fbase + ".name", "must not be empty"})
			fname = fmt.Sprintf("<unnamed-%d>", fi)
		}

		if f.IsComputed() {
			if f.ComputedField == "" {
				issues = append(issues, Issue{SeverityError, fbase + ".computed_field",
					fmt.Sprintf("computed field %q missing 'computed_field' reference", fname)})
			} else if _, ok := computedNames[f.ComputedField]; !ok {
				issues = append(issues, Issue{SeverityError, fbase + ".computed_field",
					fmt.Sprintf("computed_field %q not defined in 'computed_fields'", f.ComputedField)})
			}
		} else if format == FormatFixedWidth {
			issues = append(issues, validateFixedWidthField(fbase, fname, f)...)
		} else {
			if strings.TrimSpace(f.Path) == "" {
				issues = append(issues, Issue{SeverityError, fbase + ".path",
					fmt.Sprintf("non-computed field %q missing 'path'", fname)})
			}
			if format == FormatCSV && !c.CSVHeader() && f.Path != "" {
				if _, err := strconv.Atoi(f.Path); err != nil {
					issues = append(issues, Issue{SeverityError, fbase + ".path",
						fmt.Sprintf("CSV without headers requires an integer column index, got %q", f.Path)})
				}
			}
		}

		if f.Regex != "" {
			if _, err := regexp.Compile(f.Regex); err != nil {
				issues = append(issues, Issue{SeverityError, fbase + ".regex",
					fmt.Sprintf("invalid regex pattern %q: %v", f.Regex, err)})
			}
		}
		if f.MinValue != nil && f.MaxValue != nil && *f.MinValue > *f.MaxValue {
			issues = append(issues, Issue{SeverityError, fbase + ".min_value",
				fmt.Sprintf("min_value %v exceeds max_value %v", *f.MinValue, *f.MaxValue)})
		}
	}

	for ci, ctx := range rec.Context {
		cbase := fmt.Sprintf("%s.context[%d]", base, ci)
		if ctx.Name == "" {
			issues = append(issues, Issue{SeverityError, cbase + ".name", "must not be empty"})
		}
		if ctx.Value != nil && ctx.Expr() != "" {
			issues = append(issues, Issue{SeverityError, cbase,
				fmt.Sprintf("context %q must set exactly one of 'value' or 'from'", ctx.Name)})
		}
	}

	if format == FormatFixedWidth && rec.RecordTypeField != "" {
		found := false
		for _, f := range rec.Fields {
			if f.Name == rec.RecordTypeField {
				found = true
				break
			}
		}
		if !found {
			issues = append(issues, Issue{SeverityError, base + ".record_type_field",
				fmt.Sprintf("record_type_field %q is not a declared field", rec.RecordTypeField)})
		}
	}

	return issues
}

// validateFixedWidthField checks the start/end/width span rules.
func validateFixedWidthField(fbase, fname string, f Field) []Issue {
	var issues []Issue

	if f.Start == nil {
		issues = append(issues, Issue{SeverityError, fbase + ".start",
			fmt.Sprintf("fixed-width field %q missing 'start'", fname)})
	} else if *f.Start < 0 {
		issues = append(issues, Issue{SeverityError, fbase + ".start",
			"'start' must be a non-negative integer"})
	}

	hasWidth := f.Width != nil
	hasEnd := f.End != nil
	switch {
	case hasWidth && hasEnd:
		issues = append(issues, Issue{SeverityError, fbase,
			fmt.Sprintf("field %q: cannot specify both 'width' and 'end'", fname)})
	case !hasWidth && !hasEnd:
		issues = append(issues, Issue{SeverityError, fbase,
			fmt.Sprintf("field %q: must specify either 'width' or 'end'", fname)})
	}
	if hasWidth && *f.Width <= 0 {
		issues = append(issues, Issue{SeverityError, fbase + ".width",
			"'width' must be a positive integer"})
	}
	if hasEnd {
		if *f.End < 0 {
			issues = append(issues, Issue{SeverityError, fbase + ".end",
				"'end' must be a non-negative integer"})
		} else if f.Start != nil && *f.End <= *f.Start {
			issues = append(issues, Issue{SeverityError, fbase + ".end",
				fmt.Sprintf("'end' (%d) must be greater than 'start' (%d)", *f.End, *f.Start)})
		}
	}
	return issues
}

func validateNormalization(n Normalization) []Issue {
	switch n.CastMode {
	case "", "safe", "strict":
		return nil
	}
	return []Issue{{SeverityError, "normalization.cast_mode",
		fmt.Sprintf("cast_mode must be \"safe\" or \"strict\", got %q", n.CastMode)}}
}

func validateOutput(o Output) []Issue {
	var issues []Issue
	switch o.Kind {
	case "", "csv":
	case "sqlite", "postgres":
		if strings.TrimSpace(o.DSN) == "" {
			issues = append(issues, Issue{SeverityError, "output.dsn",
				fmt.Sprintf("output kind %q requires a non-empty dsn", o.Kind)})
		}
	default:
		issues = append(issues, Issue{SeverityWarning, "output.kind",
			fmt.Sprintf("unknown output kind %q; ensure a matching sink is registered", o.Kind)})
	}
	return issues
}

func validateBatchLimits(c *Config) []Issue {
	var issues []Issue
	if c.MaxFileSize != nil && *c.MaxFileSize <= 0 {
		issues = append(issues, Issue{SeverityError, "max_file_size",
			fmt.Sprintf("must be a positive byte count, got %d", *c.MaxFileSize)})
	}
	if c.MaxFiles != nil && *c.MaxFiles <= 0 {
		issues = append(issues, Issue{SeverityError, "max_files",
			fmt.Sprintf("must be greater than 0, got %d", *c.MaxFiles)})
	}
	if c.FileMask != "" {
		if _, err := regexp.Compile(c.FileMask); err != nil {
			issues = append(issues, Issue{SeverityError, "file_mask",
				fmt.Sprintf("invalid regex pattern %q: %v", c.FileMask, err)})
		}
	}
	return issues
}

// validateCSVOptions sanity-checks the csv_* keys against what the reader
// implementation actually supports.
func validateCSVOptions(c *Config) []Issue {
	var issues []Issue
	if c.CSVQuoteChar != "" && c.CSVQuoteChar != `"` {
		issues = append(issues, Issue{SeverityWarning, "csv_quotechar",
			fmt.Sprintf("only the double-quote character is supported; got %q", c.CSVQuoteChar)})
	}
	if len(c.CSVDelimiter) > 1 {
		issues = append(issues, Issue{SeverityWarning, "csv_delimiter",
			fmt.Sprintf("only the first character of %q is used", c.CSVDelimiter)})
	}
	if c.CSVSkipRows < 0 {
		issues = append(issues, Issue{SeverityError, "csv_skip_rows", "must not be negative"})
	}
	return issues
}
