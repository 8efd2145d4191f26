// Package parser dispatches input files to the format-specific parsers.
// Each parser walks its input shape (lines, DOM nodes, selected JSON
// nodes), produces raw per-row data, and delegates to the shared row
// pipeline. A parser reports file-level success or failure; row-level
// outcomes live in the pipeline's stats.
package parser

import (
	"context"
	"fmt"

	"tabular/internal/config"
	csvparser "tabular/internal/parser/csv"
	"tabular/internal/parser/fixedwidth"
	jsonparser "tabular/internal/parser/json"
	xmlparser "tabular/internal/parser/xml"
	"tabular/internal/pipeline"
)

// ParseFunc consumes one input file through the row pipeline.
type ParseFunc func(ctx context.Context, path string, run *pipeline.Runner) error

// For resolves the parser for a format_type value.
func For(format string) (ParseFunc, error) {
	switch format {
	case config.FormatCSV:
		return csvparser.Parse, nil
	case config.FormatFixedWidth:
		return fixedwidth.Parse, nil
	case config.FormatJSON:
		return jsonparser.Parse, nil
	case config.FormatXML:
		return xmlparser.Parse, nil
	}
	return nil, fmt.Errorf("unsupported format: %q", format)
}
