// Package extract houses the per-format path extractors: column lookup for
// CSV, positional spans for fixed-width, dot/bracket paths and record
// selectors for JSON, and an XPath subset with a bounded compile cache for
// XML. Each extractor is a pure lookup: it produces a raw value or nil and
// never fails a row on its own.
package extract

import (
	"strconv"
	"strings"
)

// HeaderIndex builds the header-name to column-index map, resolved once per
// CSV file. The first header cell has any BOM stripped.
func HeaderIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		idx[h] = i
	}
	return idx
}

// ResolveColumn maps a field path to a column index. With a header, the
// path is a header name; without one, it is a zero-based index literal.
// ok is false when the name is unknown or the literal does not parse.
func ResolveColumn(path string, headerIdx map[string]int, hasHeader bool) (int, bool) {
	if hasHeader {
		i, ok := headerIdx[path]
		return i, ok
	}
	i, err := strconv.Atoi(path)
	if err != nil {
		return 0, false
	}
	return i, true
}

// Column returns the trimmed cell at idx, or nil when the index is out of
// range for this row.
func Column(cells []string, idx int) any {
	if idx < 0 || idx >= len(cells) {
		return nil
	}
	return strings.TrimSpace(cells[idx])
}
