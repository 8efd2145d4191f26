package extract

import "strings"

// Span is a resolved fixed-width field position, half-open [Start, End).
type Span struct {
	Start int
	End   int
}

// Position extracts and trims the span from a physical line. ok is false
// when the line is too short to contain the span's start; End beyond the
// line length is clamped, truncating the value rather than failing.
func Position(line string, sp Span) (string, bool) {
	if sp.Start >= len(line) {
		return "", false
	}
	end := sp.End
	if end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[sp.Start:end]), true
}
