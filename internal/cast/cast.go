// Package cast converts raw extracted values into typed output values.
//
// The caster is a single dispatch table over a closed set of type names:
// string, int, decimal/number, float, boolean/bool, date, datetime. Decimal
// values use exact base-10 arithmetic (shopspring/decimal); int parses
// through a decimal intermediate and truncates, so "5.9" casts to 5 rather
// than failing. Date and datetime are shape-checked strings, never parsed
// into time values, so they round-trip byte-for-byte to the output.
package cast

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	dateRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	datetimeRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)
)

// Error reports a failed conversion in strict mode, carrying the original
// text and the target type name.
type Error struct {
	Value string
	Type  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to cast %q to %s: %v", e.Value, e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Text normalizes an arbitrary extracted value to a trimmed string. It
// returns ok=false for nil input and for values that are empty after
// trimming; both are treated as null upstream.
func Text(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	case bool:
		s = strconv.FormatBool(t)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		s = fmt.Sprintf("%v", t)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// Value casts v to the named type. Null and empty input is null in both
// modes, before type dispatch. A list input uses its first element. In safe
// mode, any conversion failure yields (nil, nil); in strict mode it yields
// a *Error. Unknown type names log a warning and behave as string.
func Value(v any, typ string, safeMode bool) (any, error) {
	if v == nil {
		return nil, nil
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, nil
		}
		v = list[0]
	}
	s, ok := Text(v)
	if !ok {
		return nil, nil
	}

	if typ == "" {
		typ = "string"
	}
	fail := func(err error) (any, error) {
		if safeMode {
			return nil, nil
		}
		return nil, &Error{Value: s, Type: typ, Err: err}
	}

	switch strings.ToLower(typ) {
	case "string":
		return s, nil
	case "int":
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fail(err)
		}
		return d.IntPart(), nil
	case "decimal", "number":
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fail(err)
		}
		return d, nil
	case "float":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fail(err)
		}
		return f, nil
	case "boolean", "bool":
		switch strings.ToLower(s) {
		case "true", "yes", "1", "t", "y":
			return true, nil
		case "false", "no", "0", "f", "n":
			return false, nil
		}
		return fail(fmt.Errorf("cannot convert %q to boolean", s))
	case "date":
		if !dateRe.MatchString(s) {
			return fail(fmt.Errorf("invalid date format %q, expected YYYY-MM-DD", s))
		}
		return s, nil
	case "datetime":
		if !datetimeRe.MatchString(s) {
			return fail(fmt.Errorf("invalid datetime format %q, expected ISO format", s))
		}
		return s, nil
	}

	log.Printf("cast: unknown type %q, treating as string", typ)
	return s, nil
}
