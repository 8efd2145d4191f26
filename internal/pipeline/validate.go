// Package pipeline runs the shared per-row path used by every format
// parser: extract, cast, compute, validate, then route to the accepted or
// rejected destination, with row-level failure containment.
package pipeline

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"

	"tabular/internal/config"
)

// FieldCheck is one field's validation rules with its regex precompiled.
// Computed fields carry no checks and are excluded when building the list.
type FieldCheck struct {
	Field config.Field
	re    *regexp.Regexp
}

// BuildFieldChecks precompiles validation state for a record's non-computed
// fields. An invalid regex is rejected by config validation before a batch
// starts; here it simply disables the check.
func BuildFieldChecks(rec config.Record) []FieldCheck {
	checks := make([]FieldCheck, 0, len(rec.Fields))
	for _, f := range rec.Fields {
		if f.IsComputed() {
			continue
		}
		fc := FieldCheck{Field: f}
		if f.Regex != "" {
			// fullmatch semantics: the whole value must match
			if re, err := regexp.Compile(`\A(?:` + f.Regex + `)\z`); err == nil {
				fc.re = re
			}
		}
		checks = append(checks, fc)
	}
	return checks
}

// CheckValue validates a casted value against one field's rules. Null (or
// empty-string) values fail only the nullability rule; no further checks
// run on them. Only the first violated rule is reported per field, regex
// before range.
func CheckValue(v any, fc FieldCheck) (bool, string) {
	f := fc.Field
	if v == nil || v == "" {
		if !f.IsNullable() {
			return false, fmt.Sprintf("Field '%s' cannot be null", f.Name)
		}
		return true, ""
	}

	if fc.re != nil {
		if s, ok := v.(string); ok && !fc.re.MatchString(s) {
			return false, fmt.Sprintf("Field '%s' failed regex validation: %s", f.Name, f.Regex)
		}
	}

	if f.MinValue != nil || f.MaxValue != nil {
		num, ok := toFloat(v)
		if !ok {
			return false, fmt.Sprintf("Field '%s' cannot be converted to number for range validation", f.Name)
		}
		if f.MinValue != nil && num < *f.MinValue {
			return false, fmt.Sprintf("Field '%s' value %v below minimum %v", f.Name, num, *f.MinValue)
		}
		if f.MaxValue != nil && num > *f.MaxValue {
			return false, fmt.Sprintf("Field '%s' value %v above maximum %v", f.Name, num, *f.MaxValue)
		}
	}

	return true, ""
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case decimal.Decimal:
		return t.InexactFloat64(), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
