// Package formula interpolates computed-field formulas against a row.
//
// A formula is a template with {name} placeholders referencing columns
// already resolved in the row. One built-in transform exists: a formula of
// the exact shape hash_md5(<inner>) interpolates <inner> and returns the
// hex MD5 digest of the result's UTF-8 bytes.
package formula

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"

	"tabular/pkg/records"
)

var (
	hashMD5Re     = regexp.MustCompile(`^hash_md5\((.+)\)$`)
	placeholderRe = regexp.MustCompile(`\{([^}]+)\}`)
)

// Interpolate resolves placeholders in formula from row values. Missing or
// null values render as the empty string; decimals render in plain fixed
// notation, never exponential. Malformed brace syntax is not validated; it
// simply matches no placeholder and passes through literally.
func Interpolate(formula string, row records.Record) string {
	if formula == "" {
		return ""
	}
	if m := hashMD5Re.FindStringSubmatch(strings.TrimSpace(formula)); m != nil {
		sum := md5.Sum([]byte(substitute(m[1], row)))
		return hex.EncodeToString(sum[:])
	}
	return substitute(formula, row)
}

func substitute(template string, row records.Record) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(tok string) string {
		name := tok[1 : len(tok)-1]
		return records.Render(row[name])
	})
}
