// Package config defines the canonical, JSON-serializable configuration model
// for the conversion engine. It is intentionally explicit and decoded by the
// standard library so that configurations can be loaded from disk and passed
// through the program without additional glue code.
//
// Design goals:
//
//  1. One validation pass: the raw JSON is decoded once into this typed tree
//     and linted by Validate; downstream components never touch raw maps.
//  2. Clarity: Go field names mirror the JSON keys used in conversion
//     configuration files.
//  3. Minimalism: no third-party config libraries; a light Options helper
//     covers the free-form output.options object of backend-specific keys.
//
// Example (trimmed):
//
//	{
//	  "format_type": "csv",
//	  "records": [
//	    { "name": "tx", "fields": [ { "name": "id", "path": "id", "type": "string" } ] }
//	  ],
//	  "normalization": { "cast_mode": "safe" },
//	  "output": { "flush_every": 1000 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Format names accepted in format_type.
const (
	FormatXML        = "xml"
	FormatCSV        = "csv"
	FormatJSON       = "json"
	FormatFixedWidth = "fixed_width"
)

// Config is the top-level object decoded from a configuration file.
type Config struct {
	// FormatType selects the input parser: xml|csv|json|fixed_width.
	FormatType string `json:"format_type"`

	// Records lists the logical row shapes extracted from each input file.
	Records []Record `json:"records"`

	// ComputedFields holds named formulas referenced by computed-type fields.
	ComputedFields []ComputedField `json:"computed_fields"`

	// Namespaces maps XML prefixes to URIs. Ignored for non-XML formats.
	Namespaces map[string]string `json:"namespaces"`

	Normalization Normalization `json:"normalization"`
	Output        Output        `json:"output"`

	// ContinueOnError skips rows that fail during extraction or casting
	// instead of aborting the containing file.
	ContinueOnError bool `json:"continueOnError"`

	// IgnoreBrokenFiles contains whole-file parse failures inside the parser
	// so the batch keeps going; the file is still reported as failed.
	IgnoreBrokenFiles bool `json:"ignoreBrokenFiles"`

	// MaxFileSize caps the size of any single input file, in bytes.
	// Nil means unlimited. Symlinks are resolved to their target size.
	MaxFileSize *int64 `json:"max_file_size"`

	// MaxFiles truncates the batch to the first N input files. Nil = no cap.
	MaxFiles *int `json:"max_files"`

	// FileMask filters input files by a regular expression applied to the
	// file name. Filtering to zero files aborts the batch.
	FileMask string `json:"file_mask"`

	// ProgressInterval controls the row-count logging heartbeat. Zero or
	// negative disables it. Defaults to 10000 when absent.
	ProgressInterval int `json:"progress_interval"`

	// CSV-specific keys.
	CSVDelimiter   string `json:"csv_delimiter"`
	CSVQuoteChar   string `json:"csv_quotechar"`
	CSVEscapeChar  string `json:"csv_escapechar"`
	CSVDoubleQuote *bool  `json:"csv_doublequote"`
	CSVHasHeader   *bool  `json:"csv_has_header"`
	CSVSkipRows    int    `json:"csv_skip_rows"`
	CSVEncoding    string `json:"csv_encoding"`

	// Fixed-width-specific keys.
	FixedWidthEncoding string `json:"fixed_width_encoding"`
	FixedWidthSkipRows int    `json:"fixed_width_skip_rows"`

	// JSON-specific keys. A schema, when present, is validated against the
	// whole document before any row is processed.
	JSONEncoding   string          `json:"json_encoding"`
	JSONSchema     json.RawMessage `json:"json_schema"`
	JSONSchemaPath string          `json:"json_schema_path"`
}

// Normalization groups value-normalization settings.
type Normalization struct {
	// CastMode is "safe" (failed casts become null) or "strict" (failed
	// casts are errors carried up through the row pipeline).
	CastMode string `json:"cast_mode"`
}

// Output configures the sink side of a batch.
type Output struct {
	// Kind selects the sink implementation: csv (default), sqlite, postgres.
	Kind string `json:"kind"`

	// DSN is the connection string for database sinks.
	DSN string `json:"dsn"`

	// FlushEvery controls flush cadence: absent = every 1000 rows,
	// null = every row, 0 = only at close, N = every N rows.
	FlushEvery FlushPolicy `json:"flush_every"`

	// IncludeRejected enables the <record>_rejected destination carrying a
	// trailing _error_reason column. Defaults to true.
	IncludeRejected *bool `json:"include_rejected"`

	// Dedupe drops exact duplicate accepted rows per record, keep-first.
	Dedupe bool `json:"dedupe"`

	// Options carries backend-specific settings the typed model does not
	// enumerate, such as csv "delimiter" or sqlite "journal_mode".
	Options Options `json:"options"`
}

// FlushPolicy is the three-state flush_every setting. JSON null and an
// absent key decode differently: null means "flush every row", absent
// falls back to the default cadence applied in Load.
type FlushPolicy struct {
	Set      bool
	EveryRow bool
	N        int
}

// UnmarshalJSON implements json.Unmarshaler for the null/number split.
func (f *FlushPolicy) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = FlushPolicy{Set: true, EveryRow: true}
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("flush_every must not be negative, got %d", n)
	}
	*f = FlushPolicy{Set: true, N: n}
	return nil
}

// Record describes one named, repeating logical row shape.
type Record struct {
	// Name is the output table/file name, unique within the config.
	Name string `json:"name"`

	// Select identifies the repeating node/array the record is extracted
	// from. Required for XML (XPath) and JSON (selector); ignored for CSV
	// and fixed-width, which are one-record-per-line.
	Select string `json:"select"`

	// Context lists variables resolved once per matched record, emitted
	// before the fields in the output column order.
	Context []Context `json:"context"`

	// Fields lists the extracted columns in output order.
	Fields []Field `json:"fields"`

	// RecordTypeField/RecordTypeValue form the optional fixed-width
	// discriminator: a physical line is routed to this record only when the
	// named field's trimmed value equals RecordTypeValue.
	RecordTypeField string `json:"record_type_field"`
	RecordTypeValue string `json:"record_type_value"`
}

// Columns returns the output column order: context names followed by field
// names, duplicates collapsed keeping the first occurrence.
func (r Record) Columns() []string {
	seen := make(map[string]struct{}, len(r.Context)+len(r.Fields))
	out := make([]string, 0, len(r.Context)+len(r.Fields))
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, c := range r.Context {
		add(c.Name)
	}
	for _, f := range r.Fields {
		add(f.Name)
	}
	return out
}

// Context is a per-record variable: exactly one of Value (static) or From
// (extraction expression, same syntax as field paths, always cast to string).
type Context struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	From  string `json:"from"`
	// FromExpr is a legacy alias for From.
	FromExpr string `json:"from_expr"`
}

// Expr returns the extraction expression, honoring the legacy alias.
func (c Context) Expr() string {
	if c.From != "" {
		return c.From
	}
	return c.FromExpr
}

// Field describes one extracted output column.
type Field struct {
	Name string `json:"name"`

	// Path is the extraction expression; its syntax is format-specific
	// (header name or index for CSV, XPath for XML, dot/bracket path for
	// JSON). Empty for computed and fixed-width fields.
	Path string `json:"path"`

	// Type is one of string/int/decimal/number/float/boolean/bool/date/
	// datetime/computed/json/xml. Empty defaults to string.
	Type string `json:"type"`

	// Nullable defaults to true; non-nullable fields reject null values
	// during validation.
	Nullable *bool `json:"nullable"`

	// ComputedField names the formula for computed-type fields.
	ComputedField string `json:"computed_field"`

	// Start with exactly one of End or Width define the fixed-width span.
	Start *int `json:"start"`
	End   *int `json:"end"`
	Width *int `json:"width"`

	// Validation rules applied to the casted value.
	Regex    string   `json:"regex"`
	MinValue *float64 `json:"min_value"`
	MaxValue *float64 `json:"max_value"`

	Default any `json:"default"`
}

// IsComputed reports whether the field derives from a formula.
func (f Field) IsComputed() bool { return f.Type == "computed" }

// IsNullable reports the nullable flag with its default of true.
func (f Field) IsNullable() bool { return f.Nullable == nil || *f.Nullable }

// Span resolves the fixed-width (start, end) pair, deriving end from width
// when needed. ok is false when the field has no usable span.
func (f Field) Span() (start, end int, ok bool) {
	if f.Start == nil {
		return 0, 0, false
	}
	start = *f.Start
	switch {
	case f.End != nil:
		end = *f.End
	case f.Width != nil:
		end = start + *f.Width
	default:
		return 0, 0, false
	}
	if end <= start {
		return 0, 0, false
	}
	return start, end, true
}

// ComputedField is a named formula with the cast applied to its result.
type ComputedField struct {
	Name    string `json:"name"`
	Formula string `json:"formula"`
	Type    string `json:"type"`
}

// SafeMode reports whether failed casts become null rather than errors.
func (c *Config) SafeMode() bool {
	return c.Normalization.CastMode != "strict"
}

// CSVHeader reports csv_has_header with its default of true.
func (c *Config) CSVHeader() bool {
	return c.CSVHasHeader == nil || *c.CSVHasHeader
}

// RejectedOutput reports output.include_rejected with its default of true.
func (c *Config) RejectedOutput() bool {
	return c.Output.IncludeRejected == nil || *c.Output.IncludeRejected
}

// Computed returns the formula table keyed by name.
func (c *Config) Computed() map[string]ComputedField {
	out := make(map[string]ComputedField, len(c.ComputedFields))
	for _, cf := range c.ComputedFields {
		out[cf.Name] = cf
	}
	return out
}

// defaultFlushEvery is applied when output.flush_every is absent.
const defaultFlushEvery = 1000

// defaultProgressInterval is applied when progress_interval is absent.
const defaultProgressInterval = 10000

// Load reads and decodes a configuration file, applying defaults for absent
// keys. It does not lint the result; callers run Validate separately so all
// structural problems surface as one batch.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes configuration JSON and applies defaults.
func Parse(b []byte) (*Config, error) {
	cfg := &Config{ProgressInterval: defaultProgressInterval}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if !cfg.Output.FlushEvery.Set {
		cfg.Output.FlushEvery = FlushPolicy{Set: true, N: defaultFlushEvery}
	}
	return cfg, nil
}

// Options is the free-form output.options object. Sink backends read their
// own keys from it through the typed accessors, which perform minimal
// coercion and return the provided default when a key is absent or of an
// unexpected type. All accessors are safe on a nil map.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// so this method accepts float64 and casts to int.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. Useful for single-character settings such as a CSV
// delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null options
// object decodes to a non-nil, empty Options map, removing nil checks at the
// call sites.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
