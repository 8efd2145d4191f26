// Package json parses JSON documents into the row pipeline. The whole
// document is decoded up front (numbers kept as json.Number so decimal
// fields survive the round trip), each record's select expression picks a
// list of items, and field paths resolve against the item — or against the
// document root when prefixed with "$".
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tabular/internal/cast"
	"tabular/internal/config"
	"tabular/internal/extract"
	"tabular/internal/pipeline"
	"tabular/internal/textenc"
	"tabular/pkg/records"
)

// Parse consumes one JSON file.
func Parse(ctx context.Context, path string, run *pipeline.Runner) error {
	cfg := run.Cfg

	f, err := os.Open(path)
	if err != nil {
		return run.HandleFileError(path, err)
	}
	defer f.Close()

	decoded, err := textenc.Reader(f, cfg.JSONEncoding)
	if err != nil {
		return run.HandleFileError(path, err)
	}

	dec := json.NewDecoder(decoded)
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return run.HandleFileError(path, fmt.Errorf("invalid JSON in %s: %w", path, err))
	}

	if raw := schemaDocument(cfg, path); raw != nil {
		schema, err := compileSchema(raw)
		if err != nil {
			return run.HandleFileError(path, fmt.Errorf("invalid JSON schema: %w", err))
		}
		if err := schema.Validate(root); err != nil {
			return run.HandleFileError(path, fmt.Errorf("JSON schema validation failed: %w", err))
		}
	}

	for _, rec := range cfg.Records {
		items := extract.SelectRecords(root, rec.Select)
		if len(items) == 0 {
			log.Printf("no records found for %q with selector %q", rec.Name, rec.Select)
			continue
		}

		columns := rec.Columns()
		checks := pipeline.BuildFieldChecks(rec)

		for i, item := range items {
			select {
			case <-ctx.Done():
				return run.HandleFileError(path, ctx.Err())
			default:
			}
			run.LogProgress(rec.Name, i+1)
			if item == nil {
				continue
			}

			row, err := extractRow(run, rec, root, item)
			if err != nil {
				if herr := run.HandleRowError(rec.Name, err, i+1); herr != nil {
					return run.HandleFileError(path, herr)
				}
				continue
			}
			if err := run.ProcessRow(rec.Name, row, columns, checks); err != nil {
				return run.HandleFileError(path, err)
			}
		}
	}

	run.FinalizeStats()
	return nil
}

// schemaDocument materializes the configured JSON Schema text, inline
// document first, then json_schema_path resolved relative to the input
// file's directory. A schema file that cannot be read is logged and
// skipped; a schema that reads but does not compile fails the file.
func schemaDocument(cfg *config.Config, inputPath string) []byte {
	if len(cfg.JSONSchema) > 0 {
		return cfg.JSONSchema
	}
	if cfg.JSONSchemaPath == "" {
		return nil
	}
	p := cfg.JSONSchemaPath
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(inputPath), p)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		log.Printf("failed to load JSON schema from %s: %v", p, err)
		return nil
	}
	return b
}

func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// resolve follows a field path from the item, or from the document root
// when the path carries a "$" prefix. "$" alone yields the root itself.
func resolve(root, item any, path string) any {
	if strings.HasPrefix(path, "$") {
		clean := strings.TrimLeft(strings.TrimPrefix(path, "$"), ".")
		if clean == "" {
			return root
		}
		return extract.Path(root, clean)
	}
	return extract.Path(item, path)
}

func extractRow(run *pipeline.Runner, rec config.Record, root, item any) (records.Record, error) {
	row := make(records.Record, len(rec.Fields))

	for _, c := range rec.Context {
		switch {
		case c.Value != nil:
			row[c.Name] = c.Value
		case c.Expr() != "":
			v, err := cast.Value(resolve(root, item, c.Expr()), "string", run.SafeMode)
			if err != nil {
				return nil, err
			}
			row[c.Name] = v
		default:
			row[c.Name] = nil
		}
	}

	for _, fld := range rec.Fields {
		if fld.IsComputed() {
			row[fld.Name] = nil
			continue
		}
		if fld.Path == "" {
			row[fld.Name] = nil
			continue
		}
		raw := resolve(root, item, fld.Path)
		if strings.EqualFold(fld.Type, "json") && raw != nil {
			b, err := json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("field %s: serialize json: %w", fld.Name, err)
			}
			row[fld.Name] = string(b)
			continue
		}
		v, err := cast.Value(raw, fld.Type, run.SafeMode)
		if err != nil {
			return nil, err
		}
		row[fld.Name] = v
	}

	if err := run.ComputeFields(rec, row); err != nil {
		return nil, err
	}
	return row, nil
}
