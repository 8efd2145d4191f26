package xml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tabular/internal/config"
	"tabular/internal/extract"
	"tabular/internal/pipeline"
	"tabular/internal/stats"
	"tabular/pkg/records"
)

type memSink struct {
	rows     map[string][]records.Record
	rejected map[string][]string
}

func newMemSink() *memSink {
	return &memSink{rows: map[string][]records.Record{}, rejected: map[string][]string{}}
}

func (m *memSink) WriteRow(record string, row records.Record, columns []string) error {
	clone := make(records.Record, len(row))
	for k, v := range row {
		clone[k] = v
	}
	m.rows[record] = append(m.rows[record], clone)
	return nil
}

func (m *memSink) WriteRejected(record string, row records.Record, errReason string, columns []string) error {
	m.rejected[record] = append(m.rejected[record], errReason)
	return nil
}

func (m *memSink) RowCount(record string) int64 { return int64(len(m.rows[record])) }

func (m *memSink) Close() error { return nil }

func parseDoc(t *testing.T, doc, body string) (*memSink, *pipeline.Runner, error) {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "in.xml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	snk := newMemSink()
	run := pipeline.NewRunner(cfg, snk, map[string]*stats.Parsing{})
	return snk, run, Parse(context.Background(), path, run)
}

// TestParse_Basic covers node selection, relative field paths, attribute
// extraction, casting, and a document-rooted context expression.
func TestParse_Basic(t *testing.T) {
	doc := `{
		"format_type": "xml",
		"records": [{
			"name": "items",
			"select": "//item",
			"context": [{"name": "batch", "from": "/export/@batch"}],
			"fields": [
				{"name": "sku", "path": "@sku"},
				{"name": "qty", "path": "qty", "type": "int"},
				{"name": "price", "path": "price", "type": "decimal"}
			]
		}]
	}`
	body := `<export batch="B7">
		<item sku="A100"><qty>3</qty><price>9.99</price></item>
		<item sku="A101"><qty>12</qty><price>0.5</price></item>
	</export>`

	snk, run, err := parseDoc(t, doc, body)
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}
	if st := run.Stats("items"); st.SuccessRows != 2 {
		t.Fatalf("SuccessRows = %d, want 2", st.SuccessRows)
	}
	got := snk.rows["items"]
	if got[0]["sku"] != "A100" || got[0]["qty"] != int64(3) || got[0]["batch"] != "B7" {
		t.Fatalf("row[0] = %v", got[0])
	}
	if got[1]["sku"] != "A101" {
		t.Fatalf("row[1] = %v", got[1])
	}
}

// TestParse_DirectTextOnly verifies element extraction takes the node's
// own text, not the concatenation of its descendants.
func TestParse_DirectTextOnly(t *testing.T) {
	doc := `{
		"format_type": "xml",
		"records": [{"name": "r", "select": "//entry", "fields": [
			{"name": "label", "path": "."},
			{"name": "nested", "path": "child"}
		]}]
	}`
	body := `<root><entry> outer <child>inner</child></entry></root>`

	snk, _, err := parseDoc(t, doc, body)
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}
	got := snk.rows["r"]
	if len(got) != 1 || got[0]["label"] != "outer" || got[0]["nested"] != "inner" {
		t.Fatalf("rows = %v", got)
	}
}

// TestParse_DefaultNamespace verifies the automatic ns0 binding for a
// default namespace and its use in select and field paths.
func TestParse_DefaultNamespace(t *testing.T) {
	doc := `{
		"format_type": "xml",
		"records": [{"name": "r", "select": "//ns0:item", "fields": [
			{"name": "id", "path": "ns0:id", "type": "int"}
		]}]
	}`
	body := `<feed xmlns="urn:acme:feed"><item><id>5</id></item></feed>`

	snk, _, err := parseDoc(t, doc, body)
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}
	got := snk.rows["r"]
	if len(got) != 1 || got[0]["id"] != int64(5) {
		t.Fatalf("rows = %v", got)
	}
}

// TestParse_ConfigNamespaceOverride verifies explicitly configured
// prefixes win over document-declared ones.
func TestParse_ConfigNamespaceOverride(t *testing.T) {
	doc := `{
		"format_type": "xml",
		"namespaces": {"f": "urn:acme:feed"},
		"records": [{"name": "r", "select": "//f:item", "fields": [
			{"name": "id", "path": "f:id", "type": "int"}
		]}]
	}`
	body := `<x:feed xmlns:x="urn:acme:feed"><x:item><x:id>9</x:id></x:item></x:feed>`

	snk, _, err := parseDoc(t, doc, body)
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}
	got := snk.rows["r"]
	if len(got) != 1 || got[0]["id"] != int64(9) {
		t.Fatalf("rows = %v", got)
	}
}

// TestParse_UndefinedPrefix verifies an expression using an unbound prefix
// fails the file before any rows process.
func TestParse_UndefinedPrefix(t *testing.T) {
	doc := `{
		"format_type": "xml",
		"records": [{"name": "r", "select": "//miss:item", "fields": [
			{"name": "id", "path": "id"}
		]}]
	}`
	_, run, err := parseDoc(t, doc, `<root><item><id>1</id></item></root>`)
	var uerr *extract.UndefinedPrefixError
	if err == nil || !errors.As(err, &uerr) || uerr.Prefix != "miss" {
		t.Fatalf("Parse error = %v, want undefined prefix 'miss'", err)
	}
	if st := run.Stats("r"); st.TotalRows != 0 {
		t.Fatalf("TotalRows = %d, want 0", st.TotalRows)
	}
}

// TestParse_StructuralFieldTypes verifies the xml and json field types
// serialize subtrees instead of casting text.
func TestParse_StructuralFieldTypes(t *testing.T) {
	doc := `{
		"format_type": "xml",
		"records": [{"name": "r", "select": "//item", "fields": [
			{"name": "raw", "path": "spec", "type": "xml"},
			{"name": "doc", "path": "spec", "type": "json"},
			{"name": "gone", "path": "missing", "type": "json"}
		]}]
	}`
	body := `<root><item><spec unit="mm"><w>10</w></spec></item></root>`

	snk, _, err := parseDoc(t, doc, body)
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}
	got := snk.rows["r"]
	if len(got) != 1 {
		t.Fatalf("rows = %v", got)
	}
	raw, _ := got[0]["raw"].(string)
	if !strings.Contains(raw, `unit="mm"`) || !strings.Contains(raw, "<w>10</w>") {
		t.Fatalf("raw = %q", raw)
	}
	if got[0]["doc"] != `{"spec":{"@unit":"mm","w":"10"}}` {
		t.Fatalf("doc = %v", got[0]["doc"])
	}
	if got[0]["gone"] != nil {
		t.Fatalf("gone = %v, want nil", got[0]["gone"])
	}
}

// TestParse_XPathScalarResult verifies function-valued paths (count, sum)
// flow through the cast as scalars.
func TestParse_XPathScalarResult(t *testing.T) {
	doc := `{
		"format_type": "xml",
		"records": [{"name": "r", "select": "/order", "fields": [
			{"name": "line_count", "path": "count(line)", "type": "int"}
		]}]
	}`
	body := `<order><line/><line/><line/></order>`

	snk, _, err := parseDoc(t, doc, body)
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}
	got := snk.rows["r"]
	if len(got) != 1 || got[0]["line_count"] != int64(3) {
		t.Fatalf("rows = %v", got)
	}
}

// TestParse_MalformedDocument verifies unparseable XML routes through the
// file-error policy.
func TestParse_MalformedDocument(t *testing.T) {
	_, _, err := parseDoc(t, `{
		"format_type": "xml",
		"records": [{"name": "r", "select": "//item", "fields": [{"name": "a", "path": "a"}]}]
	}`, `<root><item></root>`)
	if err == nil || !strings.Contains(err.Error(), "XML parsing error") {
		t.Fatalf("Parse error = %v, want parse failure", err)
	}
}
