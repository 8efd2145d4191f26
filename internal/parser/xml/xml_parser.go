// Package xml parses XML documents into the row pipeline. Each record's
// select expression picks a node set, field paths evaluate relative to the
// matched node (or the document when the path starts with "/"), and two
// structural field types serialize subtrees instead of casting scalars:
// "xml" keeps the raw markup, "json" converts the subtree to a JSON string.
//
// Namespace handling: declarations found anywhere in the document are
// collected first, config namespaces override them, and a default
// (unprefixed) namespace is auto-bound to the prefix ns0 when that leaves
// no ambiguity. Expressions using a prefix with no mapping fail the whole
// file.
package xml

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"tabular/internal/cast"
	"tabular/internal/config"
	"tabular/internal/extract"
	"tabular/internal/pipeline"
	"tabular/pkg/records"
)

// xpathCache is shared across files in a batch; the same config's
// expressions recompile at most once per namespace set.
var xpathCache = extract.NewXPathCache(256)

type recordPlan struct {
	rec     config.Record
	sel     *xpath.Expr
	context map[string]*xpath.Expr
	fields  map[string]*xpath.Expr
	columns []string
	checks  []pipeline.FieldCheck
}

// Parse consumes one XML file.
func Parse(ctx context.Context, path string, run *pipeline.Runner) error {
	f, err := os.Open(path)
	if err != nil {
		return run.HandleFileError(path, err)
	}
	defer f.Close()

	doc, err := xmlquery.Parse(f)
	if err != nil {
		return run.HandleFileError(path, fmt.Errorf("XML parsing error in %s: %w", path, err))
	}

	ns := effectiveNamespaces(doc, run.Cfg.Namespaces)

	plans, err := buildPlans(run.Cfg, ns)
	if err != nil {
		return run.HandleFileError(path, err)
	}

	for _, plan := range plans {
		nodes := nodeSet(extract.Evaluate(plan.sel, doc))

		for i, node := range nodes {
			select {
			case <-ctx.Done():
				return run.HandleFileError(path, ctx.Err())
			default:
			}
			run.LogProgress(plan.rec.Name, i+1)

			row, err := extractRow(run, plan, doc, node)
			if err != nil {
				if herr := run.HandleRowError(plan.rec.Name, err, i+1); herr != nil {
					return run.HandleFileError(path, herr)
				}
				continue
			}
			if err := run.ProcessRow(plan.rec.Name, row, plan.columns, plan.checks); err != nil {
				return run.HandleFileError(path, err)
			}
		}
	}

	run.FinalizeStats()
	return nil
}

// effectiveNamespaces merges config namespaces over those declared in the
// document. A default namespace URI not otherwise reachable is bound to
// ns0, unless ns0 is already taken, which gets a warning instead; XPath
// has no way to address an unprefixed namespace without a binding.
func effectiveNamespaces(doc *xmlquery.Node, configured map[string]string) map[string]string {
	ns, defaultURI := extract.ScanNamespaces(doc)
	for p, uri := range configured {
		ns[p] = uri
	}
	if defaultURI == "" {
		return ns
	}
	bound := false
	for _, uri := range ns {
		if uri == defaultURI {
			bound = true
			break
		}
	}
	if !bound {
		if _, taken := ns["ns0"]; !taken {
			ns["ns0"] = defaultURI
			log.Printf("detected default XML namespace URI=%s; auto-mapped to prefix 'ns0'", defaultURI)
		} else {
			log.Printf("default namespace detected (URI=%s) but 'ns0' is already mapped; add an explicit prefix for it in config namespaces to use it in XPath", defaultURI)
		}
	}
	return ns
}

// buildPlans precompiles every expression a record will evaluate. Any
// compile failure, including an undefined namespace prefix, aborts the
// file before row processing starts.
func buildPlans(cfg *config.Config, ns map[string]string) ([]recordPlan, error) {
	plans := make([]recordPlan, 0, len(cfg.Records))
	for _, rec := range cfg.Records {
		plan := recordPlan{
			rec:     rec,
			context: map[string]*xpath.Expr{},
			fields:  map[string]*xpath.Expr{},
			columns: rec.Columns(),
			checks:  pipeline.BuildFieldChecks(rec),
		}
		sel, err := xpathCache.Compile(extract.NormalizeXPath(rec.Select), ns)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.Name, err)
		}
		plan.sel = sel

		for _, c := range rec.Context {
			if c.Value != nil || c.Expr() == "" {
				continue
			}
			expr, err := xpathCache.Compile(extract.NormalizeXPath(c.Expr()), ns)
			if err != nil {
				return nil, fmt.Errorf("record %s, context %s: %w", rec.Name, c.Name, err)
			}
			plan.context[c.Name] = expr
		}
		for _, fld := range rec.Fields {
			if fld.IsComputed() || fld.Path == "" {
				continue
			}
			expr, err := xpathCache.Compile(extract.NormalizeXPath(fld.Path), ns)
			if err != nil {
				return nil, fmt.Errorf("record %s, field %s: %w", rec.Name, fld.Name, err)
			}
			plan.fields[fld.Name] = expr
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func nodeSet(v any) []*xmlquery.Node {
	nodes, _ := v.([]*xmlquery.Node)
	return nodes
}

// scalar reduces an evaluation result to a cast input: node sets to the
// first node's own text, XPath scalars (string, float64, bool) unchanged.
func scalar(v any) any {
	if nodes, ok := v.([]*xmlquery.Node); ok {
		if len(nodes) == 0 {
			return nil
		}
		return directText(nodes[0])
	}
	return v
}

// directText returns the trimmed text immediately under the element,
// excluding descendant elements' text. Empty is nil.
func directText(n *xmlquery.Node) any {
	var b strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.TextNode || child.Type == xmlquery.CharDataNode {
			b.WriteString(child.Data)
		}
	}
	s := strings.TrimSpace(b.String())
	if s == "" {
		return nil
	}
	return s
}

func extractRow(run *pipeline.Runner, plan recordPlan, doc, node *xmlquery.Node) (records.Record, error) {
	row := make(records.Record, len(plan.rec.Fields))

	for _, c := range plan.rec.Context {
		switch {
		case c.Value != nil:
			row[c.Name] = c.Value
		case c.Expr() != "":
			expr := plan.context[c.Name]
			base := node
			if strings.HasPrefix(strings.TrimSpace(c.Expr()), "/") {
				base = doc
			}
			v, err := cast.Value(scalar(extract.Evaluate(expr, base)), "string", run.SafeMode)
			if err != nil {
				return nil, err
			}
			row[c.Name] = v
		default:
			row[c.Name] = nil
		}
	}

	for _, fld := range plan.rec.Fields {
		if fld.IsComputed() {
			row[fld.Name] = nil
			continue
		}
		expr, ok := plan.fields[fld.Name]
		if !ok {
			row[fld.Name] = nil
			continue
		}
		result := extract.Evaluate(expr, node)

		switch strings.ToLower(fld.Type) {
		case "json":
			s, err := extract.NodesToJSON(nodeSet(result), false)
			if err != nil {
				log.Printf("failed to convert field %q to JSON: %v", fld.Name, err)
				row[fld.Name] = nil
				continue
			}
			if s == "" {
				row[fld.Name] = nil
			} else {
				row[fld.Name] = s
			}
		case "xml":
			if nodes := nodeSet(result); len(nodes) > 0 {
				row[fld.Name] = extract.NodeToXML(nodes[0])
			} else {
				v, err := cast.Value(scalar(result), "string", run.SafeMode)
				if err != nil {
					return nil, err
				}
				row[fld.Name] = v
			}
		default:
			v, err := cast.Value(scalar(result), fld.Type, run.SafeMode)
			if err != nil {
				return nil, err
			}
			row[fld.Name] = v
		}
	}

	if err := run.ComputeFields(plan.rec, row); err != nil {
		return nil, err
	}
	return row, nil
}
