package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// UndefinedPrefixError reports a namespace prefix used in an expression
// without a mapping in config or the document. It is a file-level failure:
// the whole file's parse aborts rather than yielding per-field nulls.
type UndefinedPrefixError struct {
	Prefix string
	Expr   string
}

func (e *UndefinedPrefixError) Error() string {
	return fmt.Sprintf("undefined namespace prefix %q in expression %q", e.Prefix, e.Expr)
}

// prefixRe matches "prefix:name" tokens; the trailing name-start character
// keeps axis separators ("child::node") from producing false positives.
var prefixRe = regexp.MustCompile(`([A-Za-z_][\w.\-]*):[A-Za-z_*]`)

// NormalizeXPath fixes common expression typos, currently the
// *[1]/local-name() inversion.
func NormalizeXPath(expr string) string {
	expr = strings.TrimSpace(expr)
	return strings.ReplaceAll(expr, "*[1]/local-name()", "local-name(*[1])")
}

// XPathCache compiles and caches XPath expressions keyed by a canonical
// encoding of (expression, namespace set). Entries are evicted oldest-first
// beyond the bound. Safe for concurrent use; within a single file pass it
// is read-mostly, the lock exists for parallel batch workers.
type XPathCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*xpath.Expr
	order   []string
}

// NewXPathCache returns a cache bounded to max compiled expressions.
func NewXPathCache(max int) *XPathCache {
	return &XPathCache{max: max, entries: make(map[string]*xpath.Expr)}
}

// Compile returns the compiled expression for expr under the namespace map,
// reusing a cached compilation when available. Every prefix referenced in
// expr must appear in ns or the result is an *UndefinedPrefixError.
func (c *XPathCache) Compile(expr string, ns map[string]string) (*xpath.Expr, error) {
	for _, m := range prefixRe.FindAllStringSubmatch(expr, -1) {
		if _, ok := ns[m[1]]; !ok {
			return nil, &UndefinedPrefixError{Prefix: m[1], Expr: expr}
		}
	}

	key := cacheKey(expr, ns)
	c.mu.Lock()
	defer c.mu.Unlock()
	if compiled, ok := c.entries[key]; ok {
		return compiled, nil
	}

	compiled, err := xpath.CompileWithNS(expr, ns)
	if err != nil {
		return nil, fmt.Errorf("compile xpath %q: %w", expr, err)
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = compiled
	c.order = append(c.order, key)
	return compiled, nil
}

// Len reports the number of cached compilations.
func (c *XPathCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cacheKey canonicalizes the namespace map as sorted prefix=uri pairs so
// equal sets hash equally regardless of map iteration order.
func cacheKey(expr string, ns map[string]string) string {
	if len(ns) == 0 {
		return expr
	}
	pairs := make([]string, 0, len(ns))
	for p, uri := range ns {
		pairs = append(pairs, p+"="+uri)
	}
	sort.Strings(pairs)
	return expr + "\x1f" + strings.Join(pairs, "\x1f")
}

// Evaluate runs a compiled expression against a node. Node-set results come
// back as []*xmlquery.Node; scalar results (string, float64, bool) pass
// through unchanged.
func Evaluate(expr *xpath.Expr, n *xmlquery.Node) any {
	v := expr.Evaluate(xmlquery.CreateXPathNavigator(n))
	iter, ok := v.(*xpath.NodeIterator)
	if !ok {
		return v
	}
	var nodes []*xmlquery.Node
	for iter.MoveNext() {
		if nav, ok := iter.Current().(*xmlquery.NodeNavigator); ok {
			nodes = append(nodes, nav.Current())
		}
	}
	return nodes
}

// ScanNamespaces walks the document for namespace declarations, returning
// the prefix-to-URI map found anywhere in the tree and the first default
// (unprefixed) namespace URI, if any.
func ScanNamespaces(doc *xmlquery.Node) (map[string]string, string) {
	prefixes := map[string]string{}
	defaultURI := ""
	var walk func(n *xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		if n.Type == xmlquery.ElementNode {
			for _, a := range n.Attr {
				switch {
				case a.Name.Space == "xmlns":
					prefixes[a.Name.Local] = a.Value
				case a.Name.Space == "" && a.Name.Local == "xmlns":
					if defaultURI == "" {
						defaultURI = a.Value
					}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return prefixes, defaultURI
}
