package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// NodeToXML serializes a matched node back to an XML string, without the
// surrounding document or any pretty-printing.
func NodeToXML(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return n.OutputXML(true)
}

// NodesToJSON converts matched XML node(s) to a JSON string for structural
// field types: an object for a single match, an array for several.
// Namespace-declaration attributes are stripped recursively. Returns
// ("", nil) for an empty node list.
func NodesToJSON(nodes []*xmlquery.Node, forceList bool) (string, error) {
	elems := nodes[:0:0]
	for _, n := range nodes {
		if n != nil && n.Type == xmlquery.ElementNode {
			elems = append(elems, n)
		}
	}
	if len(elems) == 0 {
		return "", nil
	}

	docs := make([]any, 0, len(elems))
	for _, n := range elems {
		docs = append(docs, map[string]any{elementName(n): elementValue(n)})
	}

	var v any = docs
	if len(docs) == 1 && !forceList {
		v = docs[0]
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize node to JSON: %w", err)
	}
	return string(b), nil
}

func elementName(n *xmlquery.Node) string {
	if n.Prefix != "" {
		return n.Prefix + ":" + n.Data
	}
	return n.Data
}

// elementValue mirrors the conventional XML-to-dict mapping: attributes
// become "@name" keys, character data becomes "#text", repeated child
// elements collapse into arrays. An element with no attributes and no
// element children reduces to its text (or nil when empty).
func elementValue(n *xmlquery.Node) any {
	obj := map[string]any{}

	for _, a := range n.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		key := "@" + a.Name.Local
		if a.Name.Space != "" {
			key = "@" + a.Name.Space + ":" + a.Name.Local
		}
		obj[key] = a.Value
	}

	var text strings.Builder
	hasChildren := false
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case xmlquery.TextNode, xmlquery.CharDataNode:
			text.WriteString(child.Data)
		case xmlquery.ElementNode:
			hasChildren = true
			key := elementName(child)
			val := elementValue(child)
			switch existing := obj[key].(type) {
			case nil:
				obj[key] = val
			case []any:
				obj[key] = append(existing, val)
			default:
				obj[key] = []any{existing, val}
			}
		}
	}

	trimmed := strings.TrimSpace(text.String())
	if !hasChildren && len(obj) == 0 {
		if trimmed == "" {
			return nil
		}
		return trimmed
	}
	if trimmed != "" {
		obj["#text"] = trimmed
	}
	return obj
}
