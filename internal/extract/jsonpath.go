package extract

import (
	"log"
	"strconv"
	"strings"
)

// Path extracts a value from decoded JSON data using a dot-notation path.
//
// Supported shapes:
//   - dot notation: "user.name"
//   - array indexing: "items[0]", "items[0].price"
//   - bare numeric segments index into arrays: "0.name"
//
// Negative indices are unsupported and resolve to nil, as does any
// traversal through a non-container value or a missing key. An empty path
// returns the data unchanged.
func Path(data any, path string) any {
	if path == "" {
		return data
	}
	if data == nil {
		return nil
	}
	switch data.(type) {
	case map[string]any, []any:
	default:
		// primitive root, nothing to traverse
		return nil
	}

	current := data
	for _, part := range strings.Split(path, ".") {
		if i := strings.IndexByte(part, '['); i >= 0 && strings.HasSuffix(part, "]") {
			key := part[:i]
			indexStr := part[i+1 : len(part)-1]

			if key != "" {
				m, ok := current.(map[string]any)
				if !ok {
					return nil
				}
				current = m[key]
				if current == nil {
					return nil
				}
			}
			list, ok := current.([]any)
			if !ok {
				return nil
			}
			idx, err := strconv.Atoi(indexStr)
			if err != nil {
				return nil
			}
			if idx < 0 {
				log.Printf("extract: negative array index %d not supported in path %q", idx, path)
				return nil
			}
			if idx >= len(list) {
				return nil
			}
			current = list[idx]
		} else {
			switch c := current.(type) {
			case map[string]any:
				current = c[part]
			case []any:
				idx, err := strconv.Atoi(part)
				if err != nil || idx < 0 || idx >= len(c) {
					return nil
				}
				current = c[idx]
			default:
				return nil
			}
		}
		if current == nil {
			return nil
		}
	}
	return current
}

// SelectRecords resolves a record selector against the document root and
// always returns a list, for uniform iteration by the JSON parser.
//
// Supported selectors:
//   - "" or "$": the root, wrapped in a one-element list unless it is
//     already an array
//   - "$[i]" and "$[a:b]": index and slice on a root array, non-negative
//     bounds only
//   - "$.users.items" or "users.items": resolved via Path; scalars and
//     objects become one-element lists, nil becomes an empty list
func SelectRecords(data any, selector string) []any {
	if data == nil {
		log.Printf("extract: cannot select records from null document")
		return nil
	}

	selector = strings.TrimPrefix(selector, "$")
	selector = strings.TrimPrefix(selector, ".")
	if selector == "" {
		return asList(data)
	}

	if strings.HasPrefix(selector, "[") {
		return selectIndexed(data, selector)
	}

	result := Path(data, selector)
	if result == nil {
		return nil
	}
	return asList(result)
}

func selectIndexed(data any, selector string) []any {
	closing := strings.IndexByte(selector, ']')
	if closing < 0 {
		log.Printf("extract: malformed array selector %q: missing closing bracket", selector)
		return nil
	}
	list, ok := data.([]any)
	if !ok {
		log.Printf("extract: array selector %q used on non-array document", selector)
		return nil
	}
	indexPart := selector[1:closing]

	if strings.Contains(indexPart, ":") {
		parts := strings.SplitN(indexPart, ":", 2)
		start, end := 0, len(list)
		var err error
		if parts[0] != "" {
			if start, err = strconv.Atoi(parts[0]); err != nil {
				return nil
			}
		}
		if len(parts) > 1 && parts[1] != "" {
			if end, err = strconv.Atoi(parts[1]); err != nil {
				return nil
			}
		}
		if start < 0 || end < 0 {
			log.Printf("extract: negative indices not supported in slice %q", indexPart)
			return nil
		}
		if start > len(list) {
			start = len(list)
		}
		if end > len(list) {
			end = len(list)
		}
		if start >= end {
			return nil
		}
		return list[start:end]
	}

	idx, err := strconv.Atoi(indexPart)
	if err != nil {
		return nil
	}
	if idx < 0 {
		log.Printf("extract: negative index %d not supported", idx)
		return nil
	}
	if idx >= len(list) {
		return nil
	}
	return []any{list[idx]}
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}
