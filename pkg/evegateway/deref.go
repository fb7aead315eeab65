package evegateway

import "strings"

// maxRefDepth bounds $ref chains so a malformed document with circular
// references cannot recurse forever.
const maxRefDepth = 32

// Deref returns a copy of a swagger document with every local "$ref"
// pointer replaced by the node it points at, so downstream code never
// needs to dereference.
func Deref(doc map[string]any) map[string]any {
	d := dereferencer{root: doc}
	resolved, _ := d.resolve(doc, 0).(map[string]any)
	if resolved == nil {
		return doc
	}
	return resolved
}

type dereferencer struct {
	root map[string]any
}

func (d dereferencer) resolve(node any, depth int) any {
	if depth > maxRefDepth {
		return node
	}

	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok && len(v) == 1 {
			if target, found := d.lookup(ref); found {
				return d.resolve(target, depth+1)
			}
			return v
		}
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = d.resolve(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = d.resolve(val, depth+1)
		}
		return out
	default:
		return node
	}
}

// lookup walks a local JSON pointer ("#/definitions/...") from the root.
func (d dereferencer) lookup(ref string) (any, bool) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, false
	}

	var node any = d.root
	for _, part := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")

		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return node, true
}
