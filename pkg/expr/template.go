package expr

import (
	"regexp"
	"strings"
)

var refPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Render substitutes every {{path}} in tmpl. Unresolved paths render as empty strings.
func Render(tmpl string, s Scope) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return refPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := refPattern.FindStringSubmatch(m)[1]
		v, ok := s.Lookup(path)
		if !ok {
			return ""
		}
		return Stringify(v)
	})
}

// RenderValue renders string values. A string that is exactly one {{path}}
// yields the referenced value with its type intact; maps and slices are
// rendered recursively; other values are returned unchanged.
func RenderValue(v any, s Scope) any {
	switch t := v.(type) {
	case string:
		if m := refPattern.FindStringSubmatchIndex(t); m != nil && m[0] == 0 && m[1] == len(t) {
			val, _ := s.Lookup(t[m[2]:m[3]])
			return val
		}
		return Render(t, s)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = RenderValue(val, s)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = RenderValue(val, s)
		}
		return out
	default:
		return v
	}
}
