package expr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Scope resolves dotted paths to values.
type Scope interface {
	Lookup(path string) (any, bool)
}

// MapScope resolves paths against a single map.
type MapScope map[string]any

// Lookup implements Scope.
func (m MapScope) Lookup(path string) (any, bool) {
	return Resolve(map[string]any(m), path)
}

// ChainScope tries each scope in order and returns the first hit.
type ChainScope []Scope

// Lookup implements Scope.
func (c ChainScope) Lookup(path string) (any, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(path); ok {
			return v, true
		}
	}
	return nil, false
}

// Resolve walks a dotted path through nested maps and slices. Numeric
// segments index into slices: "items.0.name".
func Resolve(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}
	cur := data
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// ToFloat64 converts numeric values, json.Number and numeric strings to float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Stringify renders a value for templates and string comparisons.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
