package workflow

import (
	"fmt"
	"strings"

	"automation-engine/pkg/expr"
)

// compareValues applies a field comparison operator. String operators are
// case-insensitive.
func compareValues(operator string, actual, expected any) (bool, error) {
	switch operator {
	case "equals", "eq", "==":
		return expr.Equal(actual, expected), nil
	case "not_equals", "ne", "!=":
		return !expr.Equal(actual, expected), nil
	case "greater_than", "gt", ">":
		c, ok := expr.Compare(actual, expected)
		return ok && c > 0, nil
	case "less_than", "lt", "<":
		c, ok := expr.Compare(actual, expected)
		return ok && c < 0, nil
	case "greater_than_or_equal", "gte", ">=":
		c, ok := expr.Compare(actual, expected)
		return ok && c >= 0, nil
	case "less_than_or_equal", "lte", "<=":
		c, ok := expr.Compare(actual, expected)
		return ok && c <= 0, nil
	case "contains":
		if list, ok := actual.([]any); ok {
			return containsValue(list, expected), nil
		}
		if actual == nil {
			return false, nil
		}
		return strings.Contains(lower(actual), lower(expected)), nil
	case "starts_with":
		return actual != nil && strings.HasPrefix(lower(actual), lower(expected)), nil
	case "ends_with":
		return actual != nil && strings.HasSuffix(lower(actual), lower(expected)), nil
	case "in":
		switch list := expected.(type) {
		case []any:
			return containsValue(list, actual), nil
		case string:
			for _, item := range strings.Split(list, ",") {
				if expr.Equal(actual, strings.TrimSpace(item)) {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, fmt.Errorf("operator in requires a list value")
		}
	case "is_empty":
		return isEmpty(actual), nil
	case "is_not_empty":
		return !isEmpty(actual), nil
	default:
		return false, fmt.Errorf("unsupported operator: %s", operator)
	}
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if expr.Equal(item, v) {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func lower(v any) string {
	return strings.ToLower(expr.Stringify(v))
}
