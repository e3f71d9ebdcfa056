package expr

import (
	"fmt"
	"strings"
)

// Eval returns the value of the literal.
func (l *Literal) Eval(Scope) (any, error) { return l.Value, nil }

// Eval looks the path up in the scope. Missing paths evaluate to nil.
func (f *FieldRef) Eval(s Scope) (any, error) {
	v, _ := s.Lookup(f.Path)
	return v, nil
}

// Eval returns the negated truthiness of the operand.
func (n *Not) Eval(s Scope) (any, error) {
	v, err := n.Operand.Eval(s)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

// Eval applies the operator. && and || short-circuit left to right.
func (b *BinaryOp) Eval(s Scope) (any, error) {
	left, err := b.Left.Eval(s)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case "&&":
		if !Truthy(left) {
			return false, nil
		}
		right, err := b.Right.Eval(s)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	case "||":
		if Truthy(left) {
			return true, nil
		}
		right, err := b.Right.Eval(s)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	right, err := b.Right.Eval(s)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case "==":
		return Equal(left, right), nil
	case "!=":
		return !Equal(left, right), nil
	case ">", "<", ">=", "<=":
		cmp, ok := Compare(left, right)
		if !ok {
			return false, nil
		}
		switch b.Op {
		case ">":
			return cmp > 0, nil
		case "<":
			return cmp < 0, nil
		case ">=":
			return cmp >= 0, nil
		default:
			return cmp <= 0, nil
		}
	}
	return nil, fmt.Errorf("unknown operator %q", b.Op)
}

// EvalBool parses and evaluates src, returning its truthiness.
func EvalBool(src string, s Scope) (bool, error) {
	n, err := Parse(src)
	if err != nil {
		return false, err
	}
	v, err := n.Eval(s)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Truthy reports whether v counts as true in a boolean context.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "false" && s != "0"
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if f, ok := ToFloat64(v); ok {
		return f != 0
	}
	return true
}

// Equal compares two values: numerically when both are numeric, otherwise as
// case-insensitive strings.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	if fa, ok := ToFloat64(a); ok {
		if fb, ok := ToFloat64(b); ok {
			return fa == fb
		}
	}
	return strings.EqualFold(Stringify(a), Stringify(b))
}

// Compare orders two values. Numbers compare numerically, everything else as
// case-insensitive strings. The bool is false when either side is nil.
func Compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := ToFloat64(a); ok {
		if fb, ok := ToFloat64(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return strings.Compare(strings.ToLower(Stringify(a)), strings.ToLower(Stringify(b))), true
}
