package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"automation-engine/pkg/expr"
)

// Condition kinds.
const (
	ConditionFieldComparison = "field_comparison"
	ConditionExpression      = "expression"
	ConditionVariable        = "variable"
	ConditionTime            = "time"
	ConditionCustom          = "custom"
	ConditionDefault         = "default"
)

var errNoConditionMet = errors.New("No conditions met and no default path defined")

// ConditionSpec is one entry in a condition node's ordered list.
type ConditionSpec struct {
	Type string `json:"type"`

	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`

	Expression string `json:"expression,omitempty"`

	Variable string `json:"variable,omitempty"`

	After     string   `json:"after,omitempty"`
	Before    string   `json:"before,omitempty"`
	Days      []string `json:"days,omitempty"`
	StartDate string   `json:"startDate,omitempty"`
	EndDate   string   `json:"endDate,omitempty"`
	Timezone  string   `json:"timezone,omitempty"`

	Custom string `json:"custom,omitempty"`

	IsDefault  bool   `json:"isDefault,omitempty"`
	NextNodeID string `json:"nextNodeId,omitempty"`
	NextPath   string `json:"nextPath,omitempty"`
}

func (c ConditionSpec) isDefault() bool {
	return c.IsDefault || c.Type == ConditionDefault
}

// CustomCondition is a registered predicate for conditions of type "custom".
type CustomCondition func(ctx context.Context, spec ConditionSpec, scope expr.Scope) (bool, error)

// ConditionExecutor handles the "condition" node type. The first condition
// that holds selects the branch; a default condition is used only when none do.
type ConditionExecutor struct {
	now func() time.Time

	mu     sync.RWMutex
	custom map[string]CustomCondition
}

func NewConditionExecutor() *ConditionExecutor {
	return &ConditionExecutor{now: time.Now, custom: make(map[string]CustomCondition)}
}

// RegisterCustom makes fn available to conditions with {"type":"custom","custom":name}.
func (e *ConditionExecutor) RegisterCustom(name string, fn CustomCondition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom[name] = fn
}

type conditionConfig struct {
	Conditions []ConditionSpec `json:"conditions"`
}

func (e *ConditionExecutor) ConfigSchema() string {
	return `{
		"type": "object",
		"required": ["conditions"],
		"properties": {
			"conditions": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"type": {"enum": ["field_comparison", "expression", "variable", "time", "custom", "default"]},
						"nextNodeId": {"type": "string"},
						"nextPath": {"type": "string"},
						"isDefault": {"type": "boolean"}
					}
				}
			}
		}
	}`
}

func (e *ConditionExecutor) Execute(ctx context.Context, node Node, ec *ExecutionContext, input map[string]any) NodeResult {
	var cfg conditionConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return Fail(err)
	}
	if len(cfg.Conditions) == 0 {
		return Fail(errors.New("condition node requires at least one condition"))
	}

	scope := ec.Scope(input)
	fallback := -1
	for i, cond := range cfg.Conditions {
		if cond.isDefault() {
			if fallback < 0 {
				fallback = i
			}
			continue
		}
		ok, err := e.evaluate(ctx, cond, ec, scope)
		if err != nil {
			return Fail(fmt.Errorf("condition %d (%s): %w", i, cond.Type, err))
		}
		if ok {
			return branch(input, cfg.Conditions[i], i, false)
		}
	}

	if fallback >= 0 {
		return branch(input, cfg.Conditions[fallback], fallback, true)
	}
	return Fail(errNoConditionMet)
}

func branch(input map[string]any, cond ConditionSpec, index int, isDefault bool) NodeResult {
	out := copyRecord(input)
	out["conditionResult"] = map[string]any{
		"matched":    index,
		"type":       cond.Type,
		"isDefault":  isDefault,
		"nextPath":   cond.NextPath,
		"nextNodeId": cond.NextNodeID,
	}
	return NodeResult{
		Success:    true,
		Output:     out,
		NextNodeID: cond.NextNodeID,
		NextPath:   cond.NextPath,
	}
}

func (e *ConditionExecutor) evaluate(ctx context.Context, cond ConditionSpec, ec *ExecutionContext, scope expr.Scope) (bool, error) {
	switch cond.Type {
	case ConditionFieldComparison:
		if cond.Field == "" {
			return false, errors.New("field is required")
		}
		actual, _ := scope.Lookup(cond.Field)
		return compareValues(cond.Operator, actual, expr.RenderValue(cond.Value, scope))
	case ConditionExpression:
		if strings.TrimSpace(cond.Expression) == "" {
			return false, errors.New("expression is required")
		}
		return expr.EvalBool(cond.Expression, scope)
	case ConditionVariable:
		if cond.Variable == "" {
			return false, errors.New("variable is required")
		}
		v, ok := expr.Resolve(ec.Variables, cond.Variable)
		if cond.Value == nil {
			return ok, nil
		}
		return ok && expr.Equal(v, expr.RenderValue(cond.Value, scope)), nil
	case ConditionTime:
		return e.evaluateTime(cond)
	case ConditionCustom:
		e.mu.RLock()
		fn, ok := e.custom[cond.Custom]
		e.mu.RUnlock()
		if !ok {
			return false, fmt.Errorf("custom condition %q is not registered", cond.Custom)
		}
		return fn(ctx, cond, scope)
	default:
		return false, fmt.Errorf("unsupported condition type: %s", cond.Type)
	}
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// evaluateTime checks every constraint the condition sets: a time-of-day
// window (after/before, HH:MM, wrapping past midnight when after > before),
// days of the week and an inclusive date range.
func (e *ConditionExecutor) evaluateTime(cond ConditionSpec) (bool, error) {
	loc := time.UTC
	if cond.Timezone != "" {
		l, err := time.LoadLocation(cond.Timezone)
		if err != nil {
			return false, fmt.Errorf("invalid timezone: %w", err)
		}
		loc = l
	}
	now := e.now().In(loc)

	if cond.After == "" && cond.Before == "" && len(cond.Days) == 0 && cond.StartDate == "" && cond.EndDate == "" {
		return false, errors.New("time condition requires after, before, days, startDate or endDate")
	}

	if cond.After != "" || cond.Before != "" {
		minute := now.Hour()*60 + now.Minute()
		after, before := 0, 24*60
		var err error
		if cond.After != "" {
			if after, err = parseClock(cond.After); err != nil {
				return false, err
			}
		}
		if cond.Before != "" {
			if before, err = parseClock(cond.Before); err != nil {
				return false, err
			}
		}
		var in bool
		if after <= before {
			in = minute >= after && minute < before
		} else {
			in = minute >= after || minute < before
		}
		if !in {
			return false, nil
		}
	}

	if len(cond.Days) > 0 {
		match := false
		for _, d := range cond.Days {
			name := strings.ToLower(strings.TrimSpace(d))
			if len(name) > 3 {
				name = name[:3]
			}
			wd, ok := weekdays[name]
			if !ok {
				return false, fmt.Errorf("invalid day: %s", d)
			}
			if wd == now.Weekday() {
				match = true
				break
			}
		}
		if !match {
			return false, nil
		}
	}

	if cond.StartDate != "" {
		start, _, err := parseDate(cond.StartDate, loc)
		if err != nil {
			return false, err
		}
		if now.Before(start) {
			return false, nil
		}
	}
	if cond.EndDate != "" {
		end, dateOnly, err := parseDate(cond.EndDate, loc)
		if err != nil {
			return false, err
		}
		if dateOnly {
			end = end.AddDate(0, 0, 1)
			if !now.Before(end) {
				return false, nil
			}
		} else if now.After(end) {
			return false, nil
		}
	}
	return true, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func parseDate(s string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid date %q", s)
	}
	return t, false, nil
}
