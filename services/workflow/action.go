package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"automation-engine/pkg/expr"
)

// Action types.
const (
	ActionHTTPRequest   = "http_request"
	ActionTransformData = "transform_data"
	ActionDelay         = "delay"
	ActionSetVariable   = "set_variable"
	ActionLogMessage    = "log_message"
)

// ActionExecutor handles the "action" node type, dispatching on actionType.
type ActionExecutor struct {
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewActionExecutor(client *http.Client) *ActionExecutor {
	if client == nil {
		client = NewHTTPClient()
	}
	return &ActionExecutor{client: client, sleep: sleepContext}
}

type actionConfig struct {
	ActionType string `json:"actionType"`

	httpRequestConfig

	Transformations []transformation `json:"transformations"`

	DurationMs int    `json:"durationMs"`
	Duration   string `json:"duration"`

	Name  string `json:"name"`
	Value any    `json:"value"`

	Message string         `json:"message"`
	Level   string         `json:"level"`
	Data    map[string]any `json:"data"`
}

// transformation is one step of transform_data.
//
//	map:    {"type":"map","mapping":{"dst":"{{src}}"}} or {"type":"map","from":"a","to":"b"}
//	filter: {"type":"filter","condition":"{{amount}} > 0"}
//	add:    {"type":"add","field":"f","value":...}
//	remove: {"type":"remove","field":"f"} or {"type":"remove","fields":["a","b"]}
type transformation struct {
	Type      string         `json:"type"`
	Mapping   map[string]any `json:"mapping"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Condition string         `json:"condition"`
	Field     string         `json:"field"`
	Fields    []string       `json:"fields"`
	Value     any            `json:"value"`
}

func (e *ActionExecutor) ConfigSchema() string {
	return `{
		"type": "object",
		"required": ["actionType"],
		"properties": {
			"actionType": {"type": "string", "minLength": 1},
			"transformations": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["type"],
					"properties": {"type": {"enum": ["map", "filter", "add", "remove"]}}
				}
			},
			"durationMs": {"type": "integer", "minimum": 0},
			"level": {"enum": ["info", "warn", "error"]}
		}
	}`
}

func (e *ActionExecutor) Execute(ctx context.Context, node Node, ec *ExecutionContext, input map[string]any) NodeResult {
	var cfg actionConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return Fail(err)
	}

	var (
		out map[string]any
		err error
	)
	switch cfg.ActionType {
	case "":
		err = errors.New("action node requires an actionType")
	case ActionHTTPRequest:
		out, err = e.httpRequest(ctx, cfg, ec, input)
	case ActionTransformData:
		out, err = transformData(cfg.Transformations, ec.Scope(input), input)
	case ActionDelay:
		out, err = e.delay(ctx, cfg, input)
	case ActionSetVariable:
		out, err = setVariable(cfg, ec, input)
	case ActionLogMessage:
		out, err = logMessage(cfg, node, ec, input)
	default:
		err = fmt.Errorf("unsupported action type: %s", cfg.ActionType)
	}
	if err != nil {
		return Fail(err)
	}
	return Succeed(out)
}

func (e *ActionExecutor) httpRequest(ctx context.Context, cfg actionConfig, ec *ExecutionContext, input map[string]any) (map[string]any, error) {
	resp, err := doHTTPRequest(ctx, e.client, cfg.httpRequestConfig, ec.Scope(input))
	if err != nil {
		return nil, err
	}
	out := copyRecord(input)
	out["response"] = resp
	return out, nil
}

func transformData(steps []transformation, scope expr.Scope, input map[string]any) (map[string]any, error) {
	out := copyRecord(input)
	for i, t := range steps {
		// Later steps see the fields written by earlier ones.
		stepScope := expr.ChainScope{expr.MapScope(out), scope}
		switch t.Type {
		case "map":
			if t.From != "" && t.To != "" {
				if v, ok := stepScope.Lookup(t.From); ok {
					out[t.To] = v
				}
			}
			for dst, src := range t.Mapping {
				out[dst] = expr.RenderValue(src, stepScope)
			}
		case "filter":
			if t.Condition == "" {
				return nil, fmt.Errorf("transformation %d: filter requires a condition", i)
			}
			ok, err := expr.EvalBool(t.Condition, stepScope)
			if err != nil {
				return nil, fmt.Errorf("transformation %d: %w", i, err)
			}
			if !ok {
				return nil, fmt.Errorf("filter condition not met: %s", t.Condition)
			}
		case "add":
			if t.Field == "" {
				return nil, fmt.Errorf("transformation %d: add requires a field", i)
			}
			out[t.Field] = expr.RenderValue(t.Value, stepScope)
		case "remove":
			if t.Field != "" {
				delete(out, t.Field)
			}
			for _, f := range t.Fields {
				delete(out, f)
			}
		default:
			return nil, fmt.Errorf("transformation %d: unsupported type %q", i, t.Type)
		}
	}
	return out, nil
}

func (e *ActionExecutor) delay(ctx context.Context, cfg actionConfig, input map[string]any) (map[string]any, error) {
	d := time.Duration(cfg.DurationMs) * time.Millisecond
	if cfg.Duration != "" {
		parsed, err := time.ParseDuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid delay duration: %w", err)
		}
		d = parsed
	}
	if d < 0 {
		return nil, fmt.Errorf("invalid delay duration: %s", d)
	}
	if err := e.sleep(ctx, d); err != nil {
		return nil, fmt.Errorf("delay interrupted: %w", err)
	}
	out := copyRecord(input)
	out["delayedMs"] = d.Milliseconds()
	return out, nil
}

func setVariable(cfg actionConfig, ec *ExecutionContext, input map[string]any) (map[string]any, error) {
	if cfg.Name == "" {
		return nil, errors.New("set_variable requires a name")
	}
	value := expr.RenderValue(cfg.Value, ec.Scope(input))
	ec.Variables[cfg.Name] = value

	out := copyRecord(input)
	out["variableSet"] = map[string]any{"name": cfg.Name, "value": value}
	return out, nil
}

func logMessage(cfg actionConfig, node Node, ec *ExecutionContext, input map[string]any) (map[string]any, error) {
	level := LogLevel(cfg.Level)
	switch level {
	case "":
		level = LevelInfo
	case LevelInfo, LevelWarn, LevelError:
	default:
		return nil, fmt.Errorf("unsupported log level: %s", cfg.Level)
	}

	scope := ec.Scope(input)
	msg := expr.Render(cfg.Message, scope)
	var data map[string]any
	if cfg.Data != nil {
		data, _ = expr.RenderValue(cfg.Data, scope).(map[string]any)
	}
	ec.Log(level, msg, data, node.ID)

	out := copyRecord(input)
	out["logged"] = msg
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}
