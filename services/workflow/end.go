package workflow

import (
	"context"
	"maps"
	"time"

	"automation-engine/pkg/expr"
)

// EndExecutor handles the "end" node type. It finalizes variables into the
// output, runs cleanup directives and stamps completedAt and durationMs.
type EndExecutor struct{}

func NewEndExecutor() *EndExecutor { return &EndExecutor{} }

type endConfig struct {
	FinalizeVariables map[string]any `json:"finalizeVariables"`
	Cleanup           *cleanupConfig `json:"cleanup"`
}

type cleanupConfig struct {
	ClearVariables bool   `json:"clearVariables"`
	LogSummary     bool   `json:"logSummary"`
	Notify         bool   `json:"notify"`
	Channel        string `json:"channel"`
	Message        string `json:"message"`
}

func (e *EndExecutor) ConfigSchema() string {
	return `{
		"type": "object",
		"properties": {
			"finalizeVariables": {"type": "object"},
			"cleanup": {
				"type": "object",
				"properties": {
					"clearVariables": {"type": "boolean"},
					"logSummary": {"type": "boolean"},
					"notify": {"type": "boolean"},
					"channel": {"type": "string"},
					"message": {"type": "string"}
				}
			}
		}
	}`
}

func (e *EndExecutor) Execute(_ context.Context, node Node, ec *ExecutionContext, input map[string]any) NodeResult {
	var cfg endConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return Fail(err)
	}

	scope := ec.Scope(input)
	out := copyRecord(input)
	for k, v := range cfg.FinalizeVariables {
		out[k] = expr.RenderValue(v, scope)
	}

	now := ec.Now()
	duration := now.Sub(ec.StartTime).Milliseconds()

	if c := cfg.Cleanup; c != nil {
		if c.LogSummary {
			ec.Log(LevelInfo, "Workflow summary", map[string]any{
				"nodesExecuted": ec.Visits(),
				"variables":     maps.Clone(ec.Variables),
				"durationMs":    duration,
			}, node.ID)
		}
		if c.Notify {
			msg := expr.Render(c.Message, scope)
			if msg == "" {
				msg = "Workflow completed"
			}
			ec.Notify(Notification{NodeID: node.ID, Channel: c.Channel, Message: msg, Data: copyRecord(out)})
		}
		if c.ClearVariables {
			clear(ec.Variables)
		}
	}

	out["completedAt"] = now.UTC().Format(time.RFC3339Nano)
	out["durationMs"] = duration
	return Succeed(out)
}
