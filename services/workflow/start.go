package workflow

import (
	"context"
	"time"
)

// StartExecutor handles the "start" node type. It passes its input through,
// stamps startedAt and seeds variables from initializeVariables.
type StartExecutor struct{}

func NewStartExecutor() *StartExecutor { return &StartExecutor{} }

type startConfig struct {
	InitializeVariables map[string]any `json:"initializeVariables"`
}

func (e *StartExecutor) ConfigSchema() string {
	return `{
		"type": "object",
		"properties": {
			"initializeVariables": {"type": "object"}
		}
	}`
}

func (e *StartExecutor) Execute(_ context.Context, node Node, ec *ExecutionContext, input map[string]any) NodeResult {
	var cfg startConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return Fail(err)
	}

	for k, v := range cfg.InitializeVariables {
		ec.Variables[k] = v
	}

	out := copyRecord(input)
	out["startedAt"] = ec.Now().UTC().Format(time.RFC3339Nano)
	return Succeed(out)
}
