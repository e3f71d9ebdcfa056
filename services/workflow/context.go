package workflow

import (
	"maps"
	"strings"
	"time"

	"automation-engine/pkg/expr"
)

// NodeResult is the outcome of executing a single node. NextNodeID, when set,
// overrides edge routing. NextPath selects the outgoing edge with a matching
// SourceHandle.
type NodeResult struct {
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	NextNodeID string         `json:"nextNodeId,omitempty"`
	NextPath   string         `json:"nextPath,omitempty"`
}

// Succeed returns a successful result with the given output.
func Succeed(output map[string]any) NodeResult {
	return NodeResult{Success: true, Output: output}
}

// Fail returns a failed result carrying err's message.
func Fail(err error) NodeResult {
	return NodeResult{Success: false, Error: err.Error()}
}

// ExecutionContext is the mutable state of one run. It is owned by the walker
// processing that run and must not be shared across runs.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  int64
	UserID      string
	Trigger     string
	InputData   map[string]any
	NodeStates  map[string]NodeResult
	Variables   map[string]any
	StartTime   time.Time

	logs          *LogBuffer
	notifications []Notification
	now           func() time.Time
	visits        int
}

// NewExecutionContext creates the context for a run. logs may be nil.
func NewExecutionContext(run *ExecutionRun, wf *Workflow, logs *LogBuffer, now func() time.Time) *ExecutionContext {
	if now == nil {
		now = time.Now
	}
	input := run.InputData
	if input == nil {
		input = map[string]any{}
	}
	return &ExecutionContext{
		ExecutionID: run.ID,
		WorkflowID:  wf.ID,
		UserID:      wf.UserID,
		Trigger:     run.Trigger,
		InputData:   input,
		NodeStates:  make(map[string]NodeResult),
		Variables:   make(map[string]any),
		StartTime:   run.StartedAt,
		logs:        logs,
		now:         now,
	}
}

// Visits returns how many node executions the walker has started in this
// run, revisits included.
func (ec *ExecutionContext) Visits() int { return ec.visits }

// Now returns the run clock.
func (ec *ExecutionContext) Now() time.Time {
	if ec.now == nil {
		return time.Now()
	}
	return ec.now()
}

// Log appends a user-facing entry to the run's log buffer.
func (ec *ExecutionContext) Log(level LogLevel, message string, data map[string]any, nodeID string) {
	if ec.logs == nil {
		return
	}
	ec.logs.Add(level, message, data, nodeID)
}

// Notify queues a notification. Queued notifications are published after the
// run has been committed.
func (ec *ExecutionContext) Notify(n Notification) {
	n.ExecutionID = ec.ExecutionID
	n.WorkflowID = ec.WorkflowID
	n.UserID = ec.UserID
	ec.notifications = append(ec.notifications, n)
}

// Notifications returns the queued notifications.
func (ec *ExecutionContext) Notifications() []Notification {
	return ec.notifications
}

// Scope resolves {{path}} references for a node. Plain paths look in the node
// input, then in the variables. The prefixes "input.", "variables." and
// "nodes.<id>." address each source explicitly.
func (ec *ExecutionContext) Scope(input map[string]any) expr.Scope {
	return contextScope{ec: ec, input: input}
}

type contextScope struct {
	ec    *ExecutionContext
	input map[string]any
}

func (s contextScope) Lookup(path string) (any, bool) {
	if v, ok := expr.Resolve(s.input, path); ok {
		return v, true
	}
	if v, ok := expr.Resolve(s.ec.Variables, path); ok {
		return v, true
	}

	head, rest, _ := strings.Cut(path, ".")
	switch head {
	case "input":
		return expr.Resolve(s.input, rest)
	case "variables":
		return expr.Resolve(s.ec.Variables, rest)
	case "trigger":
		return s.ec.Trigger, rest == ""
	case "nodes":
		id, sub, _ := strings.Cut(rest, ".")
		state, ok := s.ec.NodeStates[id]
		if !ok {
			return nil, false
		}
		return expr.Resolve(state.Output, sub)
	}
	return nil, false
}

// copyRecord returns a shallow copy of m that is never nil.
func copyRecord(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	maps.Copy(out, m)
	return out
}
