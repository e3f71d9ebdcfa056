package workflow

import "time"

// Workflow represents a persisted workflow definition with its graph of nodes and edges.
type Workflow struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name" validate:"required,max=200"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	Schedule    string    `json:"schedule,omitempty"`
	Nodes       []Node    `json:"nodes" validate:"required,min=1,dive"`
	Edges       []Edge    `json:"edges" validate:"dive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Node represents a single step in a workflow graph.
type Node struct {
	ID       string   `json:"id" validate:"required"`
	Type     string   `json:"type" validate:"required"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Position holds x/y coordinates for rendering the node on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData holds the display data and the type-specific configuration of a node.
type NodeData struct {
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// Edge represents a directed connection between two nodes. SourceHandle names
// the output path of the source node the edge is attached to.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source" validate:"required"`
	Target       string `json:"target" validate:"required"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Label        string `json:"label,omitempty"`
}

// RunStatus is the lifecycle state of an execution run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// NodeStatus is the state of a single node within a run's progress.
type NodeStatus string

const (
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
)

// Triggers.
const (
	TriggerManual   = "manual"
	TriggerWebhook  = "webhook"
	TriggerSchedule = "schedule"
)

// ExecutionRun is the persisted record of one workflow execution.
type ExecutionRun struct {
	ID          string            `json:"id"`
	WorkflowID  int64             `json:"workflowId"`
	Status      RunStatus         `json:"status"`
	Trigger     string            `json:"trigger"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt"`
	Error       *string           `json:"error"`
	InputData   map[string]any    `json:"inputData"`
	OutputData  map[string]any    `json:"outputData"`
	Progress    *ProgressSnapshot `json:"progress"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// ProgressSnapshot is the structured progress record stored on a run.
type ProgressSnapshot struct {
	CurrentNode    string                  `json:"currentNode,omitempty"`
	CompletedNodes []string                `json:"completedNodes"`
	TotalNodes     int                     `json:"totalNodes"`
	Percentage     int                     `json:"percentage"`
	NodeProgress   map[string]NodeProgress `json:"nodeProgress"`
}

// NodeProgress tracks one node within a ProgressSnapshot.
type NodeProgress struct {
	Status      NodeStatus `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// LogLevel is the severity of a run log entry.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is a structured, user-facing log line recorded during a run.
type LogEntry struct {
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	NodeID    string         `json:"nodeId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ExecuteInput is the request to run a workflow.
type ExecuteInput struct {
	Trigger string         `json:"trigger" validate:"omitempty,oneof=manual webhook schedule"`
	Data    map[string]any `json:"data,omitempty"`
}

// RunResult is returned synchronously to the caller of ExecuteWorkflow.
type RunResult struct {
	ExecutionID string         `json:"executionId"`
	Success     bool           `json:"success"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`

	err error
}

// Err returns the underlying error of a failed run, or nil.
func (r RunResult) Err() error { return r.err }

// ExecutionStatus is the polling view of a run.
type ExecutionStatus struct {
	Execution *ExecutionRun     `json:"execution"`
	Logs      []LogEntry        `json:"logs"`
	Progress  *ProgressSnapshot `json:"progress"`
}

// RunEvent is published when a run reaches a terminal status.
type RunEvent struct {
	ExecutionID string    `json:"executionId"`
	WorkflowID  int64     `json:"workflowId"`
	UserID      string    `json:"userId,omitempty"`
	Trigger     string    `json:"trigger"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	DurationMs  int64     `json:"durationMs"`
}

// Notification is a side effect requested by an End node.
type Notification struct {
	ExecutionID string         `json:"executionId"`
	WorkflowID  int64          `json:"workflowId"`
	UserID      string         `json:"userId,omitempty"`
	NodeID      string         `json:"nodeId"`
	Channel     string         `json:"channel,omitempty"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
}
