package workflow

import (
	"context"
	"time"
)

// WorkflowStore persists workflow definitions. Lookups of a missing workflow
// return nil, nil.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id int64) (*Workflow, error)
	ListWorkflows(ctx context.Context, userID string) ([]Workflow, error)
	SetWorkflowActive(ctx context.Context, id int64, active bool) (bool, error)
	ListScheduledWorkflows(ctx context.Context) ([]Workflow, error)
}

// RunTx is the set of writes a run performs inside its transaction.
type RunTx interface {
	ProgressStore
	LogWriter
	GetActiveWorkflow(ctx context.Context, id int64) (*Workflow, error)
	CreateRun(ctx context.Context, run *ExecutionRun) error
	FinishRun(ctx context.Context, run *ExecutionRun) error
}

// Store is the full persistence layer of the engine.
type Store interface {
	WorkflowStore

	// InTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back otherwise.
	InTx(ctx context.Context, fn func(tx RunTx) error) error

	GetExecution(ctx context.Context, id string) (*ExecutionRun, error)
	ListLogs(ctx context.Context, executionID string) ([]LogEntry, error)
	ListExecutions(ctx context.Context, workflowID int64, limit int) ([]ExecutionRun, error)

	// ListStaleRuns returns runs still marked running that started before olderThan.
	ListStaleRuns(ctx context.Context, olderThan time.Time) ([]ExecutionRun, error)
	// FailRun marks a running run failed. It reports false if the run was not running.
	FailRun(ctx context.Context, id, message string, at time.Time) (bool, error)
}
