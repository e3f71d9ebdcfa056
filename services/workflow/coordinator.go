package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"automation-engine/pkg/events"
	"automation-engine/pkg/logging"
	"automation-engine/pkg/tracing"
)

// Coordinator runs one workflow execution inside a single store transaction:
// it loads the workflow, creates the run record, walks the graph and records
// the terminal status together with the buffered logs.
type Coordinator struct {
	store     Store
	engine    *Engine
	publisher events.Publisher
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithPublisher sets the publisher for run events and notifications.
func WithPublisher(p events.Publisher) CoordinatorOption {
	return func(c *Coordinator) { c.publisher = p }
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithCoordinatorTracer overrides the tracer used for run spans.
func WithCoordinatorTracer(t trace.Tracer) CoordinatorOption {
	return func(c *Coordinator) { c.tracer = t }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store Store, engine *Engine, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:     store,
		engine:    engine,
		publisher: events.Discard{},
		tracer:    tracing.Tracer(),
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    logging.WithModule("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExecuteWorkflow runs the workflow and returns its outcome. Failures are
// reported in the result, never returned or panicked.
func (c *Coordinator) ExecuteWorkflow(ctx context.Context, workflowID int64, in ExecuteInput) RunResult {
	trigger := in.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}
	execID := c.newID()

	ctx, span := c.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.Int64(tracing.WorkflowIDKey, workflowID),
		attribute.String(tracing.ExecutionIDKey, execID),
		attribute.String(tracing.TriggerKey, trigger),
	))
	defer span.End()

	logger := c.logger.With("workflow_id", workflowID, "execution_id", execID)
	logger.Info("Executing workflow", "trigger", trigger)

	var (
		result   = RunResult{ExecutionID: execID}
		finished *ExecutionRun
		wfUserID string
		notes    []Notification
	)

	err := c.store.InTx(ctx, func(tx RunTx) error {
		wf, err := tx.GetActiveWorkflow(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("load workflow: %w", err)
		}
		if wf == nil {
			return ErrWorkflowNotFound
		}
		wfUserID = wf.UserID

		started := c.now().UTC()
		input := in.Data
		if input == nil {
			input = map[string]any{}
		}
		run := &ExecutionRun{
			ID:         execID,
			WorkflowID: wf.ID,
			Status:     StatusRunning,
			Trigger:    trigger,
			StartedAt:  started,
			InputData:  input,
			Progress:   NewProgress(len(wf.Nodes)),
			CreatedAt:  started,
		}
		if err := tx.CreateRun(ctx, run); err != nil {
			return err
		}

		logs := NewLogBuffer(c.now)
		ec := NewExecutionContext(run, wf, logs, c.now)
		tracker := NewProgressTracker(tx, execID, len(wf.Nodes), c.now)

		logs.Info("Workflow execution started", map[string]any{"trigger": trigger, "workflowName": wf.Name}, "")
		output, walkErr := c.engine.Run(ctx, wf, ec, tracker, logs)

		completed := c.now().UTC()
		run.CompletedAt = &completed
		run.Progress = tracker.Snapshot()
		if walkErr != nil {
			msg := walkErr.Error()
			run.Status = StatusFailed
			run.Error = &msg
			logs.Error("Workflow execution failed", map[string]any{"error": msg}, "")
			result.Error = msg
			result.err = walkErr
		} else {
			run.Status = StatusCompleted
			run.OutputData = output
			logs.Info("Workflow execution completed", map[string]any{"durationMs": completed.Sub(started).Milliseconds()}, "")
			result.Success = true
			result.Data = output
		}

		if err := tx.FinishRun(ctx, run); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		if err := logs.Flush(ctx, tx, execID); err != nil {
			return fmt.Errorf("flush logs: %w", err)
		}

		finished = run
		notes = ec.Notifications()
		return nil
	})
	if err != nil {
		// Nothing was committed, so there is no run record to point at.
		if errors.Is(err, ErrWorkflowNotFound) {
			logger.Warn("Workflow not found or inactive")
		} else {
			logger.Error("Workflow execution transaction failed", "error", err)
		}
		tracing.SetError(span, err)
		return RunResult{Success: false, Error: err.Error(), err: err}
	}

	if finished.Status == StatusFailed {
		tracing.SetError(span, result.err)
		logger.Warn("Workflow execution failed", "error", result.Error)
	} else {
		logger.Info("Workflow execution completed")
	}
	c.publish(ctx, finished, wfUserID, notes)
	return result
}

func (c *Coordinator) publish(ctx context.Context, run *ExecutionRun, userID string, notes []Notification) {
	ev := RunEvent{
		ExecutionID: run.ID,
		WorkflowID:  run.WorkflowID,
		UserID:      userID,
		Trigger:     run.Trigger,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
	}
	if run.CompletedAt != nil {
		ev.CompletedAt = *run.CompletedAt
		ev.DurationMs = run.CompletedAt.Sub(run.StartedAt).Milliseconds()
	}
	topic := events.TopicExecutionCompleted
	if run.Status == StatusFailed {
		topic = events.TopicExecutionFailed
		if run.Error != nil {
			ev.Error = *run.Error
		}
	}
	if err := c.publisher.Publish(ctx, topic, ev); err != nil {
		c.logger.Warn("Failed to publish run event", "execution_id", run.ID, "topic", topic, "error", err)
	}
	for _, n := range notes {
		if err := c.publisher.Publish(ctx, events.TopicNotification, n); err != nil {
			c.logger.Warn("Failed to publish notification", "execution_id", run.ID, "node_id", n.NodeID, "error", err)
		}
	}
}

// GetExecutionStatus returns a run with its logs and progress.
func (c *Coordinator) GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	run, err := c.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrExecutionNotFound
	}
	logs, err := c.store.ListLogs(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []LogEntry{}
	}
	return &ExecutionStatus{Execution: run, Logs: logs, Progress: run.Progress}, nil
}

// ListExecutions returns the most recent runs of a workflow.
func (c *Coordinator) ListExecutions(ctx context.Context, workflowID int64, limit int) ([]ExecutionRun, error) {
	return c.store.ListExecutions(ctx, workflowID, limit)
}
