package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"automation-engine/pkg/logging"
	"automation-engine/pkg/tracing"
)

// Engine walks a workflow graph and executes each node in sequence.
type Engine struct {
	registry    *Registry
	runTimeout  time.Duration
	nodeTimeout time.Duration
	tracer      trace.Tracer
	logger      *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRunTimeout bounds the wall-clock time of a whole run.
func WithRunTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.runTimeout = d }
}

// WithNodeTimeout bounds the time of a single node dispatch.
func WithNodeTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.nodeTimeout = d }
}

// WithTracer overrides the tracer used for node spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an Engine with the given executor registry.
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		tracer:   tracing.Tracer(),
		logger:   logging.WithModule("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the executor registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Run walks wf from its start node. Every transition is written through
// tracker and logged to logs. Store calls use ctx; node dispatch additionally
// observes the run and node deadlines.
//
// The returned error is the run failure. For a failed node it carries the
// node's error message verbatim.
func (e *Engine) Run(ctx context.Context, wf *Workflow, ec *ExecutionContext, tracker *ProgressTracker, logs *LogBuffer) (map[string]any, error) {
	start, err := findStartNode(wf.Nodes)
	if err != nil {
		logs.Error(err.Error(), nil, "")
		return nil, err
	}

	runCtx := ctx
	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, e.runTimeout, fmt.Errorf("run exceeded %s", e.runTimeout))
		defer cancel()
	}

	nodeMap := make(map[string]*Node, len(wf.Nodes))
	for i := range wf.Nodes {
		nodeMap[wf.Nodes[i].ID] = &wf.Nodes[i]
	}
	edgeMap := buildEdgeMap(wf.Edges)

	// Revisits are allowed; the run fails once it would exceed twice the node count.
	maxVisits := len(wf.Nodes) * 2

	currentID := start.ID
	input := copyRecord(ec.InputData)
	output := input

	for currentID != "" {
		if err := runCtx.Err(); err != nil {
			err = fmt.Errorf("execution cancelled: %w", context.Cause(runCtx))
			logs.Error(err.Error(), nil, currentID)
			return nil, err
		}
		if ec.visits >= maxVisits {
			logs.Error("Potential infinite loop detected", map[string]any{"visits": ec.visits, "totalNodes": len(wf.Nodes)}, currentID)
			return nil, ErrInfiniteLoop
		}
		ec.visits++

		node, ok := nodeMap[currentID]
		if !ok {
			err := &NodeNotFoundError{ID: currentID}
			logs.Error(err.Error(), nil, currentID)
			return nil, err
		}

		if err := tracker.NodeStarted(ctx, node.ID); err != nil {
			return nil, err
		}
		logs.Info("Executing node: "+node.Type, map[string]any{"nodeType": node.Type, "label": node.Data.Label}, node.ID)

		executor, ok := e.registry.Lookup(node.Type)
		if !ok {
			err := &UnregisteredTypeError{Type: node.Type}
			if terr := tracker.NodeFailed(ctx, node.ID); terr != nil {
				return nil, terr
			}
			logs.Error(err.Error(), map[string]any{"nodeType": node.Type}, node.ID)
			return nil, err
		}

		started := time.Now()
		result := e.dispatch(runCtx, executor, *node, ec, input)
		elapsed := time.Since(started)

		if !result.Success {
			if err := tracker.NodeFailed(ctx, node.ID); err != nil {
				return nil, err
			}
			logs.Error("Node failed: "+result.Error, map[string]any{"nodeType": node.Type, "durationMs": elapsed.Milliseconds()}, node.ID)
			e.logger.Debug("Node failed", "execution_id", ec.ExecutionID, "node_id", node.ID, "node_type", node.Type, "error", result.Error)
			return nil, &NodeError{NodeID: node.ID, Message: result.Error}
		}

		if err := tracker.NodeCompleted(ctx, node.ID); err != nil {
			return nil, err
		}
		logs.Info("Node completed: "+node.Type, map[string]any{"nodeType": node.Type, "durationMs": elapsed.Milliseconds(), "output": result.Output}, node.ID)
		ec.NodeStates[node.ID] = result
		output = result.Output
		input = result.Output

		currentID = nextNode(result, edgeMap[node.ID])
	}

	return output, nil
}

// dispatch runs one executor under the node deadline, converting a panic into
// a failed result.
func (e *Engine) dispatch(ctx context.Context, executor NodeExecutor, node Node, ec *ExecutionContext, input map[string]any) (result NodeResult) {
	ctx, span := e.tracer.Start(ctx, "workflow.node "+node.Type, trace.WithAttributes(
		attribute.String(tracing.ExecutionIDKey, ec.ExecutionID),
		attribute.String(tracing.NodeIDKey, node.ID),
		attribute.String(tracing.NodeTypeKey, node.Type),
	))
	defer span.End()

	if e.nodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.nodeTimeout, fmt.Errorf("node %s exceeded %s", node.ID, e.nodeTimeout))
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Executor panicked", "execution_id", ec.ExecutionID, "node_id", node.ID, "node_type", node.Type, "panic", r)
			result = NodeResult{Success: false, Error: fmt.Sprintf("node %s panicked: %v", node.ID, r)}
		}
		if !result.Success {
			tracing.SetError(span, errors.New(result.Error))
		}
	}()

	result = executor.Execute(ctx, node, ec, input)
	if !result.Success && result.Error == "" {
		result.Error = fmt.Sprintf("node %s failed", node.ID)
	}
	return result
}

// nextNode picks the successor of a node. An explicit NextNodeID wins, then
// the edge whose SourceHandle equals NextPath. Otherwise the first outgoing
// edge in definition order is taken, even when there are several; branching
// is expected to go through a condition node.
func nextNode(result NodeResult, edges []Edge) string {
	if result.NextNodeID != "" {
		return result.NextNodeID
	}
	if len(edges) == 0 {
		return ""
	}
	if result.NextPath != "" {
		for _, edge := range edges {
			if edge.SourceHandle == result.NextPath {
				return edge.Target
			}
		}
	}
	return edges[0].Target
}

func findStartNode(nodes []Node) (*Node, error) {
	for i := range nodes {
		if nodes[i].Type == "start" {
			return &nodes[i], nil
		}
	}
	return nil, ErrNoStartNode
}

func buildEdgeMap(edges []Edge) map[string][]Edge {
	m := make(map[string][]Edge)
	for _, edge := range edges {
		m[edge.Source] = append(m[edge.Source], edge)
	}
	return m
}
