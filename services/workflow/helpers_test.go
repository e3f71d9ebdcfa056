package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testTime }

func node(id, typ string, config map[string]any) Node {
	return Node{ID: id, Type: typ, Data: NodeData{Label: id, Config: config}}
}

func edge(source, target string) Edge {
	return Edge{ID: source + "-" + target, Source: source, Target: target}
}

func setVariableNode(id, name string, value any) Node {
	return node(id, "action", map[string]any{"actionType": "set_variable", "name": name, "value": value})
}

// recordingProgress is an in-memory ProgressStore that keeps every write.
type recordingProgress struct {
	mu    sync.Mutex
	cur   *ProgressSnapshot
	saves []ProgressSnapshot
}

func newRecordingProgress(total int) *recordingProgress {
	return &recordingProgress{cur: NewProgress(total)}
}

func (p *recordingProgress) GetProgress(context.Context, string) (*ProgressSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur.clone(), nil
}

func (p *recordingProgress) SaveProgress(_ context.Context, _ string, s *ProgressSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur = s.clone()
	p.saves = append(p.saves, *s.clone())
	return nil
}

type engineRun struct {
	output   map[string]any
	err      error
	ec       *ExecutionContext
	progress *recordingProgress
	tracker  *ProgressTracker
	logs     *LogBuffer
}

func runEngine(t *testing.T, ctx context.Context, e *Engine, wf *Workflow, input map[string]any) engineRun {
	t.Helper()
	run := &ExecutionRun{ID: "exec-1", Trigger: TriggerManual, StartedAt: testTime, InputData: input}
	logs := NewLogBuffer(fixedClock)
	ec := NewExecutionContext(run, wf, logs, fixedClock)
	progress := newRecordingProgress(len(wf.Nodes))
	tracker := NewProgressTracker(progress, run.ID, len(wf.Nodes), fixedClock)
	out, err := e.Run(ctx, wf, ec, tracker, logs)
	return engineRun{output: out, err: err, ec: ec, progress: progress, tracker: tracker, logs: logs}
}

// countingRegistry wraps every executor of the default registry and records
// the ids of the nodes it dispatches, in order.
type countingRegistry struct {
	*Registry
	mu    sync.Mutex
	calls []string
}

func newCountingRegistry() *countingRegistry {
	base := NewDefaultRegistry(nil)
	c := &countingRegistry{Registry: NewRegistry()}
	for _, typ := range base.Types() {
		inner, _ := base.Lookup(typ)
		c.MustRegister(typ, c.wrap(inner))
	}
	return c
}

func (c *countingRegistry) wrap(inner NodeExecutor) NodeExecutor {
	return ExecutorFunc(func(ctx context.Context, n Node, ec *ExecutionContext, input map[string]any) NodeResult {
		c.mu.Lock()
		c.calls = append(c.calls, n.ID)
		c.mu.Unlock()
		return inner.Execute(ctx, n, ec, input)
	})
}

func (c *countingRegistry) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// countingStore wraps a MemoryStore and counts log batch writes.
type countingStore struct {
	*MemoryStore
	mu         sync.Mutex
	logBatches [][]LogEntry
	failFinish error
}

func (s *countingStore) InTx(ctx context.Context, fn func(tx RunTx) error) error {
	return s.MemoryStore.InTx(ctx, func(tx RunTx) error {
		return fn(&countingTx{RunTx: tx, store: s})
	})
}

func (s *countingStore) batches() [][]LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]LogEntry(nil), s.logBatches...)
}

type countingTx struct {
	RunTx
	store *countingStore
}

func (t *countingTx) InsertLogs(ctx context.Context, executionID string, entries []LogEntry) error {
	t.store.mu.Lock()
	t.store.logBatches = append(t.store.logBatches, append([]LogEntry(nil), entries...))
	t.store.mu.Unlock()
	return t.RunTx.InsertLogs(ctx, executionID, entries)
}

func (t *countingTx) FinishRun(ctx context.Context, run *ExecutionRun) error {
	if t.store.failFinish != nil {
		return t.store.failFinish
	}
	return t.RunTx.FinishRun(ctx, run)
}

func createWorkflow(t *testing.T, store WorkflowStore, wf *Workflow) int64 {
	t.Helper()
	wf.IsActive = true
	require.NoError(t, store.CreateWorkflow(context.Background(), wf))
	return wf.ID
}

func scenarioA() *Workflow {
	return &Workflow{
		Name: "Scenario A",
		Nodes: []Node{
			node("start", "start", nil),
			setVariableNode("set-x", "x", 5),
			node("end", "end", nil),
		},
		Edges: []Edge{edge("start", "set-x"), edge("set-x", "end")},
	}
}
