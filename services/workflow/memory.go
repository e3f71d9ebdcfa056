package workflow

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Transactions stage their writes and
// apply them atomically on commit, so concurrent runs do not block each other.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	workflows map[int64]Workflow
	runs      map[string]ExecutionRun
	logs      map[string][]LogEntry
	now       func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[int64]Workflow),
		runs:      make(map[string]ExecutionRun),
		logs:      make(map[string][]LogEntry),
		now:       time.Now,
	}
}

// Seed adds the sample workflow.
func (s *MemoryStore) Seed(ctx context.Context) error {
	wf := sampleWorkflow
	return s.CreateWorkflow(ctx, &wf)
}

func (s *MemoryStore) CreateWorkflow(_ context.Context, wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.now().UTC()
	wf.ID = s.nextID
	wf.CreatedAt = now
	wf.UpdatedAt = now
	s.workflows[wf.ID] = cloneWorkflow(*wf)
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id int64) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	out := cloneWorkflow(wf)
	return &out, nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context, userID string) ([]Workflow, error) {
	return s.filterWorkflows(func(wf Workflow) bool { return userID == "" || wf.UserID == userID }), nil
}

func (s *MemoryStore) ListScheduledWorkflows(_ context.Context) ([]Workflow, error) {
	return s.filterWorkflows(func(wf Workflow) bool { return wf.IsActive && wf.Schedule != "" }), nil
}

func (s *MemoryStore) filterWorkflows(keep func(Workflow) bool) []Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Workflow
	for _, wf := range s.workflows {
		if keep(wf) {
			out = append(out, cloneWorkflow(wf))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) SetWorkflowActive(_ context.Context, id int64, active bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return false, nil
	}
	wf.IsActive = active
	wf.UpdatedAt = s.now().UTC()
	s.workflows[id] = wf
	return true, nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx RunTx) error) error {
	tx := &memTx{
		store: s,
		runs:  make(map[string]ExecutionRun),
		logs:  make(map[string][]LogEntry),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, run := range tx.runs {
		s.runs[id] = run
	}
	for id, entries := range tx.logs {
		s.logs[id] = append(s.logs[id], entries...)
	}
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*ExecutionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	out := cloneRun(run)
	return &out, nil
}

func (s *MemoryStore) ListLogs(_ context.Context, executionID string) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs[executionID]), nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, workflowID int64, limit int) ([]ExecutionRun, error) {
	out := s.filterRuns(func(r ExecutionRun) bool { return r.WorkflowID == workflowID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListStaleRuns(_ context.Context, olderThan time.Time) ([]ExecutionRun, error) {
	out := s.filterRuns(func(r ExecutionRun) bool {
		return r.Status == StatusRunning && r.StartedAt.Before(olderThan)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) filterRuns(keep func(ExecutionRun) bool) []ExecutionRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ExecutionRun
	for _, r := range s.runs {
		if keep(r) {
			out = append(out, cloneRun(r))
		}
	}
	return out
}

func (s *MemoryStore) FailRun(_ context.Context, id, message string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != StatusRunning {
		return false, nil
	}
	run.Status = StatusFailed
	run.Error = &message
	run.CompletedAt = &at
	s.runs[id] = run
	return true, nil
}

// PutRun stores a run directly, outside any transaction.
func (s *MemoryStore) PutRun(run ExecutionRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = cloneRun(run)
}

// memTx stages a run's writes until commit.
type memTx struct {
	store *MemoryStore
	runs  map[string]ExecutionRun
	logs  map[string][]LogEntry
}

func (t *memTx) GetActiveWorkflow(ctx context.Context, id int64) (*Workflow, error) {
	wf, err := t.store.GetWorkflow(ctx, id)
	if err != nil || wf == nil || !wf.IsActive {
		return nil, err
	}
	return wf, nil
}

func (t *memTx) CreateRun(_ context.Context, run *ExecutionRun) error {
	if _, ok := t.runs[run.ID]; ok {
		return fmt.Errorf("create run %s: already exists", run.ID)
	}
	t.store.mu.RLock()
	_, exists := t.store.runs[run.ID]
	t.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("create run %s: already exists", run.ID)
	}
	t.runs[run.ID] = cloneRun(*run)
	return nil
}

func (t *memTx) run(id string) (ExecutionRun, error) {
	if run, ok := t.runs[id]; ok {
		return run, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	run, ok := t.store.runs[id]
	if !ok {
		return ExecutionRun{}, fmt.Errorf("execution %s: %w", id, ErrExecutionNotFound)
	}
	return cloneRun(run), nil
}

func (t *memTx) GetProgress(_ context.Context, executionID string) (*ProgressSnapshot, error) {
	run, err := t.run(executionID)
	if err != nil {
		return nil, err
	}
	return run.Progress.clone(), nil
}

func (t *memTx) SaveProgress(_ context.Context, executionID string, p *ProgressSnapshot) error {
	run, err := t.run(executionID)
	if err != nil {
		return err
	}
	run.Progress = p.clone()
	t.runs[executionID] = run
	return nil
}

func (t *memTx) FinishRun(_ context.Context, run *ExecutionRun) error {
	if _, err := t.run(run.ID); err != nil {
		return err
	}
	t.runs[run.ID] = cloneRun(*run)
	return nil
}

func (t *memTx) InsertLogs(_ context.Context, executionID string, entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	t.logs[executionID] = append(t.logs[executionID], entries...)
	return nil
}

func cloneWorkflow(wf Workflow) Workflow {
	wf.Nodes = slices.Clone(wf.Nodes)
	wf.Edges = slices.Clone(wf.Edges)
	return wf
}

func cloneRun(run ExecutionRun) ExecutionRun {
	run.Progress = run.Progress.clone()
	run.InputData = maps.Clone(run.InputData)
	run.OutputData = maps.Clone(run.OutputData)
	return run
}
