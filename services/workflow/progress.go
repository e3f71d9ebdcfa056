package workflow

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// ProgressStore reads and writes the progress record of a run.
type ProgressStore interface {
	GetProgress(ctx context.Context, executionID string) (*ProgressSnapshot, error)
	SaveProgress(ctx context.Context, executionID string, p *ProgressSnapshot) error
}

// NewProgress returns the initial snapshot for a workflow with totalNodes nodes.
func NewProgress(totalNodes int) *ProgressSnapshot {
	return &ProgressSnapshot{
		CompletedNodes: []string{},
		TotalNodes:     totalNodes,
		Percentage:     0,
		NodeProgress:   map[string]NodeProgress{},
	}
}

// progressPatch is a partial update. Nil fields are left unchanged; node
// progress entries are merged by node id.
type progressPatch struct {
	CurrentNode    *string
	CompletedNodes []string
	Percentage     *int
	NodeProgress   map[string]NodeProgress
}

func (p *ProgressSnapshot) merge(patch progressPatch) {
	if patch.CurrentNode != nil {
		p.CurrentNode = *patch.CurrentNode
	}
	if patch.CompletedNodes != nil {
		p.CompletedNodes = patch.CompletedNodes
	}
	if patch.Percentage != nil {
		p.Percentage = *patch.Percentage
	}
	if len(patch.NodeProgress) > 0 {
		if p.NodeProgress == nil {
			p.NodeProgress = map[string]NodeProgress{}
		}
		maps.Copy(p.NodeProgress, patch.NodeProgress)
	}
}

func (p *ProgressSnapshot) clone() *ProgressSnapshot {
	if p == nil {
		return nil
	}
	out := *p
	out.CompletedNodes = slices.Clone(p.CompletedNodes)
	out.NodeProgress = maps.Clone(p.NodeProgress)
	return &out
}

// ProgressTracker applies node transitions to a run's progress record. Each
// transition reads the stored record, merges the change and writes it back.
type ProgressTracker struct {
	store       ProgressStore
	executionID string
	totalNodes  int
	last        *ProgressSnapshot
	now         func() time.Time
}

// NewProgressTracker creates a tracker for one run.
func NewProgressTracker(store ProgressStore, executionID string, totalNodes int, now func() time.Time) *ProgressTracker {
	if now == nil {
		now = time.Now
	}
	return &ProgressTracker{
		store:       store,
		executionID: executionID,
		totalNodes:  totalNodes,
		last:        NewProgress(totalNodes),
		now:         now,
	}
}

// NodeStarted marks nodeID running and makes it the current node.
func (t *ProgressTracker) NodeStarted(ctx context.Context, nodeID string) error {
	at := t.now().UTC()
	return t.update(ctx, func(cur *ProgressSnapshot) progressPatch {
		return progressPatch{
			CurrentNode:  &nodeID,
			NodeProgress: map[string]NodeProgress{nodeID: {Status: NodeRunning, StartedAt: &at}},
		}
	})
}

// NodeCompleted records nodeID as completed and recomputes the percentage.
// A node revisited by a loop is counted once.
func (t *ProgressTracker) NodeCompleted(ctx context.Context, nodeID string) error {
	at := t.now().UTC()
	return t.update(ctx, func(cur *ProgressSnapshot) progressPatch {
		completed := slices.Clone(cur.CompletedNodes)
		if !slices.Contains(completed, nodeID) {
			completed = append(completed, nodeID)
		}
		pct := percentage(len(completed), cur.TotalNodes)
		np := cur.NodeProgress[nodeID]
		np.Status = NodeCompleted
		np.CompletedAt = &at
		return progressPatch{
			CompletedNodes: completed,
			Percentage:     &pct,
			NodeProgress:   map[string]NodeProgress{nodeID: np},
		}
	})
}

// NodeFailed marks nodeID failed. The current node stays on the failed node.
func (t *ProgressTracker) NodeFailed(ctx context.Context, nodeID string) error {
	at := t.now().UTC()
	return t.update(ctx, func(cur *ProgressSnapshot) progressPatch {
		np := cur.NodeProgress[nodeID]
		np.Status = NodeFailed
		np.CompletedAt = &at
		return progressPatch{
			CurrentNode:  &nodeID,
			NodeProgress: map[string]NodeProgress{nodeID: np},
		}
	})
}

// Snapshot returns the last written progress record.
func (t *ProgressTracker) Snapshot() *ProgressSnapshot {
	return t.last.clone()
}

func (t *ProgressTracker) update(ctx context.Context, change func(cur *ProgressSnapshot) progressPatch) error {
	cur, err := t.store.GetProgress(ctx, t.executionID)
	if err != nil {
		return fmt.Errorf("read progress: %w", err)
	}
	if cur == nil {
		cur = NewProgress(t.totalNodes)
	}
	cur.merge(change(cur))
	if err := t.store.SaveProgress(ctx, t.executionID, cur); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	t.last = cur.clone()
	return nil
}

func percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(completed) / float64(total) * 100))
	return min(pct, 100)
}
