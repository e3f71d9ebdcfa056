package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"automation-engine/pkg/logging"
)

// OrphanMessage is the error recorded on runs failed by the janitor.
const OrphanMessage = "orphaned: no terminal status recorded"

// Janitor finds runs left in running state by a crashed process. It reports
// them and optionally marks them failed; it never re-executes a run.
type Janitor struct {
	store      Store
	threshold  time.Duration
	markFailed bool
	now        func() time.Time
	logger     *slog.Logger
}

// NewJanitor creates a Janitor that considers runs older than threshold orphaned.
func NewJanitor(store Store, threshold time.Duration, markFailed bool) *Janitor {
	return &Janitor{
		store:      store,
		threshold:  threshold,
		markFailed: markFailed,
		now:        time.Now,
		logger:     logging.WithModule("janitor"),
	}
}

// Orphans lists runs that have been running for longer than the threshold.
func (j *Janitor) Orphans(ctx context.Context) ([]ExecutionRun, error) {
	runs, err := j.store.ListStaleRuns(ctx, j.now().Add(-j.threshold))
	if err != nil {
		return nil, fmt.Errorf("list orphaned runs: %w", err)
	}
	return runs, nil
}

// Sweep logs every orphaned run and, when configured, marks it failed. It
// returns the runs it found.
func (j *Janitor) Sweep(ctx context.Context) ([]ExecutionRun, error) {
	runs, err := j.Orphans(ctx)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		j.logger.Warn("Orphaned run detected",
			"execution_id", run.ID,
			"workflow_id", run.WorkflowID,
			"started_at", run.StartedAt,
		)
		if !j.markFailed {
			continue
		}
		ok, err := j.store.FailRun(ctx, run.ID, OrphanMessage, j.now().UTC())
		if err != nil {
			return runs, fmt.Errorf("mark run %s failed: %w", run.ID, err)
		}
		if ok {
			j.logger.Info("Marked orphaned run failed", "execution_id", run.ID)
		}
	}
	return runs, nil
}
