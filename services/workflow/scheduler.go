package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"automation-engine/pkg/logging"
)

// Runner executes workflows. *Coordinator implements it.
type Runner interface {
	ExecuteWorkflow(ctx context.Context, workflowID int64, in ExecuteInput) RunResult
}

type scheduledEntry struct {
	spec string
	id   cron.EntryID
}

// Scheduler fires workflows that carry a cron schedule and runs periodic
// maintenance jobs such as the orphan sweep.
type Scheduler struct {
	cron    *cron.Cron
	store   WorkflowStore
	runner  Runner
	locker  Locker
	lockTTL time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[int64]scheduledEntry
}

// NewScheduler creates a Scheduler. locker may be nil for a single instance.
func NewScheduler(store WorkflowStore, runner Runner, locker Locker) *Scheduler {
	if locker == nil {
		locker = LocalLocker{}
	}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		store:   store,
		runner:  runner,
		locker:  locker,
		lockTTL: time.Minute,
		logger:  logging.WithModule("scheduler"),
		entries: make(map[int64]scheduledEntry),
	}
}

// AddJob schedules fn on spec.
func (s *Scheduler) AddJob(spec, name string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Debug("Running job", "job", name)
		fn(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// AddJanitor runs j.Sweep on spec.
func (s *Scheduler) AddJanitor(spec string, j *Janitor) error {
	return s.AddJob(spec, "orphan-sweep", func(ctx context.Context) {
		if _, err := j.Sweep(ctx); err != nil {
			s.logger.Error("Orphan sweep failed", "error", err)
		}
	})
}

// Sync registers the schedules of active workflows, replacing changed ones
// and removing those no longer scheduled.
func (s *Scheduler) Sync(ctx context.Context) error {
	wfs, err := s.store.ListScheduledWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("sync schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool, len(wfs))
	for _, wf := range wfs {
		seen[wf.ID] = true
		if cur, ok := s.entries[wf.ID]; ok {
			if cur.spec == wf.Schedule {
				continue
			}
			s.cron.Remove(cur.id)
			delete(s.entries, wf.ID)
		}

		if err := ValidateSchedule(wf.Schedule); err != nil {
			s.logger.Warn("Invalid workflow schedule", "workflow_id", wf.ID, "schedule", wf.Schedule, "error", err)
			continue
		}
		id, err := s.cron.AddFunc(wf.Schedule, s.fire(wf.ID))
		if err != nil {
			s.logger.Warn("Invalid workflow schedule", "workflow_id", wf.ID, "schedule", wf.Schedule, "error", err)
			continue
		}
		s.entries[wf.ID] = scheduledEntry{spec: wf.Schedule, id: id}
		s.logger.Info("Scheduled workflow", "workflow_id", wf.ID, "schedule", wf.Schedule)
	}

	for wfID, entry := range s.entries {
		if !seen[wfID] {
			s.cron.Remove(entry.id)
			delete(s.entries, wfID)
			s.logger.Info("Unscheduled workflow", "workflow_id", wfID)
		}
	}
	return nil
}

// Scheduled returns the schedule of every registered workflow by id.
func (s *Scheduler) Scheduled() map[int64]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]string, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.spec
	}
	return out
}

func (s *Scheduler) fire(workflowID int64) func() {
	return func() {
		s.Fire(context.Background(), workflowID, time.Now())
	}
}

// Fire runs a scheduled workflow for the tick at, unless another instance
// already holds the lock for that tick.
func (s *Scheduler) Fire(ctx context.Context, workflowID int64, at time.Time) (RunResult, bool) {
	tick := at.UTC().Truncate(time.Minute)
	key := fmt.Sprintf("workflow:%d:%d", workflowID, tick.Unix())
	ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		s.logger.Error("Failed to take schedule lock", "workflow_id", workflowID, "error", err)
		return RunResult{}, false
	}
	if !ok {
		s.logger.Debug("Schedule tick taken by another instance", "workflow_id", workflowID, "tick", tick)
		return RunResult{}, false
	}

	res := s.runner.ExecuteWorkflow(ctx, workflowID, ExecuteInput{
		Trigger: TriggerSchedule,
		Data:    map[string]any{"scheduledAt": tick.Format(time.RFC3339)},
	})
	if !res.Success {
		s.logger.Warn("Scheduled run failed", "workflow_id", workflowID, "execution_id", res.ExecutionID, "error", res.Error)
	}
	return res, true
}

// Run starts the cron loop, resyncs workflow schedules every resync interval
// and blocks until ctx is done. Running jobs are waited for on exit.
func (s *Scheduler) Run(ctx context.Context, resync time.Duration) error {
	if err := s.Sync(ctx); err != nil {
		s.logger.Error("Initial schedule sync failed", "error", err)
	}
	s.cron.Start()

	ticker := time.NewTicker(resync)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Error("Schedule sync failed", "error", err)
			}
		}
	}
}

// ValidateSchedule reports whether spec is a valid standard cron expression
// or descriptor. Intervals under a minute are rejected since schedule locks
// are taken per minute.
func ValidateSchedule(spec string) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok && every.Delay < time.Minute {
		return fmt.Errorf("invalid schedule %q: interval must be at least 1m", spec)
	}
	return nil
}
