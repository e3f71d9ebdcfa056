package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles workflow and run persistence in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id          BIGSERIAL PRIMARY KEY,
		user_id     TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		schedule    TEXT NOT NULL DEFAULT '',
		nodes       JSONB NOT NULL DEFAULT '[]',
		edges       JSONB NOT NULL DEFAULT '[]',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_executions (
		id           UUID PRIMARY KEY,
		workflow_id  BIGINT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		status       TEXT NOT NULL,
		trigger      TEXT NOT NULL DEFAULT 'manual',
		started_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		error        TEXT,
		input_data   JSONB,
		output_data  JSONB,
		progress     JSONB,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS workflow_executions_workflow_idx ON workflow_executions (workflow_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS workflow_executions_running_idx ON workflow_executions (started_at) WHERE status = 'running'`,
	`CREATE TABLE IF NOT EXISTS execution_logs (
		id           BIGSERIAL PRIMARY KEY,
		execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		level        TEXT NOT NULL,
		message      TEXT NOT NULL,
		data         JSONB,
		node_id      TEXT,
		logged_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS execution_logs_execution_idx ON execution_logs (execution_id, seq)`,
}

// InitSchema creates the tables if they do not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Seed inserts the sample workflow if no workflow with its name exists yet.
func (r *Repository) Seed(ctx context.Context) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM workflows WHERE name = $1)`, sampleWorkflow.Name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("seed workflow: %w", err)
	}
	if exists {
		return nil
	}
	wf := sampleWorkflow
	if err := r.CreateWorkflow(ctx, &wf); err != nil {
		return fmt.Errorf("seed workflow: %w", err)
	}
	return nil
}

// InitDB creates the schema and optionally seeds the sample workflow.
func InitDB(ctx context.Context, pool *pgxpool.Pool, seed bool) (*Repository, error) {
	repo := NewRepository(pool)
	if err := repo.InitSchema(ctx); err != nil {
		return nil, err
	}
	if seed {
		if err := repo.Seed(ctx); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

const workflowColumns = `id, user_id, name, description, is_active, schedule, nodes, edges, created_at, updated_at`

// CreateWorkflow inserts wf and fills in its id and timestamps.
func (r *Repository) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	nodesJSON, err := json.Marshal(wf.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(wf.Edges)
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO workflows (user_id, name, description, is_active, schedule, nodes, edges)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, wf.UserID, wf.Name, wf.Description, wf.IsActive, wf.Schedule, nodesJSON, edgesJSON).
		Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID. Returns nil, nil if not found.
func (r *Repository) GetWorkflow(ctx context.Context, id int64) (*Workflow, error) {
	return getWorkflow(ctx, r.db, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
}

// ListWorkflows returns the workflows owned by userID, or all when userID is empty.
func (r *Repository) ListWorkflows(ctx context.Context, userID string) ([]Workflow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+workflowColumns+` FROM workflows
		WHERE $1 = '' OR user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return collectWorkflows(rows)
}

// ListScheduledWorkflows returns active workflows that have a schedule.
func (r *Repository) ListScheduledWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+workflowColumns+` FROM workflows
		WHERE is_active AND schedule <> ''
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled workflows: %w", err)
	}
	return collectWorkflows(rows)
}

// SetWorkflowActive activates or deactivates a workflow.
func (r *Repository) SetWorkflowActive(ctx context.Context, id int64, active bool) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE workflows SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return false, fmt.Errorf("set workflow active: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InTx runs fn inside a database transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx RunTx) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&pgRunTx{tx: tx})
	})
}

const runColumns = `id::text, workflow_id, status, trigger, started_at, completed_at, error, input_data, output_data, progress, created_at`

// GetExecution returns a run by id, or nil, nil if it does not exist.
func (r *Repository) GetExecution(ctx context.Context, id string) (*ExecutionRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	run, err := scanRun(r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM workflow_executions WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return run, nil
}

// ListExecutions returns the most recent runs of a workflow, newest first.
func (r *Repository) ListExecutions(ctx context.Context, workflowID int64, limit int) ([]ExecutionRun, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+runColumns+` FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return collectRuns(rows)
}

// ListStaleRuns returns runs still marked running that started before olderThan.
func (r *Repository) ListStaleRuns(ctx context.Context, olderThan time.Time) ([]ExecutionRun, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+runColumns+` FROM workflow_executions
		WHERE status = 'running' AND started_at < $1
		ORDER BY started_at
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	return collectRuns(rows)
}

// FailRun marks a running run as failed.
func (r *Repository) FailRun(ctx context.Context, id, message string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE workflow_executions
		SET status = 'failed', error = $2, completed_at = $3
		WHERE id = $1 AND status = 'running'
	`, id, message, at)
	if err != nil {
		return false, fmt.Errorf("fail run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListLogs returns a run's log entries in the order they were recorded.
func (r *Repository) ListLogs(ctx context.Context, executionID string) ([]LogEntry, error) {
	if _, err := uuid.Parse(executionID); err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT level, message, data, COALESCE(node_id, ''), logged_at
		FROM execution_logs
		WHERE execution_id = $1
		ORDER BY seq
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var (
			entry    LogEntry
			level    string
			dataJSON []byte
		)
		if err := rows.Scan(&level, &entry.Message, &dataJSON, &entry.NodeID, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		entry.Level = LogLevel(level)
		if err := unmarshalNullable(dataJSON, &entry.Data); err != nil {
			return nil, fmt.Errorf("unmarshal log data: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return logs, nil
}

// pgRunTx implements RunTx on a pgx transaction.
type pgRunTx struct {
	tx pgx.Tx
}

func (t *pgRunTx) GetActiveWorkflow(ctx context.Context, id int64) (*Workflow, error) {
	return getWorkflow(ctx, t.tx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1 AND is_active`, id)
}

func (t *pgRunTx) CreateRun(ctx context.Context, run *ExecutionRun) error {
	inputJSON, err := json.Marshal(run.InputData)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	progressJSON, err := json.Marshal(run.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, status, trigger, started_at, input_data, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.WorkflowID, string(run.Status), run.Trigger, run.StartedAt, inputJSON, progressJSON, run.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("create run %s: already exists", run.ID)
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (t *pgRunTx) GetProgress(ctx context.Context, executionID string) (*ProgressSnapshot, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx, `SELECT progress FROM workflow_executions WHERE id = $1`, executionID).Scan(&raw)
	if isNoRows(err) {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrExecutionNotFound)
	}
	if err != nil {
		return nil, err
	}
	var p *ProgressSnapshot
	if err := unmarshalNullable(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal progress: %w", err)
	}
	return p, nil
}

func (t *pgRunTx) SaveProgress(ctx context.Context, executionID string, p *ProgressSnapshot) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	_, err = t.tx.Exec(ctx, `UPDATE workflow_executions SET progress = $2 WHERE id = $1`, executionID, raw)
	return err
}

func (t *pgRunTx) FinishRun(ctx context.Context, run *ExecutionRun) error {
	outputJSON, err := marshalNullable(run.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	progressJSON, err := json.Marshal(run.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE workflow_executions
		SET status = $2, completed_at = $3, output_data = $4, error = $5, progress = $6
		WHERE id = $1
	`, run.ID, string(run.Status), run.CompletedAt, outputJSON, run.Error, progressJSON)
	return err
}

// InsertLogs writes the whole batch with one COPY.
func (t *pgRunTx) InsertLogs(ctx context.Context, executionID string, entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	execID, err := uuid.Parse(executionID)
	if err != nil {
		return fmt.Errorf("insert logs: %w", err)
	}
	_, err = t.tx.CopyFrom(ctx,
		pgx.Identifier{"execution_logs"},
		[]string{"execution_id", "seq", "level", "message", "data", "node_id", "logged_at"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			data, err := json.Marshal(e.Data)
			if err != nil {
				return nil, err
			}
			var nodeID *string
			if e.NodeID != "" {
				nodeID = &e.NodeID
			}
			return []any{execID, int32(i), string(e.Level), e.Message, data, nodeID, e.Timestamp}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("insert logs: %w", err)
	}
	return nil
}

func getWorkflow(ctx context.Context, q querier, sql string, id int64) (*Workflow, error) {
	wf, err := scanWorkflow(q.QueryRow(ctx, sql, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func scanWorkflow(row pgx.Row) (*Workflow, error) {
	var wf Workflow
	var nodesJSON, edgesJSON []byte
	err := row.Scan(&wf.ID, &wf.UserID, &wf.Name, &wf.Description, &wf.IsActive, &wf.Schedule,
		&nodesJSON, &edgesJSON, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(nodesJSON, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edgesJSON, &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	return &wf, nil
}

func collectWorkflows(rows pgx.Rows) ([]Workflow, error) {
	defer rows.Close()
	var out []Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, *wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (*ExecutionRun, error) {
	var (
		run                              ExecutionRun
		status                           string
		inputJSON, outputJSON, progressJ []byte
	)
	err := row.Scan(&run.ID, &run.WorkflowID, &status, &run.Trigger, &run.StartedAt, &run.CompletedAt,
		&run.Error, &inputJSON, &outputJSON, &progressJ, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if err := unmarshalNullable(inputJSON, &run.InputData); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := unmarshalNullable(outputJSON, &run.OutputData); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	if err := unmarshalNullable(progressJ, &run.Progress); err != nil {
		return nil, fmt.Errorf("unmarshal progress: %w", err)
	}
	return &run, nil
}

func collectRuns(rows pgx.Rows) ([]ExecutionRun, error) {
	defer rows.Close()
	var out []ExecutionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return out, nil
}

func marshalNullable(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
