package workflow

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/moogar0880/problems"
)

const (
	defaultExecutionsLimit = 20
	maxExecutionsLimit     = 100
)

// HandleCreateWorkflow validates and stores a new workflow definition.
func (s *Service) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	wf.ID = 0

	if err := ValidateWorkflow(&wf, s.registry); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := s.store.CreateWorkflow(r.Context(), &wf); err != nil {
		slog.Error("Failed to create workflow", "error", err)
		writeInternal(w, r)
		return
	}
	slog.Info("Workflow created", "workflow_id", wf.ID, "user_id", wf.UserID)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(wf)
}

// HandleListWorkflows lists workflows, optionally filtered by ?userId=.
func (s *Service) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.store.ListWorkflows(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		slog.Error("Failed to list workflows", "error", err)
		writeInternal(w, r)
		return
	}
	if wfs == nil {
		wfs = []Workflow{}
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(wfs)
}

// HandleGetWorkflow loads a workflow definition and returns it as JSON.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(w, r)
	if !ok {
		return
	}
	slog.Debug("Getting workflow", "id", id)

	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get workflow", "id", id, "error", err)
		writeInternal(w, r)
		return
	}
	if wf == nil {
		writeProblem(w, r, http.StatusNotFound, "workflow_not_found", "workflow not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(wf)
}

type setActiveRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

// HandleSetActive activates or deactivates a workflow.
func (s *Service) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(w, r)
	if !ok {
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "isActive is required")
		return
	}

	found, err := s.store.SetWorkflowActive(r.Context(), id, *req.IsActive)
	if err != nil {
		slog.Error("Failed to update workflow", "id", id, "error", err)
		writeInternal(w, r)
		return
	}
	if !found {
		writeProblem(w, r, http.StatusNotFound, "workflow_not_found", "workflow not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"id": id, "isActive": *req.IsActive})
}

// HandleExecuteWorkflow runs the workflow synchronously and returns the run
// outcome. A failed run is still a 200 response with success=false.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(w, r)
	if !ok {
		return
	}
	slog.Debug("Executing workflow", "id", id)

	var in ExecuteInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := ValidateExecuteInput(in); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	result := s.coordinator.ExecuteWorkflow(r.Context(), id, in)
	if errors.Is(result.Err(), ErrWorkflowNotFound) {
		writeProblem(w, r, http.StatusNotFound, "workflow_not_found", result.Error)
		return
	}
	if result.ExecutionID == "" {
		writeInternal(w, r)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// HandleListExecutions lists the most recent runs of a workflow (?limit=, max 100).
func (s *Service) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(w, r)
	if !ok {
		return
	}

	limit := defaultExecutionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeProblem(w, r, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = min(n, maxExecutionsLimit)
	}

	runs, err := s.coordinator.ListExecutions(r.Context(), id, limit)
	if err != nil {
		slog.Error("Failed to list executions", "workflow_id", id, "error", err)
		writeInternal(w, r)
		return
	}
	if runs == nil {
		runs = []ExecutionRun{}
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(runs)
}

// HandleGetExecution returns a run with its logs and progress for polling.
func (s *Service) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status, err := s.coordinator.GetExecutionStatus(r.Context(), id)
	if errors.Is(err, ErrExecutionNotFound) {
		writeProblem(w, r, http.StatusNotFound, "execution_not_found", "execution not found")
		return
	}
	if err != nil {
		slog.Error("Failed to get execution", "execution_id", id, "error", err)
		writeInternal(w, r)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// HandleListOrphans returns runs stuck in running state past the orphan threshold.
func (s *Service) HandleListOrphans(w http.ResponseWriter, r *http.Request) {
	if s.orphans == nil {
		writeProblem(w, r, http.StatusNotFound, "not_found", "orphan detection is disabled")
		return
	}
	runs, err := s.orphans.Orphans(r.Context())
	if err != nil {
		slog.Error("Failed to list orphaned runs", "error", err)
		writeInternal(w, r)
		return
	}
	if runs == nil {
		runs = []ExecutionRun{}
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(runs)
}

// HandleListNodeTypes returns the registered node types.
func (s *Service) HandleListNodeTypes(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"types": s.registry.Types()})
}

func workflowID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "invalid workflow id")
		return 0, false
	}
	return id, true
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, kind, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(kind).
		WithDetail(detail)

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(problem)
}

func writeInternal(w http.ResponseWriter, r *http.Request) {
	writeProblem(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
}
