package workflow

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// Orphans lists runs stuck in running state. *Janitor implements it.
type Orphans interface {
	Orphans(ctx context.Context) ([]ExecutionRun, error)
}

// Service wires together the store, the run coordinator and the executor
// registry behind the HTTP API.
type Service struct {
	store       Store
	coordinator *Coordinator
	registry    *Registry
	orphans     Orphans
	limiter     *rate.Limiter
}

// NewService creates a Service. limiter may be nil to disable rate limiting of
// the execute endpoint.
func NewService(store Store, coordinator *Coordinator, registry *Registry, orphans Orphans, limiter *rate.Limiter) *Service {
	return &Service{
		store:       store,
		coordinator: coordinator,
		registry:    registry,
		orphans:     orphans,
		limiter:     limiter,
	}
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// rateLimit rejects requests beyond the limiter's rate with 429.
func rateLimit(limiter *rate.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeProblem(w, r, http.StatusTooManyRequests, "rate_limited", "too many execution requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers workflow and execution HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	parentRouter.Use(jsonMiddleware)

	workflows := parentRouter.PathPrefix("/workflows").Subrouter()
	workflows.StrictSlash(false)
	workflows.HandleFunc("", s.HandleCreateWorkflow).Methods("POST")
	workflows.HandleFunc("", s.HandleListWorkflows).Methods("GET")
	workflows.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	workflows.HandleFunc("/{id}/active", s.HandleSetActive).Methods("PUT")
	workflows.Handle("/{id}/execute", rateLimit(s.limiter, http.HandlerFunc(s.HandleExecuteWorkflow))).Methods("POST")
	workflows.HandleFunc("/{id}/executions", s.HandleListExecutions).Methods("GET")

	executions := parentRouter.PathPrefix("/executions").Subrouter()
	executions.HandleFunc("/orphaned", s.HandleListOrphans).Methods("GET")
	executions.HandleFunc("/{id}", s.HandleGetExecution).Methods("GET")

	parentRouter.HandleFunc("/node-types", s.HandleListNodeTypes).Methods("GET")
}
