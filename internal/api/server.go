// Package api exposes the workflow editor, analyzer and execution
// coordinator over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/soochol/nodeflow/internal/dag"
	"github.com/soochol/nodeflow/internal/engine"
	"github.com/soochol/nodeflow/internal/graph"
	"github.com/soochol/nodeflow/internal/metrics"
	"github.com/soochol/nodeflow/internal/repository"
	"github.com/soochol/nodeflow/internal/services"
)

type Server struct {
	workflows    *services.WorkflowService
	executions   *services.ExecutionService
	schedulerSvc *services.SchedulerService
	extra        map[string]http.Handler
}

func NewServer(workflows *services.WorkflowService, executions *services.ExecutionService) *Server {
	return &Server{
		workflows:  workflows,
		executions: executions,
		extra:      make(map[string]http.Handler),
	}
}

// SetSchedulerService configures the scheduler service.
func (s *Server) SetSchedulerService(svc *services.SchedulerService) {
	s.schedulerSvc = svc
}

// Mount serves h under prefix next to the API, e.g. the built-in
// execution simulator.
func (s *Server) Mount(prefix string, h http.Handler) {
	s.extra[prefix] = h
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
	}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", s.listCatalog)
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.createWorkflow)
			r.Get("/", s.listWorkflows)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getWorkflow)
				r.Put("/", s.replaceWorkflow)
				r.Delete("/", s.deleteWorkflow)
				r.Post("/save", s.saveWorkflow)

				r.Post("/nodes", s.addNode)
				r.Post("/nodes/duplicate", s.duplicateNodes)
				r.Patch("/nodes/{nodeId}", s.patchNode)
				r.Delete("/nodes/{nodeId}", s.removeNode)
				r.Post("/nodes/{nodeId}/select", s.selectNode)
				r.Post("/connections", s.createConnection)
				r.Delete("/connections/{connId}", s.deleteConnection)

				r.Get("/islands", s.getIslands)
				r.Get("/plan", s.getPlan)
				r.Get("/validate", s.validateWorkflow)

				r.Post("/execute", s.executeWorkflow)
				r.Get("/execution", s.getCurrentExecution)
				r.Post("/execution/cancel", s.cancelExecution)
			})
		})
		r.Route("/executions", func(r chi.Router) {
			r.Get("/", s.listExecutions)
			r.Get("/{id}", s.getExecution)
			r.Get("/{id}/events", s.streamExecutionEvents)
		})
		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", s.createSchedule)
			r.Get("/", s.listSchedules)
			r.Get("/{id}", s.getSchedule)
			r.Delete("/{id}", s.deleteSchedule)
			r.Post("/{id}/pause", s.pauseSchedule)
			r.Post("/{id}/resume", s.resumeSchedule)
		})
	})
	r.Handle("/metrics", metrics.Handler())
	for prefix, h := range s.extra {
		r.Mount(prefix, http.StripPrefix(prefix, h))
	}
	return r
}

// listCatalog returns the node types available to the editor.
// GET /api/catalog
func (s *Server) listCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workflows.Catalog().List())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps service and domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, graph.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrDuplicateConnection),
		errors.Is(err, graph.ErrDuplicateNode),
		errors.Is(err, services.ErrWorkflowExists),
		errors.Is(err, engine.ErrAlreadyRunning),
		errors.Is(err, engine.ErrNotRunning),
		errors.Is(err, dag.ErrCycle):
		return http.StatusConflict
	case errors.Is(err, graph.ErrSelfConnection),
		errors.Is(err, graph.ErrTypeMismatch),
		errors.Is(err, graph.ErrPortNotFound),
		errors.Is(err, graph.ErrUnknownNodeType),
		errors.Is(err, services.ErrInvalidWorkflow),
		errors.Is(err, services.ErrInvalidSchedule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrSubmitFailed):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrCapacity):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
