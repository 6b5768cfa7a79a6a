package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/nodeflow/internal/flow"
)

type createScheduleRequest struct {
	WorkflowID string `json:"workflow_id"`
	CronExpr   string `json:"cron_expr"`
	Timezone   string `json:"timezone"`
	Enabled    *bool  `json:"enabled,omitempty"`
}

// createSchedule creates a new cron schedule for a saved workflow.
// POST /api/schedules
func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}
	var req createScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.WorkflowID == "" || req.CronExpr == "" {
		http.Error(w, "workflow_id and cron_expr are required", http.StatusBadRequest)
		return
	}
	if _, err := s.workflows.Graph(r.Context(), req.WorkflowID); err != nil {
		writeError(w, err)
		return
	}

	sched := &flow.Schedule{
		WorkflowID: req.WorkflowID,
		CronExpr:   req.CronExpr,
		Timezone:   req.Timezone,
		Enabled:    req.Enabled == nil || *req.Enabled,
	}
	created, err := s.schedulerSvc.Create(r.Context(), sched)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// listSchedules returns all schedules, optionally for one workflow.
// GET /api/schedules?workflow_id=
func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	schedules, err := s.schedulerSvc.List(r.Context(), r.URL.Query().Get("workflow_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if schedules == nil {
		schedules = []*flow.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

// getSchedule returns a single schedule.
// GET /api/schedules/{id}
func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}
	sched, err := s.schedulerSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// deleteSchedule removes a schedule.
// DELETE /api/schedules/{id}
func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.schedulerSvc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pauseSchedule disables a schedule.
// POST /api/schedules/{id}/pause
func (s *Server) pauseSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}
	sched, err := s.schedulerSvc.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// resumeSchedule re-enables a paused schedule.
// POST /api/schedules/{id}/resume
func (s *Server) resumeSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}
	sched, err := s.schedulerSvc.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}
