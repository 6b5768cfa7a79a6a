package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/services"
)

// executeWorkflow validates, plans and submits a workflow.
// POST /api/workflows/{id}/execute
func (s *Server) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	run, err := s.executions.Execute(r.Context(), chi.URLParam(r, "id"), services.TriggerManual, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run.State())
}

// getCurrentExecution returns the running, else most recent, execution.
// GET /api/workflows/{id}/execution
func (s *Server) getCurrentExecution(w http.ResponseWriter, r *http.Request) {
	run, ok := s.executions.Current(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": flow.PhaseIdle})
		return
	}
	writeJSON(w, http.StatusOK, run.State())
}

// cancelExecution stops the running execution of a workflow.
// POST /api/workflows/{id}/execution/cancel
func (s *Server) cancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.executions.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	run, _ := s.executions.Current(id)
	writeJSON(w, http.StatusOK, run.State())
}

// listExecutions returns execution history, newest first.
// GET /api/executions?workflow_id=&limit=&offset=
func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 20
	offset := 0
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	records, total, err := s.executions.History(r.Context(), q.Get("workflow_id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []*flow.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": records,
		"total":      total,
	})
}

// getExecution returns one recorded execution.
// GET /api/executions/{id}
func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.executions.Execution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// streamExecutionEvents streams execution events via SSE. A reconnecting
// client sends Last-Event-ID and receives only the events after it. The
// execution continues regardless of client connection state.
// GET /api/executions/{id}/events
func (s *Server) streamExecutionEvents(w http.ResponseWriter, r *http.Request) {
	execID := chi.URLParam(r, "id")

	lastSeq := -1
	if idStr := r.Header.Get("Last-Event-ID"); idStr != "" {
		if n, err := strconv.Atoi(idStr); err == nil {
			lastSeq = n
		}
	}
	startSeq := lastSeq + 1

	buffer := s.executions.Events()
	if buffer == nil {
		http.Error(w, "event streaming not available", http.StatusServiceUnavailable)
		return
	}
	events, notify, done, found := buffer.Subscribe(execID, startSeq)
	if !found {
		// Buffer already collected: answer from history.
		rec, err := s.executions.Execution(r.Context(), execID)
		if err != nil {
			writeError(w, err)
			return
		}
		s.sendSyntheticDone(w, rec)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	for _, ev := range events {
		writeSSEEvent(w, ev)
	}
	flusher.Flush()
	if done {
		writeDoneEvent(w, execID)
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-notify:
			nextSeq := startSeq + len(events)
			events, notify, done, found = buffer.Subscribe(execID, nextSeq)
			if !found {
				return
			}
			startSeq = nextSeq
			for _, ev := range events {
				writeSSEEvent(w, ev)
			}
			if done {
				writeDoneEvent(w, execID)
				flusher.Flush()
				return
			}
			flusher.Flush()
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeSSEEvent writes a single event as an SSE frame with the seq as the id.
func writeSSEEvent(w http.ResponseWriter, rec services.EventRecord) {
	data, _ := json.Marshal(rec.Event)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", rec.Seq, rec.Event.Type, data)
}

// writeDoneEvent writes the final "done" SSE event.
func writeDoneEvent(w http.ResponseWriter, execID string) {
	data, _ := json.Marshal(map[string]any{"execution_id": execID})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
}

// sendSyntheticDone answers a stream request for an execution whose event
// buffer is gone with its recorded outcome.
func (s *Server) sendSyntheticDone(w http.ResponseWriter, rec *flow.ExecutionRecord) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	payload := map[string]any{
		"execution_id": rec.ID,
		"status":       rec.Status,
		"progress":     rec.Progress,
	}
	if rec.Error != nil {
		payload["error"] = *rec.Error
	}
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}
