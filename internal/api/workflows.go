package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/nodeflow/internal/flow"
)

// createWorkflow opens a new editor session, optionally from a document.
// POST /api/workflows
func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var doc *flow.Document
	if r.ContentLength != 0 {
		decoded, err := flow.DecodeDocument(r.Body, flow.FormatJSON)
		switch {
		case errors.Is(err, io.EOF):
		case err != nil:
			http.Error(w, "invalid workflow document: "+err.Error(), http.StatusBadRequest)
			return
		default:
			doc = decoded
		}
	}
	g, err := s.workflows.Create(r.Context(), doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g.Serialize())
}

// listWorkflows returns the metadata of stored and open workflows.
// GET /api/workflows
func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	metas, err := s.workflows.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

// getWorkflow returns the current document of a workflow.
// GET /api/workflows/{id}
func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	doc, err := s.workflows.Document(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// replaceWorkflow loads a document into the editor session.
// PUT /api/workflows/{id}
func (s *Server) replaceWorkflow(w http.ResponseWriter, r *http.Request) {
	doc, err := flow.DecodeDocument(r.Body, flow.FormatJSON)
	if err != nil {
		http.Error(w, "invalid workflow document: "+err.Error(), http.StatusBadRequest)
		return
	}
	g, err := s.workflows.Replace(r.Context(), chi.URLParam(r, "id"), doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g.Serialize())
}

// deleteWorkflow closes the session and removes the stored workflow.
// DELETE /api/workflows/{id}
func (s *Server) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.workflows.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// saveWorkflow persists the editor session.
// POST /api/workflows/{id}/save
func (s *Server) saveWorkflow(w http.ResponseWriter, r *http.Request) {
	doc, err := s.workflows.Save(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// getIslands returns the independent flows of a workflow.
// GET /api/workflows/{id}/islands
func (s *Server) getIslands(w http.ResponseWriter, r *http.Request) {
	a, err := s.workflows.Analyzer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Islands())
}

// getPlan returns the execution order with its diagnostics.
// GET /api/workflows/{id}/plan
func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	a, err := s.workflows.Analyzer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Plan())
}

// validateWorkflow reports every missing required input.
// GET /api/workflows/{id}/validate
func (s *Server) validateWorkflow(w http.ResponseWriter, r *http.Request) {
	a, err := s.workflows.Analyzer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Validate())
}
