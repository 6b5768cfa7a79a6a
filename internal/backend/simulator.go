package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/soochol/nodeflow/internal/catalog"
	"github.com/soochol/nodeflow/internal/dag"
	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/graph"
)

// Simulator is an in-process Backend that pretends to run workflows. Each
// status query advances the execution by one node along the plan order.
// A node whose data has "fail": true fails and ends the execution.
//
// It also serves the HTTP contract, so a Client can be pointed at it.
type Simulator struct {
	catalog catalog.Catalog
	router  chi.Router

	mu   sync.Mutex
	runs map[string]*simRun
}

type simRun struct {
	id       string
	order    []string
	failing  map[string]bool
	islands  []dag.Island
	step     int
	status   string
	failedAt string
	nodes    map[string]flow.NodeStatus
}

var _ Backend = (*Simulator)(nil)

func NewSimulator(c catalog.Catalog) *Simulator {
	s := &Simulator{catalog: c, runs: make(map[string]*simRun)}
	r := chi.NewRouter()
	r.Post("/execute", s.handleExecute)
	r.Post("/status", s.handleStatus)
	r.Post("/cancel", s.handleCancel)
	s.router = r
	return s
}

func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Simulator) Submit(_ context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if req.WorkflowData == nil {
		return nil, fmt.Errorf("workflowData is required")
	}
	g, err := graph.FromDocument(req.WorkflowData, s.catalog, nil)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	a := dag.New(g.Snapshot(), s.catalog)
	plan := a.Plan()
	if err := plan.Err(); err != nil {
		return nil, err
	}

	run := &simRun{
		id:      flow.GenerateID("sim"),
		order:   plan.Order,
		failing: make(map[string]bool),
		islands: a.Islands(),
		status:  StatusPending,
		nodes:   make(map[string]flow.NodeStatus, len(plan.Order)),
	}
	for _, id := range plan.Order {
		run.nodes[id] = flow.NodeStatusPending
		if fail, _ := a.Node(id).Data["fail"].(bool); fail {
			run.failing[id] = true
		}
	}
	s.mu.Lock()
	s.runs[run.id] = run
	s.mu.Unlock()
	slog.Debug("simulator: execution submitted", "execution_id", run.id, "workflow_id", req.WorkflowID, "nodes", len(run.order))
	return &SubmitResponse{Success: true, ExecutionID: run.id}, nil
}

func (s *Simulator) Status(_ context.Context, executionID string) (*StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
	}
	run.advance()
	return run.report(), nil
}

func (s *Simulator) Cancel(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[executionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
	}
	if !Terminal(run.status) {
		run.status = StatusCancelled
		for id, st := range run.nodes {
			if !st.Finished() {
				run.nodes[id] = flow.NodeStatusSkipped
			}
		}
	}
	return nil
}

// advance completes the running node and starts the next one.
func (r *simRun) advance() {
	if Terminal(r.status) {
		return
	}
	if r.step > 0 {
		prev := r.order[r.step-1]
		if r.failing[prev] {
			r.nodes[prev] = flow.NodeStatusFailed
			r.failedAt = prev
			r.status = StatusFailed
			for _, id := range r.order[r.step:] {
				r.nodes[id] = flow.NodeStatusSkipped
			}
			return
		}
		r.nodes[prev] = flow.NodeStatusCompleted
	}
	if r.step >= len(r.order) {
		r.status = StatusCompleted
		return
	}
	r.nodes[r.order[r.step]] = flow.NodeStatusRunning
	r.status = StatusRunning
	r.step++
}

func (r *simRun) report() *StatusResponse {
	resp := &StatusResponse{Success: true, Status: r.status}
	finished := 0
	for _, id := range r.order {
		st := r.nodes[id]
		ns := NodeStatus{NodeID: id, Status: st}
		switch st {
		case flow.NodeStatusCompleted:
			ns.ResultURL = r.resultURL(id)
		case flow.NodeStatusFailed:
			ns.Error = "simulated failure"
		}
		if st.Finished() {
			finished++
		}
		resp.NodeStatuses = append(resp.NodeStatuses, ns)
	}
	if len(r.order) > 0 {
		resp.Progress = finished * 100 / len(r.order)
	} else if r.status == StatusCompleted {
		resp.Progress = 100
	}

	for _, isl := range r.islands {
		fs := FlowStatus{FlowID: isl.ID, FlowName: isl.Name, Status: r.flowStatus(isl)}
		if len(isl.EntryNodeIDs) > 0 {
			fs.EntryNodeID = isl.EntryNodeIDs[0]
		}
		if fs.Status == StatusFailed {
			fs.Error = fmt.Sprintf("node %s failed", r.failedAt)
		}
		resp.FlowStatuses = append(resp.FlowStatuses, fs)
	}

	switch r.status {
	case StatusCompleted:
		resp.Outputs = make(map[string]any, len(r.order))
		for _, id := range r.order {
			resp.Outputs[id] = r.resultURL(id)
		}
		if n := len(r.order); n > 0 {
			resp.ResultURL = r.resultURL(r.order[n-1])
		}
	case StatusFailed:
		resp.Error = fmt.Sprintf("node %s failed", r.failedAt)
	}
	return resp
}

func (r *simRun) flowStatus(isl dag.Island) string {
	var scheduled, done int
	started := false
	for _, id := range isl.NodeIDs {
		st, ok := r.nodes[id]
		if !ok {
			continue
		}
		scheduled++
		switch st {
		case flow.NodeStatusFailed:
			return StatusFailed
		case flow.NodeStatusCompleted, flow.NodeStatusSkipped:
			done++
			started = true
		case flow.NodeStatusRunning:
			started = true
		}
	}
	switch {
	case r.status == StatusCancelled && done < scheduled:
		return StatusCancelled
	case scheduled > 0 && done == scheduled:
		return StatusCompleted
	case scheduled == 0 && r.status == StatusCompleted:
		return StatusCompleted
	case started:
		return StatusRunning
	default:
		return StatusPending
	}
}

func (r *simRun) resultURL(nodeID string) string {
	return fmt.Sprintf("sim://%s/%s", r.id, nodeID)
}

// --- HTTP ---

func (s *Simulator) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SubmitResponse{Error: "invalid request body"})
		return
	}
	resp, err := s.Submit(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, SubmitResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Simulator) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, StatusResponse{Error: "invalid request body"})
		return
	}
	resp, err := s.Status(r.Context(), req.ExecutionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, StatusResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Simulator) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CancelResponse{Error: "invalid request body"})
		return
	}
	if err := s.Cancel(r.Context(), req.ExecutionID); err != nil {
		writeJSON(w, http.StatusNotFound, CancelResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
