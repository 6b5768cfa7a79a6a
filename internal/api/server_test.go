package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/soochol/nodeflow/internal/backend"
	"github.com/soochol/nodeflow/internal/catalog"
	"github.com/soochol/nodeflow/internal/dag"
	"github.com/soochol/nodeflow/internal/engine"
	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/graph"
	"github.com/soochol/nodeflow/internal/repository"
	"github.com/soochol/nodeflow/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	execs   *services.ExecutionService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cat := catalog.Default()
	bus := flow.NewEventBus()
	workflows := services.NewWorkflowService(repository.NewMemory(), cat, bus)
	events := services.NewEventBuffer(time.Minute)
	sim := backend.NewSimulator(cat)
	execs := services.NewExecutionService(services.ExecutionConfig{
		Workflows: workflows,
		Backend:   sim,
		History:   repository.NewMemoryExecutionRepository(),
		Events:    events,
		Bus:       bus,
		Options:   engine.Options{PollInterval: time.Millisecond, MaxInterval: 4 * time.Millisecond, MaxAttempts: 200},
	})
	scheduler := services.NewSchedulerService(repository.NewMemoryScheduleRepository(), execs)
	t.Cleanup(func() {
		execs.Close()
		events.Stop()
	})

	srv := NewServer(workflows, execs)
	srv.SetSchedulerService(scheduler)
	srv.Mount("/simulator", sim)
	return &testServer{t: t, handler: srv.Handler(), execs: execs}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(data)
	}
	var req *http.Request
	if rd != nil {
		req = httptest.NewRequest(method, path, rd)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func link(id, from, fromPort, to, toPort string) flow.Connection {
	return flow.Connection{ID: id, From: flow.Endpoint{NodeID: from, PortID: fromPort}, To: flow.Endpoint{NodeID: to, PortID: toPort}}
}

func posterDocument(id string) *flow.Document {
	return &flow.Document{
		Version:  flow.DocumentVersion,
		Workflow: flow.WorkflowMeta{ID: id, Name: "Poster"},
		Nodes: []flow.NodeDocument{
			{ID: "t", Type: "trigger", Data: map[string]any{"label": "Poster"}},
			{ID: "p", Type: "text-input", Data: map[string]any{}},
			{ID: "g", Type: "image-gen", Data: map[string]any{}},
			{ID: "o", Type: "image-output", Data: map[string]any{}},
		},
		Connections: []flow.Connection{
			link("c1", "t", "flow", "g", "flow"),
			link("c2", "p", "text", "g", "prompt"),
			link("c3", "g", "image", "o", "image"),
		},
		Canvas: flow.DefaultCanvas(),
	}
}

func TestAPI_Catalog(t *testing.T) {
	s := newTestServer(t)
	w := s.do("GET", "/api/catalog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	defs := decode[[]flow.NodeTypeDefinition](t, w)
	assert.NotEmpty(t, defs)
}

func TestAPI_WorkflowLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do("POST", "/api/workflows", posterDocument("wf-1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	doc := decode[flow.Document](t, w)
	assert.Len(t, doc.Nodes, 4)

	w = s.do("POST", "/api/workflows", posterDocument("wf-1"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do("POST", "/api/workflows", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	empty := decode[flow.Document](t, w)
	assert.NotEmpty(t, empty.Workflow.ID)

	w = s.do("GET", "/api/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]flow.WorkflowMeta](t, w), 2)

	replacement := posterDocument("ignored")
	replacement.Workflow.Name = "Renamed"
	w = s.do("PUT", "/api/workflows/wf-1", replacement)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "wf-1", decode[flow.Document](t, w).Workflow.ID)

	w = s.do("POST", "/api/workflows/wf-1/save", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do("GET", "/api/workflows/wf-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", decode[flow.Document](t, w).Workflow.Name)

	w = s.do("DELETE", "/api/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do("GET", "/api/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do("DELETE", "/api/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAPI_EditNodes(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do("POST", "/api/workflows", posterDocument("wf-1")).Code)

	w := s.do("POST", "/api/workflows/wf-1/nodes", addNodeRequest{Type: "text-gen", Position: flow.Position{X: 10, Y: 20}})
	require.Equal(t, http.StatusCreated, w.Code)
	added := decode[flow.Node](t, w)
	assert.Equal(t, "text-gen", added.Type)

	w = s.do("POST", "/api/workflows/wf-1/nodes", addNodeRequest{Type: "teleporter"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = s.do("POST", "/api/workflows/wf-1/nodes", addNodeRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("PATCH", "/api/workflows/wf-1/nodes/"+added.ID, map[string]any{
		"position": map[string]any{"x": 99, "y": 1},
		"data":     map[string]any{"label": "Writer"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	patched := decode[flow.Node](t, w)
	assert.Equal(t, 99.0, patched.Position.X)
	assert.Equal(t, "Writer", patched.Data["label"])

	w = s.do("PATCH", "/api/workflows/wf-1/nodes/ghost", map[string]any{"data": map[string]any{"a": 1}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, http.StatusNoContent, s.do("POST", "/api/workflows/wf-1/nodes/"+added.ID+"/select", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("POST", "/api/workflows/wf-1/nodes/ghost/select", nil).Code)

	w = s.do("POST", "/api/workflows/wf-1/nodes/duplicate", duplicateNodesRequest{NodeIDs: []string{"g", "o"}, Offset: flow.Position{X: 40}})
	require.Equal(t, http.StatusCreated, w.Code)
	dup := decode[duplicateNodesResponse](t, w)
	assert.Len(t, dup.Nodes, 2)
	require.Len(t, dup.Connections, 1, "only the g→o connection lies inside the selection")
	assert.Equal(t, dup.IDMapping["g"], dup.Connections[0].From.NodeID)

	assert.Equal(t, http.StatusNoContent, s.do("DELETE", "/api/workflows/wf-1/nodes/"+added.ID, nil).Code)
	w = s.do("GET", "/api/workflows/wf-1", nil)
	assert.Len(t, decode[flow.Document](t, w).Nodes, 6)
}

func TestAPI_Connections(t *testing.T) {
	s := newTestServer(t)
	doc := posterDocument("wf-1")
	doc.Connections = nil
	require.Equal(t, http.StatusCreated, s.do("POST", "/api/workflows", doc).Code)

	req := func(from, fromPort, to, toPort string) createConnectionRequest {
		return createConnectionRequest{
			From: flow.Endpoint{NodeID: from, PortID: fromPort},
			To:   flow.Endpoint{NodeID: to, PortID: toPort},
		}
	}

	w := s.do("POST", "/api/workflows/wf-1/connections", req("p", "text", "g", "prompt"))
	require.Equal(t, http.StatusCreated, w.Code)
	conn := decode[flow.Connection](t, w)
	assert.Equal(t, flow.PortText, conn.From.Type)

	tests := []struct {
		name string
		body createConnectionRequest
		want int
	}{
		{"duplicate", req("p", "text", "g", "prompt"), http.StatusConflict},
		{"type mismatch", req("p", "text", "o", "image"), http.StatusUnprocessableEntity},
		{"self connection", req("g", "image", "g", "reference"), http.StatusUnprocessableEntity},
		{"missing port", req("p", "nope", "g", "prompt"), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do("POST", "/api/workflows/wf-1/connections", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	assert.Equal(t, http.StatusNoContent, s.do("DELETE", "/api/workflows/wf-1/connections/"+conn.ID, nil).Code)
	w = s.do("GET", "/api/workflows/wf-1", nil)
	assert.Empty(t, decode[flow.Document](t, w).Connections)
}

func TestAPI_Analysis(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do("POST", "/api/workflows", posterDocument("wf-1")).Code)

	w := s.do("GET", "/api/workflows/wf-1/islands", nil)
	require.Equal(t, http.StatusOK, w.Code)
	islands := decode[[]dag.Island](t, w)
	require.Len(t, islands, 1)
	assert.Equal(t, "Poster", islands[0].Name)

	w = s.do("GET", "/api/workflows/wf-1/plan", nil)
	require.Equal(t, http.StatusOK, w.Code)
	plan := decode[dag.Plan](t, w)
	assert.Equal(t, []string{"t", "p", "g", "o"}, plan.Order)

	w = s.do("GET", "/api/workflows/wf-1/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[dag.Result](t, w).Valid)

	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/workflows/ghost/plan", nil).Code)
}

func TestAPI_ExecuteAndStream(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do("POST", "/api/workflows", posterDocument("wf-1")).Code)

	w := s.do("POST", "/api/workflows/wf-1/execute", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[engine.State](t, w)
	require.NotEmpty(t, started.ExecutionID)
	assert.Equal(t, []string{"t", "p", "g", "o"}, started.Order)

	require.Eventually(t, func() bool {
		w := s.do("GET", "/api/executions/"+started.ExecutionID, nil)
		return w.Code == http.StatusOK && decode[flow.ExecutionRecord](t, w).Status == flow.PhaseCompleted
	}, 5*time.Second, 5*time.Millisecond)

	w = s.do("GET", "/api/workflows/wf-1/execution", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, flow.PhaseCompleted, decode[engine.State](t, w).Status)

	w = s.do("GET", "/api/executions?workflow_id=wf-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Executions []flow.ExecutionRecord `json:"executions"`
		Total      int                    `json:"total"`
	}](t, w)
	assert.Equal(t, 1, list.Total)

	w = s.do("GET", "/api/executions/"+started.ExecutionID+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "id: 0\nevent: execution_started\n")
	assert.Contains(t, body, "event: execution_completed\n")
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.Contains(t, body, "event: done\n")

	req := httptest.NewRequest("GET", "/api/executions/"+started.ExecutionID+"/events", nil)
	req.Header.Set("Last-Event-ID", "0")
	rw := httptest.NewRecorder()
	s.handler.ServeHTTP(rw, req)
	assert.NotContains(t, rw.Body.String(), "event: execution_started\n", "replay resumes after Last-Event-ID")

	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/executions/ghost/events", nil).Code)
}

func TestAPI_ExecuteRejections(t *testing.T) {
	s := newTestServer(t)

	invalid := posterDocument("wf-invalid")
	invalid.Connections = invalid.Connections[:1]
	require.Equal(t, http.StatusCreated, s.do("POST", "/api/workflows", invalid).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, s.do("POST", "/api/workflows/wf-invalid/execute", nil).Code)

	loop := &flow.Document{
		Workflow: flow.WorkflowMeta{ID: "wf-loop"},
		Nodes: []flow.NodeDocument{
			{ID: "t", Type: "trigger"}, {ID: "p", Type: "text-input"},
			{ID: "a", Type: "text-gen"}, {ID: "b", Type: "text-gen"},
		},
		Connections: []flow.Connection{
			link("c1", "t", "flow", "a", "flow"),
			link("c2", "p", "text", "a", "prompt"),
			link("c3", "p", "text", "b", "prompt"),
			link("c4", "a", "text", "b", "context"),
			link("c5", "b", "text", "a", "context"),
		},
	}
	require.Equal(t, http.StatusCreated, s.do("POST", "/api/workflows", loop).Code)
	assert.Equal(t, http.StatusConflict, s.do("POST", "/api/workflows/wf-loop/execute", nil).Code)

	assert.Equal(t, http.StatusNotFound, s.do("POST", "/api/workflows/ghost/execute", nil).Code)
	assert.Equal(t, http.StatusConflict, s.do("POST", "/api/workflows/wf-loop/execution/cancel", nil).Code)

	w := s.do("GET", "/api/workflows/wf-loop/execution", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, flow.PhaseIdle, decode[engine.State](t, w).Status)
}

func TestAPI_Schedules(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do("POST", "/api/workflows", posterDocument("wf-1")).Code)

	w := s.do("POST", "/api/schedules", createScheduleRequest{WorkflowID: "wf-1", CronExpr: "0 9 * * *"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sched := decode[flow.Schedule](t, w)
	assert.True(t, sched.Enabled)
	assert.False(t, sched.NextRunAt.IsZero())

	assert.Equal(t, http.StatusUnprocessableEntity,
		s.do("POST", "/api/schedules", createScheduleRequest{WorkflowID: "wf-1", CronExpr: "whenever"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do("POST", "/api/schedules", createScheduleRequest{WorkflowID: "wf-1"}).Code)
	assert.Equal(t, http.StatusNotFound,
		s.do("POST", "/api/schedules", createScheduleRequest{WorkflowID: "ghost", CronExpr: "0 9 * * *"}).Code)

	w = s.do("GET", "/api/schedules?workflow_id=wf-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]flow.Schedule](t, w), 1)

	w = s.do("POST", "/api/schedules/"+sched.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[flow.Schedule](t, w).Enabled)

	w = s.do("POST", "/api/schedules/"+sched.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[flow.Schedule](t, w).Enabled)

	assert.Equal(t, http.StatusNoContent, s.do("DELETE", "/api/schedules/"+sched.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("DELETE", "/api/schedules/"+sched.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/schedules/"+sched.ID, nil).Code)
}

func TestAPI_MetricsAndSimulatorMount(t *testing.T) {
	s := newTestServer(t)

	w := s.do("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nodeflow_")

	w = s.do("POST", "/simulator/execute", backend.SubmitRequest{WorkflowID: "wf-x", WorkflowData: posterDocument("wf-x")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[backend.SubmitResponse](t, w).Success)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", repository.ErrNotFound), http.StatusNotFound},
		{&graph.ConnectionError{Kind: graph.ErrDuplicateConnection}, http.StatusConflict},
		{&graph.ConnectionError{Kind: graph.ErrTypeMismatch, Msg: "image → text"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: a, b", dag.ErrCycle), http.StatusConflict},
		{engine.ErrAlreadyRunning, http.StatusConflict},
		{fmt.Errorf("%w: dial tcp", engine.ErrSubmitFailed), http.StatusBadGateway},
		{services.ErrCapacity, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: missing prompt", services.ErrInvalidWorkflow), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
