package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/graph"
)

type addNodeRequest struct {
	Type     string         `json:"type"`
	Position flow.Position  `json:"position"`
	Data     map[string]any `json:"data"`
}

type patchNodeRequest struct {
	Position *flow.Position `json:"position,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

type duplicateNodesRequest struct {
	NodeIDs []string      `json:"nodeIds"`
	Offset  flow.Position `json:"offset"`
}

type duplicateNodesResponse struct {
	IDMapping   map[string]string `json:"idMapping"`
	Nodes       []*flow.Node      `json:"nodes"`
	Connections []flow.Connection `json:"connections"`
}

type createConnectionRequest struct {
	From flow.Endpoint `json:"from"`
	To   flow.Endpoint `json:"to"`
}

// graphFor resolves the editor session named by the {id} URL parameter,
// writing the error response on failure.
func (s *Server) graphFor(w http.ResponseWriter, r *http.Request) (*graph.Graph, bool) {
	g, err := s.workflows.Graph(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return g, true
}

// addNode places a new node.
// POST /api/workflows/{id}/nodes
func (s *Server) addNode(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graphFor(w, r)
	if !ok {
		return
	}
	var req addNodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}
	n, err := g.AddNode(req.Type, req.Position, req.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// patchNode moves a node and/or merges data into it.
// PATCH /api/workflows/{id}/nodes/{nodeId}
func (s *Server) patchNode(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graphFor(w, r)
	if !ok {
		return
	}
	var req patchNodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	nodeID := chi.URLParam(r, "nodeId")
	if req.Position != nil {
		if err := g.MoveNode(nodeID, *req.Position); err != nil {
			writeError(w, err)
			return
		}
	}
	if len(req.Data) > 0 {
		if err := g.UpdateNodeData(nodeID, req.Data); err != nil {
			writeError(w, err)
			return
		}
	}
	n, found := g.Node(nodeID)
	if !found {
		writeError(w, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, nodeID))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// removeNode deletes a node and its connections.
// DELETE /api/workflows/{id}/nodes/{nodeId}
func (s *Server) removeNode(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graphFor(w, r)
	if !ok {
		return
	}
	g.RemoveNode(chi.URLParam(r, "nodeId"))
	w.WriteHeader(http.StatusNoContent)
}

// selectNode marks a node as selected in the editor.
// POST /api/workflows/{id}/nodes/{nodeId}/select
func (s *Server) selectNode(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graphFor(w, r)
	if !ok {
		return
	}
	if err := g.SelectNode(chi.URLParam(r, "nodeId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// duplicateNodes copies nodes and the connections among them.
// POST /api/workflows/{id}/nodes/duplicate
func (s *Server) duplicateNodes(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graphFor(w, r)
	if !ok {
		return
	}
	var req duplicateNodesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.NodeIDs) == 0 {
		http.Error(w, "nodeIds is required", http.StatusBadRequest)
		return
	}
	mapping, err := g.DuplicateNodes(req.NodeIDs, req.Offset)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := duplicateNodesResponse{IDMapping: mapping, Connections: []flow.Connection{}}
	created := make(map[string]bool, len(mapping))
	for _, oldID := range req.NodeIDs {
		newID := mapping[oldID]
		if n, found := g.Node(newID); found && !created[newID] {
			resp.Nodes = append(resp.Nodes, n)
		}
		created[newID] = true
	}
	for _, c := range g.Connections() {
		if created[c.From.NodeID] && created[c.To.NodeID] {
			resp.Connections = append(resp.Connections, c)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// createConnection links an output port to an input port. An existing
// connection into the same input is replaced.
// POST /api/workflows/{id}/connections
func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graphFor(w, r)
	if !ok {
		return
	}
	var req createConnectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := g.CreateConnection(req.From.NodeID, req.From.PortID, req.To.NodeID, req.To.PortID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// deleteConnection removes a connection.
// DELETE /api/workflows/{id}/connections/{connId}
func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graphFor(w, r)
	if !ok {
		return
	}
	g.DeleteConnection(chi.URLParam(r, "connId"))
	w.WriteHeader(http.StatusNoContent)
}
