// Package graph holds the node/connection model of a workflow being edited.
//
// A Graph owns its nodes and connections. Every mutation happens under one
// mutex, so callers never observe a half-applied change; observers are
// notified through a flow.EventBus after the lock is released.
package graph

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/soochol/nodeflow/internal/catalog"
	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/metrics"
)

// Graph is the mutable node/connection set of one workflow.
type Graph struct {
	mu      sync.RWMutex
	catalog catalog.Catalog
	bus     *flow.EventBus

	meta      flow.WorkflowMeta
	canvas    flow.Canvas
	nodes     map[string]*flow.Node
	nodeOrder []string
	conns     map[string]*flow.Connection
	connOrder []string
	selected  string
}

// New creates an empty graph for the workflow described by meta. bus may be nil.
func New(meta flow.WorkflowMeta, c catalog.Catalog, bus *flow.EventBus) *Graph {
	return &Graph{
		catalog: c,
		bus:     bus,
		meta:    meta,
		canvas:  flow.DefaultCanvas(),
		nodes:   make(map[string]*flow.Node),
		conns:   make(map[string]*flow.Connection),
	}
}

// Catalog returns the node-type catalog the graph validates against.
func (g *Graph) Catalog() catalog.Catalog { return g.catalog }

// Meta returns the workflow metadata.
func (g *Graph) Meta() flow.WorkflowMeta {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.meta
}

// SetMeta replaces the workflow metadata, keeping the ID.
func (g *Graph) SetMeta(meta flow.WorkflowMeta) {
	g.mu.Lock()
	meta.ID = g.meta.ID
	g.meta = meta
	g.mu.Unlock()
}

// SetCanvas records the editor viewport.
func (g *Graph) SetCanvas(c flow.Canvas) {
	g.mu.Lock()
	g.canvas = c
	g.mu.Unlock()
}

func (g *Graph) event(typ flow.EventType, nodeID string, payload map[string]any) flow.Event {
	ev := flow.NewEvent(typ, payload)
	ev.WorkflowID = g.meta.ID
	ev.NodeID = nodeID
	return ev
}

func (g *Graph) publish(events []flow.Event) {
	for _, ev := range events {
		g.bus.Publish(ev)
	}
}

// --- nodes ---

// AddNode places a new node of nodeType at pos.
func (g *Graph) AddNode(nodeType string, pos flow.Position, data map[string]any) (*flow.Node, error) {
	if _, ok := g.catalog.Definition(nodeType); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, nodeType)
	}
	n := &flow.Node{
		ID:       flow.GenerateID("node"),
		Type:     nodeType,
		Position: pos,
		Data:     maps.Clone(data),
		Status:   flow.NodeStatusIdle,
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	if err := g.AddNodeWithID(n); err != nil {
		return nil, err
	}
	return n.Clone(), nil
}

// AddNodeWithID inserts n as-is. Its ID must be unused.
func (g *Graph) AddNodeWithID(n *flow.Node) error {
	if n.ID == "" {
		return fmt.Errorf("node has no id")
	}
	g.mu.Lock()
	if _, exists := g.nodes[n.ID]; exists {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	cp := n.Clone()
	if cp.Status == "" {
		cp.Status = flow.NodeStatusIdle
	}
	g.nodes[cp.ID] = cp
	g.nodeOrder = append(g.nodeOrder, cp.ID)
	ev := g.event(flow.EventNodeAdded, cp.ID, map[string]any{"node": cp.Clone()})
	g.mu.Unlock()

	g.bus.Publish(ev)
	return nil
}

// RemoveNode deletes a node and every connection touching it.
// Removing an unknown node is a no-op and returns false.
func (g *Graph) RemoveNode(id string) bool {
	g.mu.Lock()
	if _, ok := g.nodes[id]; !ok {
		g.mu.Unlock()
		return false
	}
	events := g.removeConnectionsForNodeLocked(id)
	delete(g.nodes, id)
	g.nodeOrder = removeID(g.nodeOrder, id)
	if g.selected == id {
		g.selected = ""
	}
	events = append(events, g.event(flow.EventNodeRemoved, id, map[string]any{"node_id": id}))
	g.mu.Unlock()

	g.publish(events)
	return true
}

// MoveNode updates a node's canvas position.
func (g *Graph) MoveNode(id string, pos flow.Position) error {
	g.mu.Lock()
	n, ok := g.nodes[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Position = pos
	ev := g.event(flow.EventNodeMoved, id, map[string]any{"position": pos})
	g.mu.Unlock()

	g.bus.Publish(ev)
	return nil
}

// UpdateNodeData merges patch into the node's data. A nil value deletes the key.
func (g *Graph) UpdateNodeData(id string, patch map[string]any) error {
	g.mu.Lock()
	n, ok := g.nodes[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	for k, v := range patch {
		if v == nil {
			delete(n.Data, k)
			continue
		}
		n.Data[k] = v
	}
	ev := g.event(flow.EventNodeUpdated, id, map[string]any{"data": maps.Clone(n.Data)})
	g.mu.Unlock()

	g.bus.Publish(ev)
	return nil
}

// SelectNode marks id as the selected node. An empty id clears the selection.
func (g *Graph) SelectNode(id string) error {
	g.mu.Lock()
	if id != "" {
		if _, ok := g.nodes[id]; !ok {
			g.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
	}
	prev := g.selected
	g.selected = id
	ev := g.event(flow.EventNodeSelected, id, map[string]any{"node_id": id, "previous": prev})
	g.mu.Unlock()

	g.bus.Publish(ev)
	return nil
}

// Selected returns the selected node ID, or "".
func (g *Graph) Selected() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.selected
}

// Node returns a copy of the node with the given ID.
func (g *Graph) Node(id string) (*flow.Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []*flow.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*flow.Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id].Clone())
	}
	return out
}

// DuplicateNodes copies the given nodes with fresh IDs, shifted by offset,
// and re-creates the connections running between them. It returns the
// old-to-new ID mapping.
func (g *Graph) DuplicateNodes(ids []string, offset flow.Position) (map[string]string, error) {
	g.mu.Lock()
	for _, id := range ids {
		if _, ok := g.nodes[id]; !ok {
			g.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
	}
	mapping := make(map[string]string, len(ids))
	var events []flow.Event
	for _, id := range ids {
		if _, done := mapping[id]; done {
			continue
		}
		cp := g.nodes[id].Clone()
		cp.ID = flow.GenerateID("node")
		cp.Position.X += offset.X
		cp.Position.Y += offset.Y
		cp.Status = flow.NodeStatusIdle
		cp.Outputs = nil
		g.nodes[cp.ID] = cp
		g.nodeOrder = append(g.nodeOrder, cp.ID)
		mapping[id] = cp.ID
		events = append(events, g.event(flow.EventNodeAdded, cp.ID, map[string]any{"node": cp.Clone()}))
	}
	_, connEvents := g.duplicateConnectionsLocked(mapping)
	events = append(events, connEvents...)
	g.mu.Unlock()

	g.publish(events)
	return mapping, nil
}

// --- connections ---

// CreateConnection links fromNode.fromPort to toNode.toPort.
//
// A connection already terminating at the target input is deleted first.
// Rejections return a *ConnectionError and leave the graph unchanged; a
// duplicate request is rejected with ErrDuplicateConnection, which callers
// normally ignore.
func (g *Graph) CreateConnection(fromNode, fromPort, toNode, toPort string) (*flow.Connection, error) {
	g.mu.Lock()
	conn, events, err := g.createConnectionLocked(fromNode, fromPort, toNode, toPort)
	g.mu.Unlock()
	if err != nil {
		metrics.ConnectionsTotal.WithLabelValues(rejectionLabel(err)).Inc()
		return nil, err
	}
	metrics.ConnectionsTotal.WithLabelValues("created").Inc()
	g.publish(events)
	cp := *conn
	return &cp, nil
}

func (g *Graph) createConnectionLocked(fromNode, fromPort, toNode, toPort string) (*flow.Connection, []flow.Event, error) {
	from, ok := g.nodes[fromNode]
	if !ok {
		return nil, nil, rejectf(ErrNodeNotFound, "source node %q does not exist", fromNode)
	}
	to, ok := g.nodes[toNode]
	if !ok {
		return nil, nil, rejectf(ErrNodeNotFound, "target node %q does not exist", toNode)
	}
	if fromNode == toNode {
		return nil, nil, rejectf(ErrSelfConnection, "cannot connect node %q to itself", fromNode)
	}
	candidate := &flow.Connection{
		From: flow.Endpoint{NodeID: fromNode, PortID: fromPort},
		To:   flow.Endpoint{NodeID: toNode, PortID: toPort},
	}
	for _, id := range g.connOrder {
		if g.conns[id].SameRoute(candidate) {
			return nil, nil, rejectf(ErrDuplicateConnection, "connection %s already links these ports", id)
		}
	}

	fromDef, ok := g.catalog.Definition(from.Type)
	if !ok {
		return nil, nil, rejectf(ErrUnknownNodeType, "node %q has unknown type %q", fromNode, from.Type)
	}
	toDef, ok := g.catalog.Definition(to.Type)
	if !ok {
		return nil, nil, rejectf(ErrUnknownNodeType, "node %q has unknown type %q", toNode, to.Type)
	}
	out, ok := fromDef.Output(fromPort)
	if !ok {
		return nil, nil, rejectf(ErrPortNotFound, "%s has no output port %q", fromDef.Name, fromPort)
	}
	in, ok := toDef.Input(toPort)
	if !ok {
		return nil, nil, rejectf(ErrPortNotFound, "%s has no input port %q", toDef.Name, toPort)
	}
	if !flow.Compatible(out.Type, in.Type) {
		return nil, nil, rejectf(ErrTypeMismatch,
			"cannot connect %s output %q to %s input %q: %s is not compatible with %s",
			out.Type, fromPort, in.Type, toPort, out.Type, in.Type)
	}

	candidate.ID = flow.GenerateID("conn")
	candidate.From.Type = out.Type
	candidate.To.Type = in.Type
	events := g.addConnectionLocked(candidate)
	return candidate, events, nil
}

// addConnectionLocked stores c, first evicting any connection already
// feeding the same input.
func (g *Graph) addConnectionLocked(c *flow.Connection) []flow.Event {
	var events []flow.Event
	if existing := g.findConnectionToInputLocked(c.To.NodeID, c.To.PortID); existing != nil {
		if ev, ok := g.deleteConnectionLocked(existing.ID); ok {
			events = append(events, ev)
		}
	}
	g.conns[c.ID] = c
	g.connOrder = append(g.connOrder, c.ID)
	cp := *c
	events = append(events, g.event(flow.EventConnectionCreated, "", map[string]any{"connection": cp}))
	return events
}

// DeleteConnection removes a connection. It returns false if id is unknown.
func (g *Graph) DeleteConnection(id string) bool {
	g.mu.Lock()
	ev, ok := g.deleteConnectionLocked(id)
	g.mu.Unlock()
	if ok {
		g.bus.Publish(ev)
	}
	return ok
}

func (g *Graph) deleteConnectionLocked(id string) (flow.Event, bool) {
	c, ok := g.conns[id]
	if !ok {
		return flow.Event{}, false
	}
	delete(g.conns, id)
	g.connOrder = removeID(g.connOrder, id)
	return g.event(flow.EventConnectionDeleted, "", map[string]any{"connection": *c}), true
}

// RemoveConnectionsForNode deletes every connection with an endpoint on
// nodeID and returns how many were removed.
func (g *Graph) RemoveConnectionsForNode(nodeID string) int {
	g.mu.Lock()
	events := g.removeConnectionsForNodeLocked(nodeID)
	g.mu.Unlock()
	g.publish(events)
	return len(events)
}

func (g *Graph) removeConnectionsForNodeLocked(nodeID string) []flow.Event {
	var doomed []string
	for _, id := range g.connOrder {
		if g.conns[id].Touches(nodeID) {
			doomed = append(doomed, id)
		}
	}
	events := make([]flow.Event, 0, len(doomed))
	for _, id := range doomed {
		if ev, ok := g.deleteConnectionLocked(id); ok {
			events = append(events, ev)
		}
	}
	return events
}

// FindConnectionToInput returns the connection feeding nodeID.portID, if any.
func (g *Graph) FindConnectionToInput(nodeID, portID string) (*flow.Connection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c := g.findConnectionToInputLocked(nodeID, portID)
	if c == nil {
		return nil, false
	}
	cp := *c
	return &cp, true
}

func (g *Graph) findConnectionToInputLocked(nodeID, portID string) *flow.Connection {
	for _, id := range g.connOrder {
		c := g.conns[id]
		if c.To.NodeID == nodeID && c.To.PortID == portID {
			return c
		}
	}
	return nil
}

// DuplicateConnectionsForNodes copies every connection whose endpoints are
// both keys of idMapping onto the mapped node IDs. Connections with only
// one duplicated endpoint are skipped.
func (g *Graph) DuplicateConnectionsForNodes(idMapping map[string]string) []*flow.Connection {
	g.mu.Lock()
	created, events := g.duplicateConnectionsLocked(idMapping)
	g.mu.Unlock()
	g.publish(events)
	return created
}

func (g *Graph) duplicateConnectionsLocked(idMapping map[string]string) ([]*flow.Connection, []flow.Event) {
	var sources []*flow.Connection
	for _, id := range g.connOrder {
		c := g.conns[id]
		_, fromOK := idMapping[c.From.NodeID]
		_, toOK := idMapping[c.To.NodeID]
		if fromOK && toOK {
			sources = append(sources, c)
		}
	}
	var created []*flow.Connection
	var events []flow.Event
	for _, src := range sources {
		newFrom, newTo := idMapping[src.From.NodeID], idMapping[src.To.NodeID]
		if _, ok := g.nodes[newFrom]; !ok {
			continue
		}
		if _, ok := g.nodes[newTo]; !ok {
			continue
		}
		dup := &flow.Connection{
			ID:   flow.GenerateID("conn"),
			From: flow.Endpoint{NodeID: newFrom, PortID: src.From.PortID, Type: src.From.Type},
			To:   flow.Endpoint{NodeID: newTo, PortID: src.To.PortID, Type: src.To.Type},
		}
		events = append(events, g.addConnectionLocked(dup)...)
		cp := *dup
		created = append(created, &cp)
	}
	return created, events
}

// Connections returns copies of all connections in insertion order.
func (g *Graph) Connections() []flow.Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]flow.Connection, 0, len(g.connOrder))
	for _, id := range g.connOrder {
		out = append(out, *g.conns[id])
	}
	return out
}

// --- execution status (written by the execution coordinator only) ---

// SetNodeStatus records a node's execution status. Unknown nodes are ignored.
func (g *Graph) SetNodeStatus(id string, status flow.NodeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		n.Status = status
	}
}

// SetNodeOutputs merges outputs into a node's output map.
func (g *Graph) SetNodeOutputs(id string, outputs map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	if n.Outputs == nil {
		n.Outputs = make(map[string]any, len(outputs))
	}
	maps.Copy(n.Outputs, outputs)
}

// ResetStatuses sets every node to status and clears outputs.
func (g *Graph) ResetStatuses(status flow.NodeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		n.Status = status
		n.Outputs = nil
	}
}

// --- snapshots ---

// Snapshot is an immutable copy of the graph used for analysis and
// submission. Later edits to the graph do not affect it.
type Snapshot struct {
	Meta        flow.WorkflowMeta
	Canvas      flow.Canvas
	Nodes       []*flow.Node
	Connections []flow.Connection
}

// Snapshot copies the current metadata, nodes and connections under one lock.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	snap := &Snapshot{
		Meta:        g.meta,
		Canvas:      g.canvas,
		Nodes:       make([]*flow.Node, 0, len(g.nodeOrder)),
		Connections: make([]flow.Connection, 0, len(g.connOrder)),
	}
	for _, id := range g.nodeOrder {
		snap.Nodes = append(snap.Nodes, g.nodes[id].Clone())
	}
	for _, id := range g.connOrder {
		snap.Connections = append(snap.Connections, *g.conns[id])
	}
	return snap
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateConnection):
		return "duplicate"
	case errors.Is(err, ErrSelfConnection):
		return "self"
	case errors.Is(err, ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, ErrPortNotFound):
		return "port_not_found"
	default:
		return "rejected"
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
