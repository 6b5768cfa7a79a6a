package graph

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/soochol/nodeflow/internal/catalog"
	"github.com/soochol/nodeflow/internal/flow"
)

// Serialize returns the portable document form of the graph.
func (g *Graph) Serialize() *flow.Document {
	return g.Snapshot().Document()
}

// Document returns the portable document form of the snapshot.
func (s *Snapshot) Document() *flow.Document {
	doc := &flow.Document{
		Version:     flow.DocumentVersion,
		Workflow:    s.Meta,
		Nodes:       make([]flow.NodeDocument, 0, len(s.Nodes)),
		Connections: slices.Clone(s.Connections),
		Canvas:      s.Canvas,
	}
	for _, n := range s.Nodes {
		doc.Nodes = append(doc.Nodes, flow.NodeDocument{
			ID:       n.ID,
			Type:     n.Type,
			Position: n.Position,
			Data:     maps.Clone(n.Data),
		})
	}
	return doc
}

// Load replaces the graph's contents with doc. Node IDs must be unique.
// Connections whose endpoints are missing or that loop onto their own node
// are dropped with a warning; when two connections feed the same input the
// later one wins, as it would have in the editor. Nodes of types missing
// from the catalog are kept so that the document survives a round trip;
// validation reports them.
func (g *Graph) Load(doc *flow.Document) error {
	nodes := make(map[string]*flow.Node, len(doc.Nodes))
	order := make([]string, 0, len(doc.Nodes))
	for _, nd := range doc.Nodes {
		if nd.ID == "" {
			return fmt.Errorf("document node without id")
		}
		if _, dup := nodes[nd.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, nd.ID)
		}
		if _, ok := g.catalog.Definition(nd.Type); !ok {
			slog.Warn("graph: loading node of unknown type", "node", nd.ID, "type", nd.Type)
		}
		data := maps.Clone(nd.Data)
		if data == nil {
			data = map[string]any{}
		}
		nodes[nd.ID] = &flow.Node{
			ID:       nd.ID,
			Type:     nd.Type,
			Position: nd.Position,
			Data:     data,
			Status:   flow.NodeStatusIdle,
		}
		order = append(order, nd.ID)
	}

	g.mu.Lock()
	meta := doc.Workflow
	if meta.ID == "" {
		meta.ID = g.meta.ID
	}
	g.meta = meta
	g.canvas = doc.Canvas
	g.nodes = nodes
	g.nodeOrder = order
	g.conns = make(map[string]*flow.Connection, len(doc.Connections))
	g.connOrder = nil
	g.selected = ""
	for i := range doc.Connections {
		c := doc.Connections[i]
		_, fromOK := nodes[c.From.NodeID]
		_, toOK := nodes[c.To.NodeID]
		switch {
		case !fromOK || !toOK:
			slog.Warn("graph: dropping dangling connection", "connection", c.ID,
				"from", c.From.NodeID, "to", c.To.NodeID)
			continue
		case c.From.NodeID == c.To.NodeID:
			slog.Warn("graph: dropping self connection", "connection", c.ID, "node", c.From.NodeID)
			continue
		}
		if _, dup := g.conns[c.ID]; c.ID == "" || dup {
			c.ID = flow.GenerateID("conn")
		}
		g.addConnectionLocked(&c)
	}
	ev := g.event(flow.EventGraphLoaded, "", map[string]any{
		"nodes":       len(g.nodeOrder),
		"connections": len(g.connOrder),
	})
	g.mu.Unlock()

	g.bus.Publish(ev)
	return nil
}

// FromDocument builds a graph from a document.
func FromDocument(doc *flow.Document, c catalog.Catalog, bus *flow.EventBus) (*Graph, error) {
	g := New(doc.Workflow, c, bus)
	if err := g.Load(doc); err != nil {
		return nil, err
	}
	return g, nil
}
