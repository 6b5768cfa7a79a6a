package flow

import (
	"encoding/json"
	"maps"
	"strconv"
)

// PortType is the data type carried by a node port.
type PortType string

const (
	PortImage PortType = "image"
	PortVideo PortType = "video"
	PortAudio PortType = "audio"
	PortText  PortType = "text"
	PortFlow  PortType = "flow"
	PortAny   PortType = "any"
)

// PortTypes lists every known port type.
var PortTypes = []PortType{PortImage, PortVideo, PortAudio, PortText, PortFlow, PortAny}

// Valid reports whether t is a known port type.
func (t PortType) Valid() bool {
	for _, p := range PortTypes {
		if p == t {
			return true
		}
	}
	return false
}

// Compatible reports whether an output of type from may feed an input of
// type to. "any" matches everything; otherwise types must be identical.
func Compatible(from, to PortType) bool {
	return from == PortAny || to == PortAny || from == to
}

// NodeStatus is the execution status of a node.
type NodeStatus string

const (
	NodeStatusIdle       NodeStatus = "idle"
	NodeStatusPending    NodeStatus = "pending"
	NodeStatusQueued     NodeStatus = "queued"
	NodeStatusProcessing NodeStatus = "processing"
	NodeStatusRunning    NodeStatus = "running"
	NodeStatusCompleted  NodeStatus = "completed"
	NodeStatusError      NodeStatus = "error"
	NodeStatusFailed     NodeStatus = "failed"
	NodeStatusSkipped    NodeStatus = "skipped"
)

// Finished reports whether the status is terminal for a single node.
func (s NodeStatus) Finished() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusError, NodeStatusFailed, NodeStatusSkipped:
		return true
	}
	return false
}

// DefaultPriority is used for islands whose entry nodes carry no priority.
const DefaultPriority = 100

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a placed instance of a node type.
type Node struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Position Position       `json:"position" yaml:"position"`
	Data     map[string]any `json:"data" yaml:"data"`
	Outputs  map[string]any `json:"outputs,omitempty" yaml:"-"`
	Status   NodeStatus     `json:"status" yaml:"-"`
}

// Clone returns a copy of n with its own maps.
func (n *Node) Clone() *Node {
	cp := *n
	cp.Data = maps.Clone(n.Data)
	cp.Outputs = maps.Clone(n.Outputs)
	if cp.Data == nil {
		cp.Data = map[string]any{}
	}
	return &cp
}

// Priority returns the node's "priority" data field, or DefaultPriority.
// Numbers decoded from JSON, YAML ints and numeric strings are accepted.
func (n *Node) Priority() int {
	v, ok := n.Data["priority"]
	if !ok {
		return DefaultPriority
	}
	switch p := v.(type) {
	case int:
		return p
	case int64:
		return int(p)
	case float64:
		return int(p)
	case json.Number:
		if i, err := p.Int64(); err == nil {
			return int(i)
		}
		if f, err := p.Float64(); err == nil {
			return int(f)
		}
	case string:
		if i, err := strconv.Atoi(p); err == nil {
			return i
		}
	}
	return DefaultPriority
}

// Label returns the user-facing label of the node, falling back to its ID.
func (n *Node) Label() string {
	for _, key := range []string{"label", "name", "title"} {
		if s, ok := n.Data[key].(string); ok && s != "" {
			return s
		}
	}
	return n.ID
}

// Endpoint identifies one side of a connection.
type Endpoint struct {
	NodeID string   `json:"nodeId" yaml:"nodeId"`
	PortID string   `json:"portId" yaml:"portId"`
	Type   PortType `json:"type" yaml:"type"`
}

// Connection is a directed edge from an output port to an input port.
type Connection struct {
	ID   string   `json:"id" yaml:"id"`
	From Endpoint `json:"from" yaml:"from"`
	To   Endpoint `json:"to" yaml:"to"`
}

// SameRoute reports whether c links the same ports as other.
func (c *Connection) SameRoute(other *Connection) bool {
	return c.From.NodeID == other.From.NodeID && c.From.PortID == other.From.PortID &&
		c.To.NodeID == other.To.NodeID && c.To.PortID == other.To.PortID
}

// Touches reports whether either endpoint of c is nodeID.
func (c *Connection) Touches(nodeID string) bool {
	return c.From.NodeID == nodeID || c.To.NodeID == nodeID
}

// PortDefinition declares a port on a node type.
type PortDefinition struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Type     PortType `json:"type" yaml:"type"`
	Optional bool     `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// NodeTypeDefinition is a read-only catalog entry describing a node type.
type NodeTypeDefinition struct {
	Type      string           `json:"type" yaml:"type"`
	Name      string           `json:"name" yaml:"name"`
	Category  string           `json:"category" yaml:"category"`
	IsTrigger bool             `json:"isTrigger" yaml:"is_trigger"`
	Inputs    []PortDefinition `json:"inputs" yaml:"inputs"`
	Outputs   []PortDefinition `json:"outputs" yaml:"outputs"`
}

// Input returns the input port with the given id.
func (d *NodeTypeDefinition) Input(id string) (PortDefinition, bool) {
	for _, p := range d.Inputs {
		if p.ID == id {
			return p, true
		}
	}
	return PortDefinition{}, false
}

// Output returns the output port with the given id.
func (d *NodeTypeDefinition) Output(id string) (PortDefinition, bool) {
	for _, p := range d.Outputs {
		if p.ID == id {
			return p, true
		}
	}
	return PortDefinition{}, false
}

// Reserved node types that always act as triggers, whatever the catalog says.
const (
	NodeTypeTrigger = "trigger"
	NodeTypeStart   = "start"
)

// IsReservedTrigger reports whether nodeType is one of the built-in triggers.
func IsReservedTrigger(nodeType string) bool {
	return nodeType == NodeTypeTrigger || nodeType == NodeTypeStart
}
