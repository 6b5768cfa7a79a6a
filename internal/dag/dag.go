// Package dag analyzes a graph snapshot: it partitions nodes into
// independently runnable flows, derives the execution order and validates
// required inputs. An Analyzer is built per query from an immutable
// snapshot, so its views are never stale.
package dag

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/soochol/nodeflow/internal/catalog"
	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/graph"
	"github.com/soochol/nodeflow/internal/metrics"
)

// ErrCycle is returned by Plan.Err when nodes were left out of the
// execution order because they sit on a cycle.
var ErrCycle = errors.New("cycle in workflow graph")

// Analyzer answers structural questions about one snapshot.
type Analyzer struct {
	catalog  catalog.Catalog
	nodes    map[string]*flow.Node
	order    []string
	index    map[string]int
	children map[string][]string // one entry per edge, connection order
	parents  map[string][]string
	inputs   map[[2]string]bool // {nodeID, portID} with an inbound connection
}

// New builds an analyzer over snap. Connections referencing nodes that are
// not in the snapshot are ignored.
func New(snap *graph.Snapshot, c catalog.Catalog) *Analyzer {
	a := &Analyzer{
		catalog:  c,
		nodes:    make(map[string]*flow.Node, len(snap.Nodes)),
		index:    make(map[string]int, len(snap.Nodes)),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
		inputs:   make(map[[2]string]bool),
	}
	for _, n := range snap.Nodes {
		if _, dup := a.nodes[n.ID]; dup {
			continue
		}
		a.nodes[n.ID] = n
		a.index[n.ID] = len(a.order)
		a.order = append(a.order, n.ID)
	}
	for _, c := range snap.Connections {
		_, fromOK := a.nodes[c.From.NodeID]
		_, toOK := a.nodes[c.To.NodeID]
		if !fromOK || !toOK {
			continue
		}
		a.children[c.From.NodeID] = append(a.children[c.From.NodeID], c.To.NodeID)
		a.parents[c.To.NodeID] = append(a.parents[c.To.NodeID], c.From.NodeID)
		a.inputs[[2]string{c.To.NodeID, c.To.PortID}] = true
	}
	return a
}

// Node returns the snapshot node with id, or nil.
func (a *Analyzer) Node(id string) *flow.Node { return a.nodes[id] }

func (a *Analyzer) isTrigger(n *flow.Node) bool  { return catalog.IsTrigger(a.catalog, n.Type) }
func (a *Analyzer) byNodeOrder(ids []string)     { slices.SortFunc(ids, a.compareOrder) }
func (a *Analyzer) compareOrder(x, y string) int { return a.index[x] - a.index[y] }

// Triggers returns the trigger nodes in node order.
func (a *Analyzer) Triggers() []string {
	var out []string
	for _, id := range a.order {
		if a.isTrigger(a.nodes[id]) {
			out = append(out, id)
		}
	}
	return out
}

func observe(operation string, start time.Time) {
	metrics.AnalysisDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// --- islands ---

// Island is one connected component of the graph: a flow that can run
// independently of the others.
type Island struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Priority     int      `json:"priority"`
	NodeIDs      []string `json:"nodeIds"`
	EntryNodeIDs []string `json:"entryNodeIds"`
}

// Islands returns the connected components, treating connections as
// undirected, sorted ascending by priority. Equal priorities keep discovery
// order. Every node belongs to exactly one island.
func (a *Analyzer) Islands() []Island {
	defer observe("islands", time.Now())

	visited := make(map[string]bool, len(a.order))
	var islands []Island
	for _, seed := range a.order {
		if visited[seed] {
			continue
		}
		visited[seed] = true
		members := []string{seed}
		queue := []string{seed}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			neighbors := append(slices.Clone(a.children[cur]), a.parents[cur]...)
			for _, nb := range neighbors {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				members = append(members, nb)
				queue = append(queue, nb)
			}
		}
		a.byNodeOrder(members)
		islands = append(islands, a.island(members))
	}

	slices.SortStableFunc(islands, func(x, y Island) int { return x.Priority - y.Priority })
	for i := range islands {
		n := i + 1
		islands[i].ID = fmt.Sprintf("flow-%d", n)
		if islands[i].Name == "" {
			islands[i].Name = fmt.Sprintf("Flow %d", n)
		}
	}
	return islands
}

func (a *Analyzer) island(members []string) Island {
	var entries []string
	for _, id := range members {
		if a.isTrigger(a.nodes[id]) {
			entries = append(entries, id)
		}
	}
	if len(entries) == 0 {
		for _, id := range members {
			if len(a.parents[id]) == 0 {
				entries = append(entries, id)
			}
		}
	}

	isl := Island{NodeIDs: members, EntryNodeIDs: entries, Priority: flow.DefaultPriority}
	for i, id := range entries {
		p := a.nodes[id].Priority()
		if i == 0 || p < isl.Priority {
			isl.Priority = p
		}
	}
	if len(entries) > 0 {
		if n := a.nodes[entries[0]]; n.Label() != n.ID {
			isl.Name = n.Label()
		}
	}
	return isl
}

// Membership maps every node of islands to its flow.
func Membership(islands []Island) map[string]flow.FlowMembership {
	out := make(map[string]flow.FlowMembership)
	for i, isl := range islands {
		for _, id := range isl.NodeIDs {
			out[id] = flow.FlowMembership{FlowID: isl.ID, FlowName: isl.Name, FlowIndex: i}
		}
	}
	return out
}

// --- execution order ---

// Regime names the ordering strategy a plan was built with.
type Regime string

const (
	RegimeTrigger  Regime = "trigger"
	RegimeFallback Regime = "fallback"
)

// Plan is the full result of ordering a graph for execution.
type Plan struct {
	Regime       Regime   `json:"regime"`
	Order        []string `json:"order"`
	Triggers     []string `json:"triggers"`
	ExecutionSet []string `json:"executionSet"`
	Auxiliary    []string `json:"auxiliary"`
	Unreachable  []string `json:"unreachable"`
	Blocked      []string `json:"blocked"`
	Diagnostics  []string `json:"diagnostics"`
}

// Err returns ErrCycle naming the blocked nodes, or nil.
func (p *Plan) Err() error {
	if len(p.Blocked) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCycle, strings.Join(p.Blocked, ", "))
}

// ExecutionOrder returns the nodes in the order they should run. Nodes on
// a cycle are omitted; use Plan to find out which.
func (a *Analyzer) ExecutionOrder() []*flow.Node {
	p := a.Plan()
	out := make([]*flow.Node, 0, len(p.Order))
	for _, id := range p.Order {
		out = append(out, a.nodes[id])
	}
	return out
}

// Plan computes the execution order.
//
// When the graph has trigger nodes, only nodes reachable from a trigger are
// scheduled, plus auxiliary nodes: nodes outside that set feeding into it,
// placed just before their first consumer. Without triggers every node is
// scheduled in plain dependency order.
func (a *Analyzer) Plan() *Plan {
	defer observe("plan", time.Now())

	triggers := a.Triggers()
	if len(triggers) == 0 {
		return a.fallbackPlan()
	}

	p := &Plan{Regime: RegimeTrigger, Triggers: triggers}

	inSet := make(map[string]bool)
	queue := slices.Clone(triggers)
	for _, id := range triggers {
		inSet[id] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range a.children[cur] {
			if !inSet[child] {
				inSet[child] = true
				queue = append(queue, child)
			}
		}
	}

	pendingAux := make(map[string]bool)
	for _, id := range a.order {
		switch {
		case inSet[id]:
			p.ExecutionSet = append(p.ExecutionSet, id)
		case slices.ContainsFunc(a.children[id], func(c string) bool { return inSet[c] }):
			p.Auxiliary = append(p.Auxiliary, id)
			pendingAux[id] = true
		default:
			p.Unreachable = append(p.Unreachable, id)
		}
	}

	indegree := make(map[string]int, len(p.ExecutionSet))
	for _, id := range p.ExecutionSet {
		for _, parent := range a.parents[id] {
			if inSet[parent] {
				indegree[id]++
			}
		}
	}

	var first, rest []string
	for _, id := range p.ExecutionSet {
		if indegree[id] != 0 {
			continue
		}
		if a.isTrigger(a.nodes[id]) {
			first = append(first, id)
		} else {
			rest = append(rest, id)
		}
	}
	queue = append(first, rest...)

	placed := make(map[string]bool, len(p.ExecutionSet)+len(p.Auxiliary))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, aux := range p.Auxiliary {
			if pendingAux[aux] && slices.Contains(a.children[aux], cur) {
				delete(pendingAux, aux)
				p.Order = append(p.Order, aux)
				placed[aux] = true
			}
		}
		p.Order = append(p.Order, cur)
		placed[cur] = true
		for _, child := range a.children[cur] {
			if !inSet[child] {
				continue
			}
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	for _, id := range p.ExecutionSet {
		if !placed[id] {
			p.Blocked = append(p.Blocked, id)
		}
	}
	for _, id := range p.Auxiliary {
		if !placed[id] {
			p.Diagnostics = append(p.Diagnostics,
				fmt.Sprintf("auxiliary node %s only feeds nodes that cannot run", id))
		}
	}
	if len(p.Blocked) > 0 {
		p.Diagnostics = append(p.Diagnostics,
			fmt.Sprintf("nodes on a cycle were left out: %s", strings.Join(p.Blocked, ", ")))
	}
	return p
}

func (a *Analyzer) fallbackPlan() *Plan {
	p := &Plan{
		Regime:       RegimeFallback,
		ExecutionSet: slices.Clone(a.order),
		Diagnostics:  []string{"no trigger nodes found; ordering all nodes by dependency"},
	}
	if len(a.order) > 0 {
		slog.Warn("dag: no trigger nodes, using fallback ordering", "nodes", len(a.order))
	}

	indegree := make(map[string]int, len(a.order))
	for _, id := range a.order {
		indegree[id] = len(a.parents[id])
	}
	var queue []string
	for _, id := range a.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	placed := make(map[string]bool, len(a.order))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		p.Order = append(p.Order, cur)
		placed[cur] = true
		for _, child := range a.children[cur] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	for _, id := range a.order {
		if !placed[id] {
			p.Blocked = append(p.Blocked, id)
		}
	}
	if len(p.Blocked) > 0 {
		p.Diagnostics = append(p.Diagnostics,
			fmt.Sprintf("nodes on a cycle were left out: %s", strings.Join(p.Blocked, ", ")))
	}
	return p
}

// --- validation ---

// ValidationError describes one problem found by Validate.
type ValidationError struct {
	NodeID  string `json:"nodeId"`
	PortID  string `json:"portId,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string { return e.Message }

// Result is the outcome of Validate.
type Result struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors"`
}

// Err joins the validation errors, or returns nil for a valid result.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Validate reports every required input that has no inbound connection.
// Nodes whose type is missing from the catalog produce one error each.
func (a *Analyzer) Validate() Result {
	defer observe("validate", time.Now())

	res := Result{Errors: []ValidationError{}}
	for _, id := range a.order {
		n := a.nodes[id]
		var def *flow.NodeTypeDefinition
		if a.catalog != nil {
			def, _ = a.catalog.Definition(n.Type)
		}
		if def == nil {
			res.Errors = append(res.Errors, ValidationError{
				NodeID:  id,
				Message: fmt.Sprintf("node %s has unknown type %q", id, n.Type),
			})
			continue
		}
		for _, in := range def.Inputs {
			if in.Optional || a.inputs[[2]string{id, in.ID}] {
				continue
			}
			res.Errors = append(res.Errors, ValidationError{
				NodeID:  id,
				PortID:  in.ID,
				Message: fmt.Sprintf("%s (%s) is missing required input %q", def.Name, id, in.ID),
			})
		}
	}
	res.Valid = len(res.Errors) == 0
	return res
}
