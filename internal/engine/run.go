package engine

import (
	"maps"
	"sync"
	"time"

	"github.com/soochol/nodeflow/internal/flow"
)

// Run is the state of one execution. It is returned by Coordinator.Execute
// and passed back to Poll and Cancel. All accessors are safe for
// concurrent use.
type Run struct {
	workflowID string
	order      []string
	membership map[string]flow.FlowMembership
	writer     StatusWriter
	startedAt  time.Time
	done       chan struct{}

	mu           sync.RWMutex
	id           string
	phase        flow.ExecutionPhase
	progress     int
	nodeStatuses map[string]flow.NodeStatus
	flowStatuses map[string]flow.FlowState
	resultURL    string
	outputs      map[string]any
	err          error
	attempts     int
	finishedAt   time.Time
	stop         func()
}

func newRun(workflowID string, order []string, membership map[string]flow.FlowMembership) *Run {
	r := &Run{
		workflowID:   workflowID,
		order:        order,
		membership:   membership,
		startedAt:    time.Now(),
		done:         make(chan struct{}),
		phase:        flow.PhaseRunning,
		nodeStatuses: make(map[string]flow.NodeStatus, len(order)),
		flowStatuses: make(map[string]flow.FlowState),
	}
	for _, id := range order {
		r.nodeStatuses[id] = flow.NodeStatusPending
	}
	return r
}

// ID returns the backend execution id, or "" before submission succeeded.
func (r *Run) ID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}

func (r *Run) WorkflowID() string { return r.workflowID }

func (r *Run) Phase() flow.ExecutionPhase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

func (r *Run) Progress() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress
}

// Err returns why the run failed, or nil.
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Done is closed when the run reaches a terminal phase.
func (r *Run) Done() <-chan struct{} { return r.done }

// Membership returns the node-to-flow mapping computed at submission.
func (r *Run) Membership() map[string]flow.FlowMembership { return maps.Clone(r.membership) }

// State is a point-in-time view of a run, shaped for the API.
type State struct {
	ExecutionID  string                         `json:"executionId"`
	WorkflowID   string                         `json:"workflowId"`
	Status       flow.ExecutionPhase            `json:"status"`
	Progress     int                            `json:"progress"`
	Order        []string                       `json:"order"`
	NodeStatuses map[string]flow.NodeStatus     `json:"nodeStatuses"`
	FlowStatuses map[string]flow.FlowState      `json:"flowStatuses"`
	Membership   map[string]flow.FlowMembership `json:"flowMembership"`
	ResultURL    string                         `json:"resultUrl,omitempty"`
	Outputs      map[string]any                 `json:"outputs,omitempty"`
	Error        string                         `json:"error,omitempty"`
	Attempts     int                            `json:"attempts"`
	StartedAt    time.Time                      `json:"startedAt"`
	FinishedAt   *time.Time                     `json:"finishedAt,omitempty"`
}

// State copies the run's current state.
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := State{
		ExecutionID:  r.id,
		WorkflowID:   r.workflowID,
		Status:       r.phase,
		Progress:     r.progress,
		Order:        append([]string(nil), r.order...),
		NodeStatuses: maps.Clone(r.nodeStatuses),
		FlowStatuses: maps.Clone(r.flowStatuses),
		Membership:   maps.Clone(r.membership),
		ResultURL:    r.resultURL,
		Outputs:      maps.Clone(r.outputs),
		Attempts:     r.attempts,
		StartedAt:    r.startedAt,
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		s.FinishedAt = &t
	}
	return s
}

// Record converts the run into a history entry.
func (r *Run) Record(triggerType, triggerRef string) *flow.ExecutionRecord {
	s := r.State()
	rec := &flow.ExecutionRecord{
		ID:           s.ExecutionID,
		WorkflowID:   s.WorkflowID,
		TriggerType:  triggerType,
		TriggerRef:   triggerRef,
		Status:       s.Status,
		Progress:     s.Progress,
		NodeStatuses: s.NodeStatuses,
		FlowStatuses: s.FlowStatuses,
		ResultURL:    s.ResultURL,
		CreatedAt:    s.StartedAt,
		CompletedAt:  s.FinishedAt,
	}
	if s.Error != "" {
		msg := s.Error
		rec.Error = &msg
	}
	return rec
}

// terminate moves the run into a terminal phase. It reports false if the
// run had already finished.
func (r *Run) terminate(phase flow.ExecutionPhase, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase.Terminal() {
		return false
	}
	r.phase = phase
	r.err = err
	r.finishedAt = time.Now()
	if r.stop != nil {
		r.stop()
	}
	close(r.done)
	return true
}
