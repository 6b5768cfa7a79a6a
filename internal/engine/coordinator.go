// Package engine coordinates workflow executions against the external
// execution backend. It does no node computation itself: it submits a
// snapshot, polls for status and mirrors what the backend reports onto the
// graph and the event bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/soochol/nodeflow/internal/backend"
	"github.com/soochol/nodeflow/internal/dag"
	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/metrics"
)

var (
	ErrAlreadyRunning      = errors.New("an execution is already running")
	ErrNotRunning          = errors.New("execution is not running")
	ErrPollBudgetExhausted = errors.New("execution status poll budget exhausted")
	ErrSubmitFailed        = errors.New("execution submission failed")
)

// StatusWriter receives per-node execution status. *graph.Graph implements it.
type StatusWriter interface {
	ResetStatuses(status flow.NodeStatus)
	SetNodeStatus(id string, status flow.NodeStatus)
	SetNodeOutputs(id string, outputs map[string]any)
}

// Options tune polling.
type Options struct {
	PollInterval time.Duration // default 2s
	MaxInterval  time.Duration // default 30s
	MaxAttempts  int           // default 600
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxInterval < o.PollInterval {
		o.MaxInterval = max(30*time.Second, o.PollInterval)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 600
	}
	return o
}

// Submission is what Execute sends to the backend. Writer receives the
// run's node statuses; nil falls back to the coordinator's writer.
type Submission struct {
	WorkflowID string
	Document   *flow.Document
	Order      []*flow.Node
	Islands    []dag.Island
	Writer     StatusWriter
}

// Coordinator runs at most one execution at a time for one workflow.
type Coordinator struct {
	backend backend.Backend
	writer  StatusWriter
	bus     *flow.EventBus
	opts    Options

	mu       sync.Mutex
	current  *Run
	last     *Run
	onFinish []func(*Run)
}

// NewCoordinator creates a coordinator. writer is the default status
// writer for submissions that carry none. writer and bus may be nil.
func NewCoordinator(b backend.Backend, writer StatusWriter, bus *flow.EventBus, opts Options) *Coordinator {
	return &Coordinator{backend: b, writer: writer, bus: bus, opts: opts.withDefaults()}
}

// OnFinish registers fn to be called once for every run that reaches a
// terminal phase, including runs whose submission failed.
func (c *Coordinator) OnFinish(fn func(*Run)) {
	c.mu.Lock()
	c.onFinish = append(c.onFinish, fn)
	c.mu.Unlock()
}

// Running reports whether an execution is in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Current returns the running execution, else the most recent one, else nil.
func (c *Coordinator) Current() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return c.current
	}
	return c.last
}

// Execute marks the planned nodes pending, every other node idle, and
// submits sub to the backend. On success it returns the running Run; call
// Poll to follow it.
func (c *Coordinator) Execute(ctx context.Context, sub Submission) (*Run, error) {
	if sub.Document == nil {
		return nil, fmt.Errorf("submission has no document")
	}
	order := make([]string, len(sub.Order))
	for i, n := range sub.Order {
		order[i] = n.ID
	}
	run := newRun(sub.WorkflowID, order, dag.Membership(sub.Islands))
	run.writer = sub.Writer
	if run.writer == nil {
		run.writer = c.writer
	}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	c.current = run
	c.mu.Unlock()

	if w := run.writer; w != nil {
		w.ResetStatuses(flow.NodeStatusIdle)
		for _, id := range order {
			w.SetNodeStatus(id, flow.NodeStatusPending)
		}
	}

	resp, err := c.backend.Submit(ctx, backend.SubmitRequest{
		WorkflowID:   sub.WorkflowID,
		WorkflowData: sub.Document,
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSubmitFailed, err)
		slog.Error("engine: submission failed", "workflow_id", sub.WorkflowID, "err", err)
		if run.writer != nil {
			run.writer.ResetStatuses(flow.NodeStatusIdle)
		}
		c.finish(run, flow.PhaseFailed, err)
		return nil, err
	}

	run.mu.Lock()
	run.id = resp.ExecutionID
	run.mu.Unlock()
	metrics.ExecutionsActive.Inc()

	slog.Info("engine: execution started", "workflow_id", sub.WorkflowID,
		"execution_id", resp.ExecutionID, "nodes", len(order), "flows", len(sub.Islands))
	c.emit(run, flow.EventExecutionStarted, map[string]any{
		"order":           order,
		"flow_membership": run.Membership(),
	})
	return run, nil
}

// Poll follows run in the background until it finishes, is cancelled or
// ctx ends. It returns immediately.
func (c *Coordinator) Poll(ctx context.Context, run *Run) error {
	pollCtx, cancel := context.WithCancel(ctx)
	run.mu.Lock()
	if run.phase.Terminal() || run.id == "" {
		run.mu.Unlock()
		cancel()
		return ErrNotRunning
	}
	if run.stop != nil {
		run.mu.Unlock()
		cancel()
		return nil
	}
	run.stop = cancel
	run.mu.Unlock()

	go c.pollLoop(pollCtx, run)
	return nil
}

func (c *Coordinator) pollLoop(ctx context.Context, run *Run) {
	interval := c.opts.PollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		run.mu.Lock()
		run.attempts = attempt
		run.mu.Unlock()

		resp, err := c.backend.Status(ctx, run.ID())
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			metrics.PollsTotal.WithLabelValues("error").Inc()
			interval = nextInterval(interval, c.opts.MaxInterval)
			slog.Warn("engine: status poll failed", "execution_id", run.ID(),
				"attempt", attempt, "retry_in", interval, "err", err)
		default:
			metrics.PollsTotal.WithLabelValues("ok").Inc()
			interval = c.opts.PollInterval
			if c.apply(run, resp) {
				return
			}
		}

		if attempt >= c.opts.MaxAttempts {
			err := fmt.Errorf("%w after %d attempts", ErrPollBudgetExhausted, attempt)
			slog.Error("engine: giving up on execution", "execution_id", run.ID(), "err", err)
			c.finish(run, flow.PhaseFailed, err)
			return
		}
		timer.Reset(interval)
	}
}

// apply mirrors a status response onto the run and the graph. It reports
// whether the execution reached a terminal state.
func (c *Coordinator) apply(run *Run, resp *backend.StatusResponse) bool {
	run.mu.Lock()
	if run.phase.Terminal() {
		run.mu.Unlock()
		return true
	}
	for _, ns := range resp.NodeStatuses {
		run.nodeStatuses[ns.NodeID] = ns.Status
		if w := run.writer; w != nil {
			w.SetNodeStatus(ns.NodeID, ns.Status)
			if ns.ResultURL != "" {
				w.SetNodeOutputs(ns.NodeID, map[string]any{"resultUrl": ns.ResultURL})
			}
		}
	}
	for _, fs := range resp.FlowStatuses {
		run.flowStatuses[fs.FlowID] = flow.FlowState{
			Status:      fs.Status,
			FlowName:    fs.FlowName,
			Error:       fs.Error,
			EntryNodeID: fs.EntryNodeID,
		}
	}
	finished := 0
	for _, st := range run.nodeStatuses {
		if st.Finished() {
			finished++
		}
	}
	run.progress = progressPercent(finished, len(run.nodeStatuses))
	if resp.ResultURL != "" {
		run.resultURL = resp.ResultURL
	}
	if resp.Outputs != nil {
		run.outputs = resp.Outputs
	}
	progress := run.progress
	run.mu.Unlock()

	c.emit(run, flow.EventExecutionProgress, map[string]any{
		"status":        resp.Status,
		"progress":      progress,
		"node_statuses": resp.NodeStatuses,
		"flow_statuses": resp.FlowStatuses,
	})

	switch resp.Status {
	case backend.StatusCompleted:
		c.finish(run, flow.PhaseCompleted, nil)
		return true
	case backend.StatusFailed:
		msg := resp.Error
		if msg == "" {
			msg = "execution failed"
		}
		c.finish(run, flow.PhaseFailed, errors.New(msg))
		return true
	case backend.StatusCancelled:
		c.finish(run, flow.PhaseCancelled, nil)
		return true
	}
	return false
}

// Cancel asks the backend to stop run and stops following it. The backend
// call is best-effort: local state is reset even if it fails.
func (c *Coordinator) Cancel(ctx context.Context, run *Run) error {
	if run == nil || run.Phase().Terminal() {
		return ErrNotRunning
	}
	if id := run.ID(); id != "" {
		if err := c.backend.Cancel(ctx, id); err != nil {
			slog.Warn("engine: backend cancel failed", "execution_id", id, "err", err)
		}
	}
	if !c.finish(run, flow.PhaseCancelled, nil) {
		return ErrNotRunning
	}
	if w := run.writer; w != nil {
		for id, st := range run.State().NodeStatuses {
			if !st.Finished() {
				w.SetNodeStatus(id, flow.NodeStatusIdle)
			}
		}
	}
	return nil
}

// finish terminates run, returns the coordinator to idle, records metrics
// and emits the terminal event. It is a no-op for finished runs.
func (c *Coordinator) finish(run *Run, phase flow.ExecutionPhase, err error) bool {
	if !run.terminate(phase, err) {
		return false
	}
	c.mu.Lock()
	if c.current == run {
		c.current = nil
	}
	c.last = run
	hooks := slices.Clone(c.onFinish)
	c.mu.Unlock()

	metrics.ExecutionsTotal.WithLabelValues(string(phase)).Inc()
	if run.ID() != "" {
		metrics.ExecutionsActive.Dec()
	}

	payload := map[string]any{"status": phase, "progress": run.Progress()}
	switch phase {
	case flow.PhaseCompleted:
		st := run.State()
		payload["result_url"] = st.ResultURL
		payload["outputs"] = st.Outputs
		c.emit(run, flow.EventExecutionCompleted, payload)
	case flow.PhaseFailed:
		payload["error"] = err.Error()
		c.emit(run, flow.EventExecutionError, payload)
	case flow.PhaseCancelled:
		c.emit(run, flow.EventExecutionCancelled, payload)
	}

	for _, fn := range hooks {
		fn(run)
	}
	return true
}

func (c *Coordinator) emit(run *Run, typ flow.EventType, payload map[string]any) {
	ev := flow.NewEvent(typ, payload)
	ev.WorkflowID = run.WorkflowID()
	ev.ExecutionID = run.ID()
	c.bus.Publish(ev)
}
