package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/soochol/nodeflow/internal/backend"
	"github.com/soochol/nodeflow/internal/dag"
	"github.com/soochol/nodeflow/internal/engine"
	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/repository"
)

// Trigger types recorded in execution history.
const (
	TriggerManual = "manual"
	TriggerCron   = "cron"
)

// ExecutionService runs workflows: one coordinator per workflow, a global
// cap on simultaneous executions, execution history and a replayable event
// buffer per execution.
type ExecutionService struct {
	workflows *WorkflowService
	backend   backend.Backend
	history   repository.ExecutionRepository
	events    *EventBuffer
	bus       *flow.EventBus
	opts      engine.Options
	limit     *semaphore.Weighted // nil means unlimited

	// pollCtx outlives the request that started an execution.
	pollCtx context.Context
	stop    context.CancelFunc

	mu           sync.Mutex
	coordinators map[string]*engine.Coordinator
}

// ExecutionConfig holds the ExecutionService collaborators.
type ExecutionConfig struct {
	Workflows *WorkflowService
	Backend   backend.Backend
	History   repository.ExecutionRepository
	Events    *EventBuffer
	Bus       *flow.EventBus
	Options   engine.Options
	// GlobalMax caps simultaneous executions across workflows; 0 disables the cap.
	GlobalMax int
}

// NewExecutionService creates the service and subscribes the event buffer
// to execution events on the bus.
func NewExecutionService(cfg ExecutionConfig) *ExecutionService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &ExecutionService{
		workflows:    cfg.Workflows,
		backend:      cfg.Backend,
		history:      cfg.History,
		events:       cfg.Events,
		bus:          cfg.Bus,
		opts:         cfg.Options,
		pollCtx:      ctx,
		stop:         cancel,
		coordinators: make(map[string]*engine.Coordinator),
	}
	if s.bus == nil {
		s.bus = flow.NewEventBus()
	}
	if cfg.GlobalMax > 0 {
		s.limit = semaphore.NewWeighted(int64(cfg.GlobalMax))
	}
	if s.events != nil {
		s.bus.Subscribe(s.bufferEvent)
	}
	return s
}

// Close stops polling every in-flight execution.
func (s *ExecutionService) Close() {
	s.stop()
}

// Events returns the per-execution event buffer.
func (s *ExecutionService) Events() *EventBuffer { return s.events }

func (s *ExecutionService) bufferEvent(ev flow.Event) {
	if ev.ExecutionID == "" {
		return
	}
	switch ev.Type {
	case flow.EventExecutionStarted:
		s.events.Register(ev.ExecutionID)
		s.events.Append(ev.ExecutionID, ev)
	case flow.EventExecutionCompleted, flow.EventExecutionError, flow.EventExecutionCancelled:
		s.events.Append(ev.ExecutionID, ev)
		s.events.Complete(ev.ExecutionID)
	default:
		s.events.Append(ev.ExecutionID, ev)
	}
}

func (s *ExecutionService) coordinator(workflowID string) *engine.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.coordinators[workflowID]; ok {
		return c
	}
	c := engine.NewCoordinator(s.backend, nil, s.bus, s.opts)
	c.OnFinish(s.finished)
	s.coordinators[workflowID] = c
	return c
}

// Execute validates workflowID, plans it and submits it to the backend.
// Validation, planning and the submitted document share one snapshot, and
// node statuses go to the workflow's current editor graph. The returned run
// is already being polled.
func (s *ExecutionService) Execute(ctx context.Context, workflowID, triggerType, triggerRef string) (*engine.Run, error) {
	g, err := s.workflows.Graph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	snap := g.Snapshot()
	a := dag.New(snap, s.workflows.Catalog())
	if res := a.Validate(); !res.Valid {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWorkflow, res.Err())
	}
	plan := a.Plan()
	if err := plan.Err(); err != nil {
		return nil, err
	}
	order := make([]*flow.Node, 0, len(plan.Order))
	for _, id := range plan.Order {
		order = append(order, a.Node(id))
	}

	if s.limit != nil && !s.limit.TryAcquire(1) {
		return nil, ErrCapacity
	}

	coord := s.coordinator(workflowID)
	run, err := coord.Execute(ctx, engine.Submission{
		WorkflowID: workflowID,
		Document:   snap.Document(),
		Order:      order,
		Islands:    a.Islands(),
		Writer:     g,
	})
	if err != nil {
		// A rejected reservation never reaches OnFinish.
		if errors.Is(err, engine.ErrAlreadyRunning) {
			s.release()
		}
		return nil, err
	}

	if err := s.history.Save(ctx, run.Record(triggerType, triggerRef)); err != nil {
		slog.Warn("record execution start failed", "execution_id", run.ID(), "err", err)
	}
	if err := coord.Poll(s.pollCtx, run); err != nil {
		slog.Warn("execution finished before polling started", "execution_id", run.ID(), "err", err)
	}
	slog.Info("execution submitted", "workflow_id", workflowID, "execution_id", run.ID(),
		"trigger", triggerType, "regime", plan.Regime)
	return run, nil
}

// finished runs once per terminal run.
func (s *ExecutionService) finished(run *engine.Run) {
	s.release()
	if run.ID() == "" {
		return
	}
	ctx := context.Background()
	triggerType, triggerRef := TriggerManual, ""
	if prev, err := s.history.Get(ctx, run.ID()); err == nil {
		triggerType, triggerRef = prev.TriggerType, prev.TriggerRef
	}
	if err := s.history.Save(ctx, run.Record(triggerType, triggerRef)); err != nil {
		slog.Warn("record execution result failed", "execution_id", run.ID(), "err", err)
	}
	slog.Info("execution finished", "workflow_id", run.WorkflowID(), "execution_id", run.ID(),
		"status", run.Phase())
}

func (s *ExecutionService) release() {
	if s.limit != nil {
		s.limit.Release(1)
	}
}

// Current returns the running, else most recent, execution of workflowID.
func (s *ExecutionService) Current(workflowID string) (*engine.Run, bool) {
	s.mu.Lock()
	c, ok := s.coordinators[workflowID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	run := c.Current()
	return run, run != nil
}

// Cancel stops the running execution of workflowID.
func (s *ExecutionService) Cancel(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	c, ok := s.coordinators[workflowID]
	s.mu.Unlock()
	if !ok || !c.Running() {
		return engine.ErrNotRunning
	}
	return c.Cancel(ctx, c.Current())
}

// History lists recorded executions newest first. An empty workflowID
// lists every workflow.
func (s *ExecutionService) History(ctx context.Context, workflowID string, limit, offset int) ([]*flow.ExecutionRecord, int, error) {
	return s.history.List(ctx, workflowID, limit, offset)
}

// Execution returns one recorded execution.
func (s *ExecutionService) Execution(ctx context.Context, id string) (*flow.ExecutionRecord, error) {
	return s.history.Get(ctx, id)
}
