package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soochol/nodeflow/internal/engine"
	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/repository"
)

// WorkflowRunner starts workflow executions. *ExecutionService implements it.
type WorkflowRunner interface {
	Execute(ctx context.Context, workflowID, triggerType, triggerRef string) (*engine.Run, error)
}

// SchedulerService runs saved workflows on cron expressions.
type SchedulerService struct {
	cron     *cron.Cron
	repo     repository.ScheduleRepository
	runner   WorkflowRunner
	entryMap map[string]cron.EntryID // schedule ID → cron entry
	mu       sync.Mutex
	now      func() time.Time
}

func NewSchedulerService(repo repository.ScheduleRepository, runner WorkflowRunner) *SchedulerService {
	return &SchedulerService{
		cron:     cron.New(cron.WithSeconds()),
		repo:     repo,
		runner:   runner,
		entryMap: make(map[string]cron.EntryID),
		now:      time.Now,
	}
}

// Start registers the enabled schedules from the repository and starts the
// cron loop.
func (s *SchedulerService) Start(ctx context.Context) error {
	schedules, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.register(sched); err != nil {
			slog.Warn("scheduler: failed to register schedule", "id", sched.ID, "err", err)
		}
	}
	s.cron.Start()
	slog.Info("scheduler: started", "schedules", len(schedules))
	return nil
}

// Stop stops the cron loop and waits for running jobs.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler: stopped")
}

// Create validates the cron expression, stores the schedule and registers
// it when enabled.
func (s *SchedulerService) Create(ctx context.Context, sched *flow.Schedule) (*flow.Schedule, error) {
	if sched.WorkflowID == "" {
		return nil, fmt.Errorf("%w: schedule has no workflow", ErrInvalidSchedule)
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}
	cronSched, err := parseCronExpr(sched.CronExpr, sched.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	now := s.now()
	sched.ID = flow.GenerateID("sched")
	sched.NextRunAt = cronSched.Next(now)
	sched.CreatedAt = now
	if err := s.repo.Create(ctx, sched); err != nil {
		return nil, err
	}
	if sched.Enabled {
		if err := s.register(sched); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// Delete unregisters and removes a schedule.
func (s *SchedulerService) Delete(ctx context.Context, id string) error {
	s.unregister(id)
	return s.repo.Delete(ctx, id)
}

// Pause disables a schedule without deleting it.
func (s *SchedulerService) Pause(ctx context.Context, id string) (*flow.Schedule, error) {
	sched, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.unregister(id)
	sched.Enabled = false
	if err := s.repo.Update(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// Resume re-enables a paused schedule.
func (s *SchedulerService) Resume(ctx context.Context, id string) (*flow.Schedule, error) {
	sched, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cronSched, err := parseCronExpr(sched.CronExpr, sched.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	sched.Enabled = true
	sched.NextRunAt = cronSched.Next(s.now())
	if err := s.repo.Update(ctx, sched); err != nil {
		return nil, err
	}
	s.unregister(id)
	if err := s.register(sched); err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *SchedulerService) Get(ctx context.Context, id string) (*flow.Schedule, error) {
	return s.repo.Get(ctx, id)
}

// List returns every schedule, or those of one workflow when workflowID is set.
func (s *SchedulerService) List(ctx context.Context, workflowID string) ([]*flow.Schedule, error) {
	if workflowID != "" {
		return s.repo.ListByWorkflow(ctx, workflowID)
	}
	return s.repo.List(ctx)
}

// parseCronExpr tries 6-field (with seconds) then 5-field (standard) parsing.
// A non-UTC timezone is applied via the CRON_TZ= prefix.
func parseCronExpr(expr, timezone string) (cron.Schedule, error) {
	if timezone != "" && timezone != "UTC" {
		expr = "CRON_TZ=" + timezone + " " + expr
	}
	parser6 := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if sched, err := parser6.Parse(expr); err == nil {
		return sched, nil
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser5.Parse(expr)
}

func (s *SchedulerService) register(sched *flow.Schedule) error {
	cronSched, err := parseCronExpr(sched.CronExpr, sched.Timezone)
	if err != nil {
		return err
	}
	id := sched.ID
	entryID := s.cron.Schedule(cronSched, cron.FuncJob(func() {
		s.runScheduled(context.Background(), id)
	}))

	s.mu.Lock()
	s.entryMap[id] = entryID
	s.mu.Unlock()
	slog.Info("scheduler: registered cron job", "id", id, "workflow", sched.WorkflowID, "cron", sched.CronExpr)
	return nil
}

func (s *SchedulerService) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entryMap[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, id)
	}
}

// runScheduled executes the workflow of schedule id and advances its
// LastRunAt and NextRunAt.
func (s *SchedulerService) runScheduled(ctx context.Context, id string) {
	sched, err := s.repo.Get(ctx, id)
	if err != nil {
		slog.Warn("scheduler: schedule vanished", "id", id, "err", err)
		return
	}
	if !sched.Enabled {
		return
	}

	now := s.now()
	run, err := s.runner.Execute(ctx, sched.WorkflowID, TriggerCron, sched.ID)
	switch {
	case err != nil:
		slog.Error("scheduler: execution failed to start", "id", id, "workflow", sched.WorkflowID, "err", err)
	case run != nil:
		slog.Info("scheduler: execution started", "id", id, "workflow", sched.WorkflowID, "execution_id", run.ID())
	}

	sched.LastRunAt = &now
	if cronSched, err := parseCronExpr(sched.CronExpr, sched.Timezone); err == nil {
		sched.NextRunAt = cronSched.Next(now)
	}
	if err := s.repo.Update(ctx, sched); err != nil {
		slog.Warn("scheduler: failed to update schedule", "id", id, "err", err)
	}
}
