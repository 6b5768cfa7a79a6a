package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soochol/nodeflow/internal/db"
	"github.com/soochol/nodeflow/internal/flow"
	memstore "github.com/soochol/nodeflow/internal/repository/memory"
)

// MemoryScheduleRepository stores schedules in memory.
type MemoryScheduleRepository struct {
	store *memstore.Store[*flow.Schedule]
}

var _ ScheduleRepository = (*MemoryScheduleRepository)(nil)

func NewMemoryScheduleRepository() *MemoryScheduleRepository {
	return &MemoryScheduleRepository{
		store: memstore.New(
			func(s *flow.Schedule) string { return s.ID },
			func(s *flow.Schedule) *flow.Schedule { cp := *s; return &cp },
		),
	}
}

func (r *MemoryScheduleRepository) Create(ctx context.Context, schedule *flow.Schedule) error {
	return r.store.Set(ctx, schedule)
}

func (r *MemoryScheduleRepository) Get(ctx context.Context, id string) (*flow.Schedule, error) {
	s, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	return s, err
}

func (r *MemoryScheduleRepository) Update(ctx context.Context, schedule *flow.Schedule) error {
	if !r.store.Has(ctx, schedule.ID) {
		return fmt.Errorf("%w: schedule %s", ErrNotFound, schedule.ID)
	}
	return r.store.Set(ctx, schedule)
}

func (r *MemoryScheduleRepository) Delete(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	return err
}

func (r *MemoryScheduleRepository) List(ctx context.Context) ([]*flow.Schedule, error) {
	return r.store.All(ctx)
}

func (r *MemoryScheduleRepository) ListDue(ctx context.Context, now time.Time) ([]*flow.Schedule, error) {
	return r.store.Filter(ctx, func(s *flow.Schedule) bool {
		return s.Enabled && !s.NextRunAt.After(now)
	})
}

func (r *MemoryScheduleRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*flow.Schedule, error) {
	return r.store.Filter(ctx, func(s *flow.Schedule) bool {
		return s.WorkflowID == workflowID
	})
}

// PersistentScheduleRepository mirrors schedules into PostgreSQL so they
// survive restarts; memory stays authoritative while the process runs.
type PersistentScheduleRepository struct {
	*MemoryScheduleRepository
	db *db.DB
}

var _ ScheduleRepository = (*PersistentScheduleRepository)(nil)

// NewPersistentScheduleRepository loads stored schedules into mem.
func NewPersistentScheduleRepository(ctx context.Context, mem *MemoryScheduleRepository, database *db.DB) *PersistentScheduleRepository {
	r := &PersistentScheduleRepository{MemoryScheduleRepository: mem, db: database}
	stored, err := database.ListSchedules(ctx)
	if err != nil {
		slog.Warn("db list schedules failed, starting with in-memory schedules", "err", err)
		return r
	}
	for _, s := range stored {
		_ = mem.Create(ctx, s)
	}
	return r
}

func (r *PersistentScheduleRepository) Create(ctx context.Context, schedule *flow.Schedule) error {
	if err := r.MemoryScheduleRepository.Create(ctx, schedule); err != nil {
		return err
	}
	if err := r.db.UpsertSchedule(ctx, schedule); err != nil {
		slog.Warn("db create schedule failed, in-memory only", "schedule_id", schedule.ID, "err", err)
	}
	return nil
}

func (r *PersistentScheduleRepository) Update(ctx context.Context, schedule *flow.Schedule) error {
	if err := r.MemoryScheduleRepository.Update(ctx, schedule); err != nil {
		return err
	}
	if err := r.db.UpsertSchedule(ctx, schedule); err != nil {
		slog.Warn("db update schedule failed, in-memory only", "schedule_id", schedule.ID, "err", err)
	}
	return nil
}

func (r *PersistentScheduleRepository) Delete(ctx context.Context, id string) error {
	if err := r.MemoryScheduleRepository.Delete(ctx, id); err != nil {
		return err
	}
	if err := r.db.DeleteSchedule(ctx, id); err != nil && !errors.Is(err, db.ErrNotFound) {
		slog.Warn("db delete schedule failed", "schedule_id", id, "err", err)
	}
	return nil
}
