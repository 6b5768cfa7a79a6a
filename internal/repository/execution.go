package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/soochol/nodeflow/internal/db"
	"github.com/soochol/nodeflow/internal/flow"
	memstore "github.com/soochol/nodeflow/internal/repository/memory"
)

// ExecutionRepository stores execution history.
type ExecutionRepository interface {
	// Save inserts or replaces a record.
	Save(ctx context.Context, rec *flow.ExecutionRecord) error
	Get(ctx context.Context, id string) (*flow.ExecutionRecord, error)
	// List returns records newest first plus the total count. An empty
	// workflowID matches every workflow.
	List(ctx context.Context, workflowID string, limit, offset int) ([]*flow.ExecutionRecord, int, error)
}

const maxExecutionRecords = 1000

// MemoryExecutionRepository keeps the most recent records in memory,
// evicting the oldest once full.
type MemoryExecutionRepository struct {
	store *memstore.Store[*flow.ExecutionRecord]
	limit int
}

var _ ExecutionRepository = (*MemoryExecutionRepository)(nil)

func NewMemoryExecutionRepository() *MemoryExecutionRepository {
	return &MemoryExecutionRepository{
		store: memstore.New(func(r *flow.ExecutionRecord) string { return r.ID }, cloneRecord),
		limit: maxExecutionRecords,
	}
}

func cloneRecord(r *flow.ExecutionRecord) *flow.ExecutionRecord {
	cp := *r
	cp.NodeStatuses = maps.Clone(r.NodeStatuses)
	cp.FlowStatuses = maps.Clone(r.FlowStatuses)
	return &cp
}

func (r *MemoryExecutionRepository) Save(ctx context.Context, rec *flow.ExecutionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("execution record has no id")
	}
	if !r.store.Has(ctx, rec.ID) && r.store.Len() >= r.limit {
		if oldest, ok := r.store.Oldest(); ok {
			_ = r.store.Delete(ctx, oldest)
		}
	}
	return r.store.Set(ctx, rec)
}

func (r *MemoryExecutionRepository) Get(ctx context.Context, id string) (*flow.ExecutionRecord, error) {
	rec, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: execution %s", ErrNotFound, id)
	}
	return rec, err
}

func (r *MemoryExecutionRepository) List(ctx context.Context, workflowID string, limit, offset int) ([]*flow.ExecutionRecord, int, error) {
	all, err := r.store.Filter(ctx, func(rec *flow.ExecutionRecord) bool {
		return workflowID == "" || rec.WorkflowID == workflowID
	})
	if err != nil {
		return nil, 0, err
	}
	slices.SortStableFunc(all, func(a, b *flow.ExecutionRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(all, limit, offset), len(all), nil
}

func page[T any](items []T, limit, offset int) []T {
	total := len(items)
	if offset >= total {
		return nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return items[offset:end]
}

// PersistentExecutionRepository writes through to PostgreSQL and reads
// from it, falling back to memory when the database is unavailable.
type PersistentExecutionRepository struct {
	mem *MemoryExecutionRepository
	db  *db.DB
}

var _ ExecutionRepository = (*PersistentExecutionRepository)(nil)

func NewPersistentExecutionRepository(mem *MemoryExecutionRepository, database *db.DB) *PersistentExecutionRepository {
	return &PersistentExecutionRepository{mem: mem, db: database}
}

func (r *PersistentExecutionRepository) Save(ctx context.Context, rec *flow.ExecutionRecord) error {
	if err := r.mem.Save(ctx, rec); err != nil {
		return err
	}
	if err := r.db.UpsertExecution(ctx, rec); err != nil {
		slog.Warn("db save execution failed, in-memory only", "execution_id", rec.ID, "err", err)
	}
	return nil
}

func (r *PersistentExecutionRepository) Get(ctx context.Context, id string) (*flow.ExecutionRecord, error) {
	rec, err := r.mem.Get(ctx, id)
	if err == nil {
		return rec, nil
	}
	dbRec, dbErr := r.db.GetExecution(ctx, id)
	if dbErr != nil {
		return nil, err
	}
	return dbRec, nil
}

func (r *PersistentExecutionRepository) List(ctx context.Context, workflowID string, limit, offset int) ([]*flow.ExecutionRecord, int, error) {
	recs, total, err := r.db.ListExecutions(ctx, workflowID, limit, offset)
	if err == nil {
		return recs, total, nil
	}
	slog.Warn("db list executions failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx, workflowID, limit, offset)
}
