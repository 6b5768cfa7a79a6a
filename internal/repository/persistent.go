package repository

import (
	"context"
	"log/slog"

	"github.com/soochol/nodeflow/internal/db"
	"github.com/soochol/nodeflow/internal/flow"
)

// PersistentRepository wraps a MemoryRepository with a PostgreSQL backend.
// Writes go to both stores (DB failure is logged but non-fatal).
// Reads try memory first, falling back to the database.
type PersistentRepository struct {
	mem *MemoryRepository
	db  *db.DB
}

var _ WorkflowRepository = (*PersistentRepository)(nil)

// NewPersistent creates a repository backed by both memory and PostgreSQL.
func NewPersistent(mem *MemoryRepository, database *db.DB) *PersistentRepository {
	return &PersistentRepository{mem: mem, db: database}
}

func (r *PersistentRepository) Save(ctx context.Context, doc *flow.Document) error {
	if err := r.mem.Save(ctx, doc); err != nil {
		return err
	}
	if err := r.db.UpsertWorkflow(ctx, doc); err != nil {
		slog.Warn("db save workflow failed, in-memory only", "workflow_id", doc.Workflow.ID, "err", err)
	}
	return nil
}

func (r *PersistentRepository) Get(ctx context.Context, id string) (*flow.Document, error) {
	doc, err := r.mem.Get(ctx, id)
	if err == nil {
		return doc, nil
	}

	row, dbErr := r.db.GetWorkflow(ctx, id)
	if dbErr != nil {
		return nil, err
	}
	_ = r.mem.Save(ctx, &row.Document)
	return &row.Document, nil
}

func (r *PersistentRepository) List(ctx context.Context) ([]*flow.Document, error) {
	rows, err := r.db.ListWorkflows(ctx)
	if err == nil {
		result := make([]*flow.Document, len(rows))
		for i := range rows {
			result[i] = &rows[i].Document
		}
		return result, nil
	}
	slog.Warn("db list workflows failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx)
}

func (r *PersistentRepository) Delete(ctx context.Context, id string) error {
	_ = r.mem.Delete(ctx, id)
	if err := r.db.DeleteWorkflow(ctx, id); err != nil {
		slog.Warn("db delete workflow failed", "workflow_id", id, "err", err)
	}
	return nil
}
