package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/soochol/nodeflow/internal/flow"
	memstore "github.com/soochol/nodeflow/internal/repository/memory"
)

// MemoryRepository is a thread-safe in-memory WorkflowRepository.
type MemoryRepository struct {
	store *memstore.Store[*flow.Document]
}

var _ WorkflowRepository = (*MemoryRepository)(nil)

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		store: memstore.New(
			func(d *flow.Document) string { return d.Workflow.ID },
			(*flow.Document).Clone,
		),
	}
}

func (r *MemoryRepository) Save(ctx context.Context, doc *flow.Document) error {
	if doc.Workflow.ID == "" {
		return fmt.Errorf("workflow document has no id")
	}
	return r.store.Set(ctx, doc)
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*flow.Document, error) {
	doc, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: workflow %s", ErrNotFound, id)
	}
	return doc, err
}

func (r *MemoryRepository) List(ctx context.Context) ([]*flow.Document, error) {
	return r.store.All(ctx)
}

// Delete is a no-op for unknown ids.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	_ = r.store.Delete(ctx, id)
	return nil
}
