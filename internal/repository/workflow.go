// Package repository defines storage interfaces for workflows, executions
// and schedules, with in-memory and PostgreSQL-backed implementations.
package repository

import (
	"context"
	"errors"

	"github.com/soochol/nodeflow/internal/flow"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// WorkflowRepository stores workflow documents keyed by workflow id.
type WorkflowRepository interface {
	Save(ctx context.Context, doc *flow.Document) error
	Get(ctx context.Context, id string) (*flow.Document, error)
	List(ctx context.Context) ([]*flow.Document, error)
	Delete(ctx context.Context, id string) error
}
