package repository

import (
	"context"
	"time"

	"github.com/soochol/nodeflow/internal/flow"
)

// ScheduleRepository abstracts persistence for cron schedules.
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *flow.Schedule) error
	Get(ctx context.Context, id string) (*flow.Schedule, error)
	Update(ctx context.Context, schedule *flow.Schedule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*flow.Schedule, error)
	ListDue(ctx context.Context, now time.Time) ([]*flow.Schedule, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*flow.Schedule, error)
}
