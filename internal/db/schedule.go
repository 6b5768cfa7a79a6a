package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soochol/nodeflow/internal/flow"
)

const scheduleColumns = `id, workflow_id, cron_expr, timezone, enabled, next_run_at, last_run_at, created_at`

// UpsertSchedule stores or replaces a schedule.
func (d *DB) UpsertSchedule(ctx context.Context, s *flow.Schedule) error {
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO schedules (`+scheduleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET workflow_id = EXCLUDED.workflow_id, cron_expr = EXCLUDED.cron_expr,
		   timezone = EXCLUDED.timezone, enabled = EXCLUDED.enabled,
		   next_run_at = EXCLUDED.next_run_at, last_run_at = EXCLUDED.last_run_at`,
		s.ID, s.WorkflowID, s.CronExpr, s.Timezone, s.Enabled, s.NextRunAt, s.LastRunAt, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by id.
func (d *DB) GetSchedule(ctx context.Context, id string) (*flow.Schedule, error) {
	s, err := scanSchedule(d.Pool.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return s, nil
}

// ListSchedules returns all schedules ordered by next run.
func (d *DB) ListSchedules(ctx context.Context) ([]*flow.Schedule, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules ORDER BY next_run_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var result []*flow.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// DeleteSchedule removes a schedule.
func (d *DB) DeleteSchedule(ctx context.Context, id string) error {
	res, err := d.Pool.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	return nil
}

func scanSchedule(s scanner) (*flow.Schedule, error) {
	sch := &flow.Schedule{}
	var lastRun sql.NullTime
	if err := s.Scan(&sch.ID, &sch.WorkflowID, &sch.CronExpr, &sch.Timezone, &sch.Enabled,
		&sch.NextRunAt, &lastRun, &sch.CreatedAt); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		sch.LastRunAt = &lastRun.Time
	}
	return sch, nil
}
