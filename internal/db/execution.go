package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/nodeflow/internal/flow"
)

const executionColumns = `id, workflow_id, trigger_type, trigger_ref, status, progress,
	node_statuses, flow_statuses, result_url, error, created_at, completed_at`

// UpsertExecution stores or replaces an execution record.
func (d *DB) UpsertExecution(ctx context.Context, rec *flow.ExecutionRecord) error {
	nodesJSON, err := json.Marshal(orEmpty(rec.NodeStatuses))
	if err != nil {
		return fmt.Errorf("marshal node statuses: %w", err)
	}
	flowsJSON, err := json.Marshal(orEmpty(rec.FlowStatuses))
	if err != nil {
		return fmt.Errorf("marshal flow statuses: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, progress = EXCLUDED.progress,
		   node_statuses = EXCLUDED.node_statuses, flow_statuses = EXCLUDED.flow_statuses,
		   result_url = EXCLUDED.result_url, error = EXCLUDED.error, completed_at = EXCLUDED.completed_at`,
		rec.ID, rec.WorkflowID, rec.TriggerType, rec.TriggerRef, string(rec.Status), rec.Progress,
		nodesJSON, flowsJSON, rec.ResultURL, rec.Error, rec.CreatedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution record by id.
func (d *DB) GetExecution(ctx context.Context, id string) (*flow.ExecutionRecord, error) {
	rec, err := scanExecution(d.Pool.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: execution %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return rec, nil
}

// ListExecutions returns execution records newest first. An empty
// workflowID lists all workflows.
func (d *DB) ListExecutions(ctx context.Context, workflowID string, limit, offset int) ([]*flow.ExecutionRecord, int, error) {
	var total int
	if err := d.Pool.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions WHERE ($1::text = '' OR workflow_id = $1::text)`, workflowID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE ($1::text = '' OR workflow_id = $1::text)
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		workflowID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var result []*flow.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		result = append(result, rec)
	}
	return result, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*flow.ExecutionRecord, error) {
	rec := &flow.ExecutionRecord{}
	var status string
	var nodesJSON, flowsJSON []byte
	var errMsg sql.NullString
	var completedAt sql.NullTime
	if err := s.Scan(&rec.ID, &rec.WorkflowID, &rec.TriggerType, &rec.TriggerRef, &status, &rec.Progress,
		&nodesJSON, &flowsJSON, &rec.ResultURL, &errMsg, &rec.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	rec.Status = flow.ExecutionPhase(status)
	if err := json.Unmarshal(nodesJSON, &rec.NodeStatuses); err != nil {
		return nil, fmt.Errorf("unmarshal node statuses: %w", err)
	}
	if err := json.Unmarshal(flowsJSON, &rec.FlowStatuses); err != nil {
		return nil, fmt.Errorf("unmarshal flow statuses: %w", err)
	}
	if errMsg.Valid {
		rec.Error = &errMsg.String
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return rec, nil
}

// orEmpty keeps JSONB columns from receiving a SQL NULL; lib/pq sends a nil
// map as the JSON literal null.
func orEmpty[M ~map[string]V, V any](m M) M {
	if m == nil {
		return M{}
	}
	return m
}
