package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soochol/nodeflow/internal/flow"
)

// WorkflowRow represents a workflow document stored in the database.
type WorkflowRow struct {
	ID        string
	Name      string
	Document  flow.Document
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertWorkflow stores doc under its workflow id, replacing any previous
// version.
func (d *DB) UpsertWorkflow(ctx context.Context, doc *flow.Document) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO workflows (id, name, document, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, document = EXCLUDED.document, updated_at = NOW()`,
		doc.Workflow.ID, doc.Workflow.Name, docJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by id.
func (d *DB) GetWorkflow(ctx context.Context, id string) (*WorkflowRow, error) {
	var row WorkflowRow
	var docJSON []byte
	err := d.Pool.QueryRowContext(ctx,
		`SELECT id, name, document, created_at, updated_at FROM workflows WHERE id = $1`, id,
	).Scan(&row.ID, &row.Name, &docJSON, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: workflow %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	if err := json.Unmarshal(docJSON, &row.Document); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &row, nil
}

// ListWorkflows returns all workflows, oldest first.
func (d *DB) ListWorkflows(ctx context.Context) ([]WorkflowRow, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT id, name, document, created_at, updated_at FROM workflows ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var result []WorkflowRow
	for rows.Next() {
		var row WorkflowRow
		var docJSON []byte
		if err := rows.Scan(&row.ID, &row.Name, &docJSON, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		if err := json.Unmarshal(docJSON, &row.Document); err != nil {
			return nil, fmt.Errorf("unmarshal document: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// DeleteWorkflow removes a workflow. Deleting a missing workflow is not an error.
func (d *DB) DeleteWorkflow(ctx context.Context, id string) error {
	if _, err := d.Pool.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}
