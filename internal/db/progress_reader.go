package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ProgressReader serves the read side of the progress surface: task progress
// rows, per-workflow progress listings and workflow tracking lookups. It runs
// on sqlx with ?-style placeholders rebound per driver, so the same queries
// work against Postgres in production and SQLite in tests.
type ProgressReader struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewProgressReader creates a reader over an existing connection pool.
func NewProgressReader(db *sqlx.DB, logger *zap.Logger) *ProgressReader {
	return &ProgressReader{
		db:     db,
		logger: logger,
	}
}

// GetTaskProgress returns the progress row for a task, or nil when the task
// has never reported progress.
func (r *ProgressReader) GetTaskProgress(ctx context.Context, taskID string) (*TaskProgress, error) {
	var progress TaskProgress

	query := r.db.Rebind(`
		SELECT task_id, workflow_id, agent_type, status, progress,
			current_step, result, error_message, updated_at
		FROM task_progress
		WHERE task_id = ?`)

	err := r.db.GetContext(ctx, &progress, query, taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task progress: %w", err)
	}

	return &progress, nil
}

// ListWorkflowProgress returns all progress rows attached to a workflow,
// oldest update first.
func (r *ProgressReader) ListWorkflowProgress(ctx context.Context, workflowID string) ([]TaskProgress, error) {
	var rows []TaskProgress

	query := r.db.Rebind(`
		SELECT task_id, workflow_id, agent_type, status, progress,
			current_step, result, error_message, updated_at
		FROM task_progress
		WHERE workflow_id = ?
		ORDER BY updated_at ASC`)

	if err := r.db.SelectContext(ctx, &rows, query, workflowID); err != nil {
		return nil, fmt.Errorf("failed to list workflow progress: %w", err)
	}

	return rows, nil
}

// GetWorkflowTracking returns the tracking row for a workflow, or nil when
// the workflow is unknown.
func (r *ProgressReader) GetWorkflowTracking(ctx context.Context, id uuid.UUID) (*WorkflowTracking, error) {
	var wf WorkflowTracking

	query := r.db.Rebind(`
		SELECT id, user_id, workflow_name, workflow_type, workflow_config,
			status, execution_id, created_at, updated_at
		FROM workflow_tracking
		WHERE id = ?`)

	err := r.db.GetContext(ctx, &wf, query, id.String())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow tracking: %w", err)
	}

	return &wf, nil
}

// ListAgentResults returns the persisted per-agent outcomes for a workflow,
// oldest first. Used by the debugging surface next to the synthesis audit
// trail.
func (r *ProgressReader) ListAgentResults(ctx context.Context, workflowID string) ([]AgentResult, error) {
	var rows []AgentResult

	query := r.db.Rebind(`
		SELECT id, workflow_id, task_id, agent_type, status,
			result, confidence, tokens_used, error_message,
			duration_ms, created_at
		FROM agent_results
		WHERE workflow_id = ?
		ORDER BY created_at ASC`)

	if err := r.db.SelectContext(ctx, &rows, query, workflowID); err != nil {
		return nil, fmt.Errorf("failed to list agent results: %w", err)
	}

	return rows, nil
}
