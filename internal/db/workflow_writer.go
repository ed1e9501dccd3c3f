package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/circuitbreaker"
)

// SaveWorkflowTracking inserts the durable record for a submitted workflow.
// Called synchronously before the workflow is handed to Temporal so the row
// exists even if submission fails.
func (c *Client) SaveWorkflowTracking(ctx context.Context, wf *WorkflowTracking) error {
	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	if wf.Status == "" {
		wf.Status = WorkflowStatusCreated
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now()
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = wf.CreatedAt
	}

	query := `
		INSERT INTO workflow_tracking (
			id, user_id, workflow_name, workflow_type, workflow_config,
			status, execution_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	_, err := c.db.ExecContext(ctx, query,
		wf.ID, wf.UserID, wf.WorkflowName, wf.WorkflowType, wf.WorkflowConfig,
		wf.Status, wf.ExecutionID, wf.CreatedAt, wf.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save workflow tracking: %w", err)
	}

	c.logger.Debug("Workflow tracking saved",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("workflow_type", wf.WorkflowType),
	)

	return nil
}

// MarkWorkflowInitiated records the Temporal run ID and flips the tracking
// row to initiated once the execution has been accepted.
func (c *Client) MarkWorkflowInitiated(ctx context.Context, id uuid.UUID, executionID string) error {
	query := `
		UPDATE workflow_tracking
		SET status = $2, execution_id = $3, updated_at = $4
		WHERE id = $1`

	result, err := c.db.ExecContext(ctx, query, id, WorkflowStatusInitiated, executionID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark workflow initiated: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("workflow tracking row %s not found", id)
	}

	return nil
}

// UpdateWorkflowStatus transitions the tracking row to a new status.
func (c *Client) UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `
		UPDATE workflow_tracking
		SET status = $2, updated_at = $3
		WHERE id = $1`

	result, err := c.db.ExecContext(ctx, query, id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update workflow status: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("workflow tracking row %s not found", id)
	}

	return nil
}

const upsertTaskProgressQuery = `
	INSERT INTO task_progress (
		task_id, workflow_id, agent_type, status, progress,
		current_step, result, error_message, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9
	)
	ON CONFLICT (task_id) DO UPDATE SET
		workflow_id = COALESCE(EXCLUDED.workflow_id, task_progress.workflow_id),
		agent_type = EXCLUDED.agent_type,
		status = EXCLUDED.status,
		progress = EXCLUDED.progress,
		current_step = EXCLUDED.current_step,
		result = CASE
			WHEN EXCLUDED.result IS NULL THEN task_progress.result
			ELSE EXCLUDED.result
		END,
		error_message = EXCLUDED.error_message,
		updated_at = EXCLUDED.updated_at`

// UpsertTaskProgress inserts or updates the progress row for a task.
// Repeated writes for the same task_id overwrite status and progress; a nil
// result payload keeps whatever result was stored earlier.
func (c *Client) UpsertTaskProgress(ctx context.Context, p *TaskProgress) error {
	if p.TaskID == "" {
		return fmt.Errorf("task progress requires a task_id")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, upsertTaskProgressQuery,
		p.TaskID, p.WorkflowID, p.AgentType, p.Status, p.Progress,
		p.CurrentStep, p.Result, p.ErrorMessage, p.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert task progress: %w", err)
	}

	return nil
}

// BatchUpsertTaskProgress applies multiple progress upserts in a single
// transaction.
func (c *Client) BatchUpsertTaskProgress(ctx context.Context, rows []*TaskProgress) error {
	if len(rows) == 0 {
		return nil
	}

	return c.WithTransactionCB(ctx, func(tx *circuitbreaker.TxWrapper) error {
		for _, p := range rows {
			if p.TaskID == "" {
				return fmt.Errorf("task progress requires a task_id")
			}
			if p.UpdatedAt.IsZero() {
				p.UpdatedAt = time.Now()
			}

			_, err := tx.ExecContext(ctx, upsertTaskProgressQuery,
				p.TaskID, p.WorkflowID, p.AgentType, p.Status, p.Progress,
				p.CurrentStep, p.Result, p.ErrorMessage, p.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert progress for task %s: %w", p.TaskID, err)
			}
		}

		return nil
	})
}

// SaveAgentResult saves one agent's outcome within a workflow
func (c *Client) SaveAgentResult(ctx context.Context, r *AgentResult) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO agent_results (
			id, workflow_id, task_id, agent_type, status,
			result, confidence, tokens_used, error_message,
			duration_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err := c.db.ExecContext(ctx, query,
		r.ID, r.WorkflowID, r.TaskID, r.AgentType, r.Status,
		r.Result, r.Confidence, r.TokensUsed, r.ErrorMessage,
		r.DurationMs, r.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save agent result: %w", err)
	}

	return nil
}

// BatchSaveAgentResults saves multiple agent results in one statement
func (c *Client) BatchSaveAgentResults(ctx context.Context, results []*AgentResult) error {
	if len(results) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(results))
	valueArgs := make([]interface{}, 0, len(results)*11)

	for i, r := range results {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}

		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			i*11+1, i*11+2, i*11+3, i*11+4, i*11+5,
			i*11+6, i*11+7, i*11+8, i*11+9, i*11+10,
			i*11+11,
		))

		valueArgs = append(valueArgs,
			r.ID, r.WorkflowID, r.TaskID, r.AgentType, r.Status,
			r.Result, r.Confidence, r.TokensUsed, r.ErrorMessage,
			r.DurationMs, r.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO agent_results (
			id, workflow_id, task_id, agent_type, status,
			result, confidence, tokens_used, error_message,
			duration_ms, created_at
		) VALUES %s`,
		strings.Join(valueStrings, ","),
	)

	_, err := c.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return fmt.Errorf("failed to batch save agent results: %w", err)
	}

	return nil
}

// SaveSynthesisRecord persists the audit row for a synthesis run. Idempotent
// by synthesis_id so a replayed activity does not duplicate the record.
func (c *Client) SaveSynthesisRecord(ctx context.Context, rec *SynthesisRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO synthesis_records (
			id, synthesis_id, user_id, task_name, agents_processed,
			failed_agents, agent_results, synthesis_result,
			overall_confidence, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (synthesis_id) DO NOTHING`

	_, err := c.db.ExecContext(ctx, query,
		rec.ID, rec.SynthesisID, rec.UserID, rec.TaskName, rec.AgentsProcessed,
		rec.FailedAgents, rec.AgentResults, rec.SynthesisResult,
		rec.OverallConfidence, rec.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save synthesis record: %w", err)
	}

	c.logger.Debug("Synthesis record saved",
		zap.String("synthesis_id", rec.SynthesisID),
		zap.Int("agents_processed", rec.AgentsProcessed),
		zap.Int("failed_agents", len(rec.FailedAgents)),
	)

	return nil
}

// GetWorkflowTracking retrieves a tracking row by its UUID. Returns nil when
// no row exists.
func (c *Client) GetWorkflowTracking(ctx context.Context, id uuid.UUID) (*WorkflowTracking, error) {
	var wf WorkflowTracking

	query := `
		SELECT id, user_id, workflow_name, workflow_type, workflow_config,
			status, execution_id, created_at, updated_at
		FROM workflow_tracking
		WHERE id = $1`

	row, err := c.db.QueryRowContextCB(ctx, query, id)
	if err != nil {
		return nil, err
	}

	err = row.Scan(
		&wf.ID, &wf.UserID, &wf.WorkflowName, &wf.WorkflowType, &wf.WorkflowConfig,
		&wf.Status, &wf.ExecutionID, &wf.CreatedAt, &wf.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow tracking: %w", err)
	}

	return &wf, nil
}
