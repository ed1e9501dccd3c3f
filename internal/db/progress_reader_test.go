package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap/zaptest"
)

// newReaderDB opens an in-memory database with the progress schema. The
// reader rebinds its queries per driver, so the SQL under test here is the
// same SQL that runs against Postgres.
func newReaderDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// In-memory SQLite is per-connection; keep the pool at one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE workflow_tracking (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		workflow_name TEXT NOT NULL,
		workflow_type TEXT NOT NULL,
		workflow_config TEXT,
		status TEXT NOT NULL,
		execution_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE task_progress (
		task_id TEXT PRIMARY KEY,
		workflow_id TEXT,
		agent_type TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		current_step TEXT,
		result TEXT,
		error_message TEXT,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE agent_results (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		status TEXT NOT NULL,
		result TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create test schema: %v", err)
	}

	return db
}

func TestProgressReaderGetTaskProgress(t *testing.T) {
	db := newReaderDB(t)
	reader := NewProgressReader(db, zaptest.NewLogger(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	_, err := db.Exec(`
		INSERT INTO task_progress (task_id, workflow_id, agent_type, status, progress, current_step, result, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"task-read-1", "prsnl-wf-read", "content_analysis", TaskStatusRunning, 55,
		"extracting entities", `{"entities": 12}`, now,
	)
	if err != nil {
		t.Fatalf("failed to seed task progress: %v", err)
	}

	progress, err := reader.GetTaskProgress(ctx, "task-read-1")
	if err != nil {
		t.Fatalf("GetTaskProgress failed: %v", err)
	}
	if progress == nil {
		t.Fatal("expected a progress row")
	}
	if progress.AgentType != "content_analysis" {
		t.Errorf("expected agent_type content_analysis, got %s", progress.AgentType)
	}
	if progress.Progress != 55 {
		t.Errorf("expected progress 55, got %d", progress.Progress)
	}
	if progress.CurrentStep == nil || *progress.CurrentStep != "extracting entities" {
		t.Errorf("unexpected current_step: %v", progress.CurrentStep)
	}
	if got, ok := progress.Result["entities"]; !ok || got != float64(12) {
		t.Errorf("unexpected result payload: %v", progress.Result)
	}

	missing, err := reader.GetTaskProgress(ctx, "task-missing")
	if err != nil {
		t.Fatalf("GetTaskProgress for missing task failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown task, got %+v", missing)
	}
}

func TestProgressReaderListWorkflowProgress(t *testing.T) {
	db := newReaderDB(t)
	reader := NewProgressReader(db, zaptest.NewLogger(t))
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	seed := []struct {
		taskID     string
		workflowID string
		updatedAt  time.Time
	}{
		{"task-l2", "prsnl-wf-list", base.Add(2 * time.Minute)},
		{"task-l1", "prsnl-wf-list", base.Add(1 * time.Minute)},
		{"task-other", "prsnl-wf-other", base},
	}

	for _, s := range seed {
		_, err := db.Exec(`
			INSERT INTO task_progress (task_id, workflow_id, agent_type, status, progress, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			s.taskID, s.workflowID, "codebase_analysis", TaskStatusCompleted, 100, s.updatedAt,
		)
		if err != nil {
			t.Fatalf("failed to seed %s: %v", s.taskID, err)
		}
	}

	rows, err := reader.ListWorkflowProgress(ctx, "prsnl-wf-list")
	if err != nil {
		t.Fatalf("ListWorkflowProgress failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// Oldest update first.
	if rows[0].TaskID != "task-l1" || rows[1].TaskID != "task-l2" {
		t.Errorf("unexpected order: %s, %s", rows[0].TaskID, rows[1].TaskID)
	}

	empty, err := reader.ListWorkflowProgress(ctx, "prsnl-wf-none")
	if err != nil {
		t.Fatalf("ListWorkflowProgress for unknown workflow failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no rows, got %d", len(empty))
	}
}

func TestProgressReaderGetWorkflowTracking(t *testing.T) {
	db := newReaderDB(t)
	reader := NewProgressReader(db, zaptest.NewLogger(t))
	ctx := context.Background()

	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	_, err := db.Exec(`
		INSERT INTO workflow_tracking (id, workflow_name, workflow_type, workflow_config, status, execution_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), "repository_analysis", "fan_out_fan_in", `{"fan_out": 3}`,
		WorkflowStatusInitiated, "run-xyz", now, now,
	)
	if err != nil {
		t.Fatalf("failed to seed workflow tracking: %v", err)
	}

	wf, err := reader.GetWorkflowTracking(ctx, id)
	if err != nil {
		t.Fatalf("GetWorkflowTracking failed: %v", err)
	}
	if wf == nil {
		t.Fatal("expected a tracking row")
	}
	if wf.ID != id {
		t.Errorf("expected id %s, got %s", id, wf.ID)
	}
	if wf.Status != WorkflowStatusInitiated {
		t.Errorf("expected status initiated, got %s", wf.Status)
	}
	if wf.ExecutionID == nil || *wf.ExecutionID != "run-xyz" {
		t.Errorf("unexpected execution_id: %v", wf.ExecutionID)
	}
	if got, ok := wf.WorkflowConfig["fan_out"]; !ok || got != float64(3) {
		t.Errorf("unexpected workflow_config: %v", wf.WorkflowConfig)
	}

	missing, err := reader.GetWorkflowTracking(ctx, uuid.New())
	if err != nil {
		t.Fatalf("GetWorkflowTracking for unknown id failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown workflow, got %+v", missing)
	}
}

func TestProgressReaderListAgentResults(t *testing.T) {
	db := newReaderDB(t)
	reader := NewProgressReader(db, zaptest.NewLogger(t))
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	seed := []struct {
		id        string
		agentType string
		status    string
		createdAt time.Time
	}{
		{uuid.NewString(), "content_analysis", TaskStatusCompleted, base},
		{uuid.NewString(), "media_processing", TaskStatusFailed, base.Add(time.Minute)},
	}

	for _, s := range seed {
		_, err := db.Exec(`
			INSERT INTO agent_results (id, workflow_id, task_id, agent_type, status, confidence, tokens_used, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.id, "prsnl-wf-results", "task-"+s.agentType, s.agentType, s.status, 0.8, 500, s.createdAt,
		)
		if err != nil {
			t.Fatalf("failed to seed agent result: %v", err)
		}
	}

	results, err := reader.ListAgentResults(ctx, "prsnl-wf-results")
	if err != nil {
		t.Fatalf("ListAgentResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].AgentType != "content_analysis" {
		t.Errorf("expected oldest result first, got %s", results[0].AgentType)
	}
	if results[1].Status != TaskStatusFailed {
		t.Errorf("expected failed status, got %s", results[1].Status)
	}
}
