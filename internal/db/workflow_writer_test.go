package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

func TestSaveWorkflowTrackingDefaults(t *testing.T) {
	client, mock := newBareClient(t, 0)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO workflow_tracking").
		WillReturnResult(sqlmock.NewResult(0, 1))

	wf := &WorkflowTracking{
		WorkflowName: "repository_analysis",
		WorkflowType: "parallel",
		WorkflowConfig: JSONB{
			"parallel_tasks": []interface{}{"content_analysis", "knowledge_graph"},
		},
	}

	if err := client.SaveWorkflowTracking(ctx, wf); err != nil {
		t.Fatalf("SaveWorkflowTracking failed: %v", err)
	}

	if wf.ID == uuid.Nil {
		t.Error("expected a generated tracking id")
	}
	if wf.Status != WorkflowStatusCreated {
		t.Errorf("expected status %q, got %q", WorkflowStatusCreated, wf.Status)
	}
	if wf.CreatedAt.IsZero() || wf.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be populated")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarkWorkflowInitiated(t *testing.T) {
	client, mock := newBareClient(t, 0)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectExec("UPDATE workflow_tracking").
		WithArgs(id, WorkflowStatusInitiated, "run-abc123", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := client.MarkWorkflowInitiated(ctx, id, "run-abc123"); err != nil {
		t.Fatalf("MarkWorkflowInitiated failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpdateWorkflowStatusMissingRow(t *testing.T) {
	client, mock := newBareClient(t, 0)
	ctx := context.Background()

	mock.ExpectExec("UPDATE workflow_tracking").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := client.UpdateWorkflowStatus(ctx, uuid.New(), WorkflowStatusCompleted)
	if err == nil {
		t.Fatal("expected error for missing tracking row")
	}
}

func TestUpsertTaskProgressRequiresTaskID(t *testing.T) {
	client, _ := newBareClient(t, 0)

	err := client.UpsertTaskProgress(context.Background(), &TaskProgress{
		AgentType: "content_analysis",
		Status:    TaskStatusRunning,
	})
	if err == nil {
		t.Fatal("expected error for empty task_id")
	}
}

func TestUpsertTaskProgressConflictClause(t *testing.T) {
	client, mock := newBareClient(t, 0)
	ctx := context.Background()

	mock.ExpectExec(`ON CONFLICT \(task_id\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	step := "chunking transcript"
	err := client.UpsertTaskProgress(ctx, &TaskProgress{
		TaskID:      "task-upsert-1",
		AgentType:   "media_processing",
		Status:      TaskStatusRunning,
		Progress:    65,
		CurrentStep: &step,
	})
	if err != nil {
		t.Fatalf("UpsertTaskProgress failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestBatchUpsertTaskProgressRunsInTransaction(t *testing.T) {
	client, mock := newBareClient(t, 0)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(task_id\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`ON CONFLICT \(task_id\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows := []*TaskProgress{
		{TaskID: "task-b1", AgentType: "content_analysis", Status: TaskStatusRunning, Progress: 10},
		{TaskID: "task-b2", AgentType: "knowledge_graph", Status: TaskStatusCompleted, Progress: 100},
	}

	if err := client.BatchUpsertTaskProgress(ctx, rows); err != nil {
		t.Fatalf("BatchUpsertTaskProgress failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestBatchSaveAgentResultsSingleStatement(t *testing.T) {
	client, mock := newBareClient(t, 0)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO agent_results").
		WillReturnResult(sqlmock.NewResult(0, 2))

	results := []*AgentResult{
		{
			WorkflowID: "prsnl-wf-batch",
			TaskID:     "task-1",
			AgentType:  "content_analysis",
			Status:     TaskStatusCompleted,
			Confidence: 0.9,
			TokensUsed: 1200,
		},
		{
			WorkflowID: "prsnl-wf-batch",
			TaskID:     "task-2",
			AgentType:  "media_processing",
			Status:     TaskStatusFailed,
		},
	}

	if err := client.BatchSaveAgentResults(ctx, results); err != nil {
		t.Fatalf("BatchSaveAgentResults failed: %v", err)
	}

	for i, r := range results {
		if r.ID == uuid.Nil {
			t.Errorf("result %d: expected generated id", i)
		}
		if r.CreatedAt.IsZero() {
			t.Errorf("result %d: expected created_at to be set", i)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSaveSynthesisRecordIdempotent(t *testing.T) {
	client, mock := newBareClient(t, 0)
	ctx := context.Background()

	// Conflict on synthesis_id affects zero rows; the save still succeeds.
	mock.ExpectExec(`ON CONFLICT \(synthesis_id\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := &SynthesisRecord{
		SynthesisID:     "synth-1234",
		TaskName:        "repository_analysis",
		AgentsProcessed: 3,
		FailedAgents:    pq.StringArray{"media_processing"},
		AgentResults: JSONBSlice{
			{"agent_id": "content_analysis", "status": "completed"},
			{"agent_id": "knowledge_graph", "status": "completed"},
			{"agent_id": "media_processing", "status": "failed"},
		},
		SynthesisResult:   JSONB{"summary": "partial synthesis"},
		OverallConfidence: 0.75,
	}

	if err := client.SaveSynthesisRecord(ctx, rec); err != nil {
		t.Fatalf("SaveSynthesisRecord failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetWorkflowTrackingNotFound(t *testing.T) {
	client, mock := newBareClient(t, 0)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM workflow_tracking").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "workflow_name", "workflow_type", "workflow_config",
			"status", "execution_id", "created_at", "updated_at",
		}))

	wf, err := client.GetWorkflowTracking(ctx, uuid.New())
	if err != nil {
		t.Fatalf("GetWorkflowTracking failed: %v", err)
	}
	if wf != nil {
		t.Errorf("expected nil for missing row, got %+v", wf)
	}
}
