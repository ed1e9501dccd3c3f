package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/coordination"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/db"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/metrics"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/util"
)

// defaultAgentConfidence stands in for agents that completed without
// reporting their own confidence.
const defaultAgentConfidence = 0.5

// SynthesizeResults folds a complete fan-out result set into one
// consolidated output. It never fails on partial input: failed agents are
// recorded by ID and synthesis proceeds over whatever completed, down to
// the empty set, which yields zero confidence and a result stating that no
// usable input was available. The audit row and the coordination event are
// written best effort; only the returned output is load bearing for the
// workflow.
func (a *Activities) SynthesizeResults(ctx context.Context, input SynthesisInput) (SynthesisOutput, error) {
	logger := activity.GetLogger(ctx)
	synthesisID := uuid.New().String()

	completed := make([]TaskResult, 0, len(input.AgentResults))
	failedAgents := make([]string, 0)
	for _, r := range input.AgentResults {
		if r.Status == TaskStatusCompleted {
			completed = append(completed, r)
			continue
		}
		id := r.AgentID
		if id == "" {
			id = r.TaskName
		}
		failedAgents = append(failedAgents, id)
	}

	logger.Info("Synthesizing agent results",
		"synthesis_id", synthesisID,
		"task_name", input.TaskName,
		"agents_total", len(input.AgentResults),
		"agents_completed", len(completed),
		"agents_failed", len(failedAgents),
	)

	var confidence float64
	if len(completed) > 0 {
		sum := 0.0
		for _, r := range completed {
			c := r.Confidence
			if c <= 0 {
				c = defaultAgentConfidence
			}
			sum += c
		}
		confidence = sum / float64(len(completed))
	}

	synthesisResult := a.buildSynthesisResult(ctx, input, completed, failedAgents)

	out := SynthesisOutput{
		Status:            "completed",
		SynthesisID:       synthesisID,
		SynthesisResult:   synthesisResult,
		AgentsProcessed:   len(input.AgentResults),
		FailedAgents:      failedAgents,
		OverallConfidence: confidence,
	}

	a.persistSynthesis(input, out)
	a.publishSynthesisEvent(ctx, input, out)
	metrics.RecordSynthesis(out.Status, confidence, len(failedAgents))

	logger.Info("Synthesis completed",
		"synthesis_id", synthesisID,
		"overall_confidence", confidence,
		"failed_agents", len(failedAgents),
	)
	return out, nil
}

// buildSynthesisResult produces the consolidated narrative: LLM when
// reachable and there is something to narrate, deterministic merge
// otherwise.
func (a *Activities) buildSynthesisResult(ctx context.Context, input SynthesisInput, completed []TaskResult, failedAgents []string) map[string]interface{} {
	if len(completed) == 0 {
		return map[string]interface{}{
			"summary":       fmt.Sprintf("no usable input: all %d agent tasks failed", len(input.AgentResults)),
			"failed_agents": failedAgents,
		}
	}

	if result, err := a.narrateWithLLM(ctx, input, completed, failedAgents); err == nil {
		return result
	} else {
		activity.GetLogger(ctx).Warn("LLM synthesis unavailable, using deterministic merge",
			"task_name", input.TaskName,
			"error", err,
		)
	}
	return mergeResults(completed, failedAgents)
}

func (a *Activities) narrateWithLLM(ctx context.Context, input SynthesisInput, completed []TaskResult, failedAgents []string) (map[string]interface{}, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Consolidate the following %d agent results into one coherent analysis.\n\n", len(completed))
	for _, r := range completed {
		body := compactResult(r.Result)
		fmt.Fprintf(&sb, "## %s (%s)\n%s\n\n", r.AgentID, r.TaskName, body)
	}
	if len(failedAgents) > 0 {
		fmt.Fprintf(&sb, "The following agents failed and produced no output: %s. Note any resulting gaps.\n",
			strings.Join(failedAgents, ", "))
	}

	system := "You combine multiple analysis results into a single consolidated view. " +
		"Respond with a JSON object containing summary, insights, recommendations and confidence (0-1)."
	result, _, err := a.completeJSON(ctx, "synthesis", system, sb.String(), a.synthesisMaxTokens())
	return result, err
}

// mergeResults is the LLM-free fallback: per-agent summaries joined in
// input order, with the raw outputs preserved alongside.
func mergeResults(completed []TaskResult, failedAgents []string) map[string]interface{} {
	parts := make([]string, 0, len(completed))
	agentOutputs := make(map[string]interface{}, len(completed))
	for _, r := range completed {
		agentOutputs[r.AgentID] = r.Result
		if s := summaryOf(r.Result); s != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", r.TaskName, s))
		}
	}
	result := map[string]interface{}{
		"summary":       strings.Join(parts, "\n"),
		"agent_outputs": agentOutputs,
		"method":        "deterministic_merge",
	}
	if len(failedAgents) > 0 {
		result["failed_agents"] = failedAgents
	}
	return result
}

func summaryOf(result map[string]interface{}) string {
	for _, key := range []string{"summary", "analysis"} {
		if v, ok := result[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// compactResult renders one agent's output for the synthesis prompt,
// bounded so a single verbose agent cannot crowd out the rest.
func compactResult(result map[string]interface{}) string {
	b, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	const maxLen = 4000
	return util.TruncateString(string(b), maxLen, false)
}

func (a *Activities) persistSynthesis(input SynthesisInput, out SynthesisOutput) {
	if a.dbc == nil {
		a.logger.Debug("No DB client, skipping synthesis record", zap.String("synthesis_id", out.SynthesisID))
		return
	}
	record := &db.SynthesisRecord{
		ID:                uuid.New(),
		SynthesisID:       out.SynthesisID,
		TaskName:          input.TaskName,
		AgentsProcessed:   out.AgentsProcessed,
		FailedAgents:      pq.StringArray(out.FailedAgents),
		AgentResults:      resultsToRows(input.AgentResults),
		SynthesisResult:   db.JSONB(out.SynthesisResult),
		OverallConfidence: out.OverallConfidence,
		CreatedAt:         time.Now().UTC(),
	}
	if input.UserID != "" {
		if uid, err := uuid.Parse(input.UserID); err == nil {
			record.UserID = &uid
		}
	}
	if err := a.dbc.QueueWrite(db.WriteTypeSynthesis, record, nil); err != nil {
		a.logger.Error("Failed to queue synthesis record",
			zap.String("synthesis_id", out.SynthesisID),
			zap.Error(err),
		)
	}
}

func (a *Activities) publishSynthesisEvent(ctx context.Context, input SynthesisInput, out SynthesisOutput) {
	if a.coord == nil || input.RepositoryPath == "" {
		return
	}
	err := a.coord.PublishEvent(ctx, coordination.Event{
		EventType:      coordination.EventInsightGenerated,
		RepositoryPath: input.RepositoryPath,
		AnalysisID:     input.AnalysisID,
		Priority:       coordination.PriorityNormal,
		Payload: map[string]interface{}{
			"synthesis_id":       out.SynthesisID,
			"workflow_id":        input.WorkflowID,
			"task_name":          input.TaskName,
			"agents_processed":   out.AgentsProcessed,
			"failed_agents":      out.FailedAgents,
			"overall_confidence": out.OverallConfidence,
		},
	})
	if err != nil {
		activity.GetLogger(ctx).Warn("Failed to publish synthesis event",
			"synthesis_id", out.SynthesisID,
			"error", err,
		)
	}
}

// resultsToRows converts the raw per-agent results for the JSONB audit
// column via a JSON round trip.
func resultsToRows(results []TaskResult) db.JSONBSlice {
	rows := make(db.JSONBSlice, 0, len(results))
	for _, r := range results {
		b, err := json.Marshal(r)
		if err != nil {
			continue
		}
		row := map[string]interface{}{}
		if err := json.Unmarshal(b, &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
