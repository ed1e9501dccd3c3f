package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/llm"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/metrics"
)

// handlerOutput is what a task handler produces on success.
type handlerOutput struct {
	Result     map[string]interface{}
	Confidence float64
	TokensUsed int
}

// taskHandler builds the prompt for one task family and interprets the
// model's answer. Handlers return transport and service errors unwrapped
// so the retry classifier sees the original message.
type taskHandler func(ctx context.Context, input AgentTaskInput) (handlerOutput, error)

// ExecuteAgentTask runs a single attempt of one agent task. Retries are
// owned by the calling workflow, so the activity itself never retries:
// it either returns a completed TaskResult or the attempt's error.
func (a *Activities) ExecuteAgentTask(ctx context.Context, input AgentTaskInput) (TaskResult, error) {
	logger := activity.GetLogger(ctx)
	agentType := AgentTypeForTask(input.TaskName)
	start := time.Now()

	logger.Info("Executing agent task",
		"agent_id", input.AgentID,
		"task_name", input.TaskName,
		"attempt", input.AttemptNumber,
	)

	handler, ok := a.handlers[input.TaskName]
	if !ok {
		metrics.RecordTaskExecution(agentType, TaskStatusFailed, 0, 0)
		return TaskResult{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("validation error: unknown task name %q", input.TaskName),
			"ValidationError", nil,
		)
	}

	activity.RecordHeartbeat(ctx, fmt.Sprintf("dispatching %s", input.TaskName))

	out, err := handler(ctx, input)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		metrics.RecordTaskExecution(agentType, TaskStatusFailed, float64(durationMs), out.TokensUsed)
		logger.Warn("Agent task attempt failed",
			"agent_id", input.AgentID,
			"task_name", input.TaskName,
			"attempt", input.AttemptNumber,
			"duration_ms", durationMs,
			"error", err,
		)
		return TaskResult{}, err
	}

	metrics.RecordTaskExecution(agentType, TaskStatusCompleted, float64(durationMs), out.TokensUsed)
	logger.Info("Agent task completed",
		"agent_id", input.AgentID,
		"task_name", input.TaskName,
		"duration_ms", durationMs,
		"tokens_used", out.TokensUsed,
	)

	return TaskResult{
		AgentID:    input.AgentID,
		TaskName:   input.TaskName,
		Status:     TaskStatusCompleted,
		Result:     out.Result,
		Confidence: out.Confidence,
		TokensUsed: out.TokensUsed,
		DurationMs: durationMs,
	}, nil
}

// completeJSON sends one prompt pair to the LLM service and decodes the
// JSON object it returns. A heartbeat is recorded before the call because
// completions routinely take tens of seconds.
func (a *Activities) completeJSON(ctx context.Context, taskName, system, prompt string, maxTokens int) (map[string]interface{}, int, error) {
	if a.llm == nil {
		return nil, 0, fmt.Errorf("llm service unavailable: no client configured")
	}

	activity.RecordHeartbeat(ctx, fmt.Sprintf("llm call: %s", taskName))

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:         prompt,
		SystemPrompt:   system,
		Temperature:    0.3,
		MaxTokens:      maxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, 0, err
	}

	parsed := map[string]interface{}{}
	if jerr := json.Unmarshal([]byte(resp.Content), &parsed); jerr != nil {
		// Model ignored the format request; keep the raw narrative.
		parsed = map[string]interface{}{"analysis": strings.TrimSpace(resp.Content)}
	}
	return parsed, resp.TokensUsed, nil
}

// confidenceFrom pulls the model's self-reported confidence out of a
// parsed result, zero when absent so downstream defaults apply.
func confidenceFrom(result map[string]interface{}) float64 {
	if v, ok := result["confidence"]; ok {
		if f, ok := v.(float64); ok && f >= 0 && f <= 1 {
			return f
		}
	}
	return 0
}

func stringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// compactJSONParam renders a structured parameter for prompt embedding,
// empty string when the key is missing.
func compactJSONParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func (a *Activities) handleContentAnalysis(ctx context.Context, input AgentTaskInput) (handlerOutput, error) {
	content := stringParam(input.Params, "content")
	if content == "" {
		content = stringParam(input.Params, "url")
	}
	if content == "" {
		return handlerOutput{}, fmt.Errorf("validation error: content_analysis missing required parameter content or url")
	}

	system := "You are a content analyst for a personal knowledge base. " +
		"Respond with a JSON object containing summary, category, tags, sentiment, key_points and confidence (0-1)."
	prompt := fmt.Sprintf("Analyze the following content:\n\n%s", content)
	if tags := compactJSONParam(input.Params, "existing_tags"); tags != "" {
		prompt += fmt.Sprintf("\n\nExisting tags to consider: %s", tags)
	}

	result, tokens, err := a.completeJSON(ctx, input.TaskName, system, prompt, 1200)
	if err != nil {
		return handlerOutput{}, err
	}
	return handlerOutput{Result: result, Confidence: confidenceFrom(result), TokensUsed: tokens}, nil
}

func (a *Activities) handleConversationIntelligence(ctx context.Context, input AgentTaskInput) (handlerOutput, error) {
	conversation := compactJSONParam(input.Params, "messages")
	if conversation == "" {
		conversation = stringParam(input.Params, "conversation")
	}
	if conversation == "" {
		return handlerOutput{}, fmt.Errorf("validation error: conversation_intelligence missing required parameter messages or conversation")
	}

	system := "You extract intelligence from saved conversations. " +
		"Respond with a JSON object containing summary, intent, topics, action_items, sentiment and confidence (0-1)."
	prompt := fmt.Sprintf("Analyze this conversation:\n\n%s", conversation)

	result, tokens, err := a.completeJSON(ctx, input.TaskName, system, prompt, 1200)
	if err != nil {
		return handlerOutput{}, err
	}
	return handlerOutput{Result: result, Confidence: confidenceFrom(result), TokensUsed: tokens}, nil
}

func (a *Activities) handleMediaProcessing(ctx context.Context, input AgentTaskInput) (handlerOutput, error) {
	transcript := stringParam(input.Params, "transcript")
	if transcript == "" {
		transcript = stringParam(input.Params, "ocr_text")
	}
	if transcript == "" {
		return handlerOutput{}, fmt.Errorf("validation error: media_processing missing required parameter transcript or ocr_text")
	}

	system := "You process transcripts and OCR text extracted from media. " +
		"Respond with a JSON object containing summary, entities, language, quality_notes and confidence (0-1)."
	prompt := fmt.Sprintf("Process the following extracted text:\n\n%s", transcript)
	if mediaURL := stringParam(input.Params, "media_url"); mediaURL != "" {
		prompt += fmt.Sprintf("\n\nSource media: %s", mediaURL)
	}

	result, tokens, err := a.completeJSON(ctx, input.TaskName, system, prompt, 1500)
	if err != nil {
		return handlerOutput{}, err
	}
	return handlerOutput{Result: result, Confidence: confidenceFrom(result), TokensUsed: tokens}, nil
}

// handleKnowledgeGraph serves both knowledge_graph_update and
// knowledge_graph_enrichment; the mode is threaded into the prompt.
func (a *Activities) handleKnowledgeGraph(ctx context.Context, input AgentTaskInput) (handlerOutput, error) {
	content := stringParam(input.Params, "content")
	entities := compactJSONParam(input.Params, "entities")
	if content == "" && entities == "" {
		return handlerOutput{}, fmt.Errorf("validation error: %s missing required parameter content or entities", input.TaskName)
	}

	system := "You maintain a personal knowledge graph. " +
		"Respond with a JSON object containing entities (name, type), relationships (from, to, relation) and confidence (0-1)."
	var sb strings.Builder
	if input.TaskName == TaskKnowledgeGraphEnrichment {
		sb.WriteString("Enrich the existing graph entities with new relationships.\n\n")
	} else {
		sb.WriteString("Extract entities and relationships for the knowledge graph.\n\n")
	}
	if content != "" {
		fmt.Fprintf(&sb, "Content:\n%s\n\n", content)
	}
	if entities != "" {
		fmt.Fprintf(&sb, "Known entities: %s\n", entities)
	}

	result, tokens, err := a.completeJSON(ctx, input.TaskName, system, sb.String(), 1500)
	if err != nil {
		return handlerOutput{}, err
	}
	return handlerOutput{Result: result, Confidence: confidenceFrom(result), TokensUsed: tokens}, nil
}

func (a *Activities) handleCodebaseAnalysis(ctx context.Context, input AgentTaskInput) (handlerOutput, error) {
	repoPath := stringParam(input.Params, "repository_path")
	if repoPath == "" {
		repoPath = input.RepositoryPath
	}
	if repoPath == "" {
		return handlerOutput{}, fmt.Errorf("validation error: codebase_analysis missing required parameter repository_path")
	}

	system := "You analyze codebases for a developer knowledge base. " +
		"Respond with a JSON object containing architecture, technologies, insights, risks and confidence (0-1)."
	prompt := fmt.Sprintf("Analyze the repository at %s.", repoPath)
	if files := compactJSONParam(input.Params, "files"); files != "" {
		prompt += fmt.Sprintf("\n\nFile summaries: %s", files)
	}
	if readme := stringParam(input.Params, "readme"); readme != "" {
		prompt += fmt.Sprintf("\n\nREADME:\n%s", readme)
	}

	result, tokens, err := a.completeJSON(ctx, input.TaskName, system, prompt, 1500)
	if err != nil {
		return handlerOutput{}, err
	}
	return handlerOutput{Result: result, Confidence: confidenceFrom(result), TokensUsed: tokens}, nil
}
