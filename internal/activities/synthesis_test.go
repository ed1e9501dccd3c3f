package activities

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func runSynthesis(t *testing.T, a *Activities, input SynthesisInput) SynthesisOutput {
	t.Helper()
	env := newActivityEnv(t, a)
	val, err := env.ExecuteActivity(a.SynthesizeResults, input)
	require.NoError(t, err)
	var out SynthesisOutput
	require.NoError(t, val.Get(&out))
	return out
}

func TestSynthesisToleratesPartialFailure(t *testing.T) {
	a := NewActivities(nil, nil, nil, nil, zap.NewNop())

	out := runSynthesis(t, a, SynthesisInput{
		TaskName: "fan_in",
		AgentResults: []TaskResult{
			{
				AgentID:    "content_analysis-0",
				TaskName:   TaskContentAnalysis,
				Status:     TaskStatusCompleted,
				Result:     map[string]interface{}{"summary": "good article"},
				Confidence: 0.8,
			},
			{
				AgentID:  "knowledge_graph_update-1",
				TaskName: TaskKnowledgeGraphUpdate,
				Status:   TaskStatusCompleted,
				Result:   map[string]interface{}{"summary": "two new entities"},
				// No self-reported confidence: the 0.5 default applies.
			},
			{
				AgentID:  "media_processing-2",
				TaskName: TaskMediaProcessing,
				Status:   TaskStatusFailed,
				Error:    "whisper timeout",
			},
		},
	})

	assert.Equal(t, "completed", out.Status)
	assert.NotEmpty(t, out.SynthesisID)
	assert.Equal(t, 3, out.AgentsProcessed)
	assert.Equal(t, []string{"media_processing-2"}, out.FailedAgents)
	assert.InDelta(t, 0.65, out.OverallConfidence, 1e-9)

	// No LLM configured, so the deterministic merge produced the result.
	assert.Equal(t, "deterministic_merge", out.SynthesisResult["method"])
	summary, _ := out.SynthesisResult["summary"].(string)
	assert.Contains(t, summary, "good article")
	assert.Contains(t, summary, "two new entities")
}

func TestSynthesisNoUsableInput(t *testing.T) {
	a := NewActivities(nil, nil, nil, nil, zap.NewNop())

	out := runSynthesis(t, a, SynthesisInput{
		TaskName: "fan_in",
		AgentResults: []TaskResult{
			{AgentID: "content_analysis-0", TaskName: TaskContentAnalysis, Status: TaskStatusFailed, Error: "boom"},
			{AgentID: "media_processing-1", TaskName: TaskMediaProcessing, Status: TaskStatusFailed, Error: "boom"},
		},
	})

	assert.Equal(t, "completed", out.Status)
	assert.Zero(t, out.OverallConfidence)
	assert.Equal(t, []string{"content_analysis-0", "media_processing-1"}, out.FailedAgents)
	summary, _ := out.SynthesisResult["summary"].(string)
	assert.Contains(t, summary, "no usable input")
}

func TestSynthesisEmptyInput(t *testing.T) {
	a := NewActivities(nil, nil, nil, nil, zap.NewNop())

	out := runSynthesis(t, a, SynthesisInput{TaskName: "fan_in"})

	assert.Equal(t, "completed", out.Status)
	assert.Zero(t, out.AgentsProcessed)
	assert.Zero(t, out.OverallConfidence)
	assert.Empty(t, out.FailedAgents)
	summary, _ := out.SynthesisResult["summary"].(string)
	assert.Contains(t, summary, "no usable input")
}

func TestSynthesisUsesLLMNarrative(t *testing.T) {
	client := newLLMStub(t, llmJSONResponder(map[string]interface{}{
		"summary":    "combined view across agents",
		"insights":   []string{"a", "b"},
		"confidence": 0.9,
	}, 120))
	a := NewActivities(client, nil, nil, nil, zap.NewNop())

	out := runSynthesis(t, a, SynthesisInput{
		TaskName: "fan_in",
		AgentResults: []TaskResult{
			{AgentID: "content_analysis-0", TaskName: TaskContentAnalysis, Status: TaskStatusCompleted,
				Result: map[string]interface{}{"summary": "good article"}, Confidence: 0.7},
		},
	})

	assert.Equal(t, "combined view across agents", out.SynthesisResult["summary"])
	assert.NotContains(t, out.SynthesisResult, "method")
	assert.InDelta(t, 0.7, out.OverallConfidence, 1e-9)
}

func TestSynthesisFallsBackWhenLLMDown(t *testing.T) {
	client := newLLMStub(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream busy", http.StatusBadGateway)
	})
	a := NewActivities(client, nil, nil, nil, zap.NewNop())

	out := runSynthesis(t, a, SynthesisInput{
		TaskName: "fan_in",
		AgentResults: []TaskResult{
			{AgentID: "content_analysis-0", TaskName: TaskContentAnalysis, Status: TaskStatusCompleted,
				Result: map[string]interface{}{"summary": "good article"}, Confidence: 0.7},
		},
	})

	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, "deterministic_merge", out.SynthesisResult["method"])
	agentOutputs, ok := out.SynthesisResult["agent_outputs"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, agentOutputs, "content_analysis-0")
}
