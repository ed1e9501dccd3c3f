// Package workflows implements the coordination patterns the worker
// executes on Temporal: sequential chains, bounded parallel batches,
// fan-out/fan-in with synthesis, and hierarchical levels, all funneled
// through one router workflow. Retries are owned here, not by the Temporal
// server: every agent task runs with a single server-side attempt and the
// retry loop consults the worker's retry manager between attempts.
package workflows

import (
	"fmt"
	"time"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/activities"
)

// Workflow pattern types accepted by the router.
const (
	WorkflowTypeSequential   = "sequential"
	WorkflowTypeParallel     = "parallel"
	WorkflowTypeFanOutFanIn  = "fan_out_fan_in"
	WorkflowTypeHierarchical = "hierarchical"
)

// Hierarchy level types.
const (
	LevelParallel  = "parallel"
	LevelSynthesis = "synthesis"
)

// defaultMaxConcurrency bounds parallel batches when the caller does not
// choose a limit.
const defaultMaxConcurrency = 5

// TaskSpec is one task entry in a workflow spec.
type TaskSpec struct {
	Task   string                 `json:"task"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// HierarchyLevel is one level of a hierarchical workflow: either a
// parallel batch of tasks or a synthesis step over the preceding batch.
type HierarchyLevel struct {
	Type  string     `json:"type"`
	Tasks []TaskSpec `json:"tasks,omitempty"`
	Task  *TaskSpec  `json:"task,omitempty"`
}

// WorkflowSpec is the caller-supplied description of a task graph. It is
// translated to one Temporal execution and then discarded; the durable
// record is the workflow tracking row.
type WorkflowSpec struct {
	Type            string           `json:"type"`
	Name            string           `json:"name,omitempty"`
	Stages          []TaskSpec       `json:"stages,omitempty"`
	ParallelTasks   []TaskSpec       `json:"parallel_tasks,omitempty"`
	FanOutTasks     []TaskSpec       `json:"fan_out_tasks,omitempty"`
	FanInTask       *TaskSpec        `json:"fan_in_task,omitempty"`
	HierarchyLevels []HierarchyLevel `json:"hierarchy_levels,omitempty"`
}

// Validate checks the spec shape for its declared type. The same check
// runs at submission time in the API and again inside the router, where a
// failure is terminal rather than retryable.
func (s *WorkflowSpec) Validate() error {
	switch s.Type {
	case WorkflowTypeSequential:
		if len(s.Stages) == 0 {
			return fmt.Errorf("validation error: sequential workflow requires stages")
		}
		return validateTasks(s.Stages, "stages")
	case WorkflowTypeParallel:
		if len(s.ParallelTasks) == 0 {
			return fmt.Errorf("validation error: parallel workflow requires parallel_tasks")
		}
		return validateTasks(s.ParallelTasks, "parallel_tasks")
	case WorkflowTypeFanOutFanIn:
		if len(s.FanOutTasks) == 0 {
			return fmt.Errorf("validation error: fan_out_fan_in workflow requires fan_out_tasks")
		}
		if err := validateTasks(s.FanOutTasks, "fan_out_tasks"); err != nil {
			return err
		}
		if s.FanInTask == nil || s.FanInTask.Task == "" {
			return fmt.Errorf("validation error: fan_out_fan_in workflow requires a named fan_in_task")
		}
		return nil
	case WorkflowTypeHierarchical:
		return validateHierarchy(s.HierarchyLevels)
	case "":
		return fmt.Errorf("validation error: workflow type is required")
	default:
		return fmt.Errorf("validation error: unknown workflow type %q", s.Type)
	}
}

func validateTasks(tasks []TaskSpec, field string) error {
	for i, t := range tasks {
		if t.Task == "" {
			return fmt.Errorf("validation error: %s[%d] is missing a task name", field, i)
		}
	}
	return nil
}

func validateHierarchy(levels []HierarchyLevel) error {
	if len(levels) == 0 {
		return fmt.Errorf("validation error: hierarchical workflow requires hierarchy_levels")
	}
	prevParallel := false
	for i, level := range levels {
		switch level.Type {
		case LevelParallel:
			if len(level.Tasks) == 0 {
				return fmt.Errorf("validation error: hierarchy_levels[%d] has no tasks", i)
			}
			if err := validateTasks(level.Tasks, fmt.Sprintf("hierarchy_levels[%d].tasks", i)); err != nil {
				return err
			}
			prevParallel = true
		case LevelSynthesis:
			// Synthesis consumes the immediately preceding parallel level.
			if !prevParallel {
				return fmt.Errorf("validation error: hierarchy_levels[%d] synthesis must follow a parallel level", i)
			}
			prevParallel = false
		default:
			return fmt.Errorf("validation error: hierarchy_levels[%d] has unknown type %q", i, level.Type)
		}
	}
	return nil
}

// WorkflowInput is the router's argument. WorkflowID is the tracking row
// UUID, not the Temporal execution ID; DB rows key off it.
type WorkflowInput struct {
	WorkflowID     string       `json:"workflow_id"`
	UserID         string       `json:"user_id,omitempty"`
	Spec           WorkflowSpec `json:"spec"`
	RepositoryPath string       `json:"repository_path,omitempty"`
	AnalysisID     string       `json:"analysis_id,omitempty"`
	MaxConcurrency int          `json:"max_concurrency,omitempty"`
}

// WorkflowOutput is the router's result. Results hold every task's
// terminal outcome in submission order; FailedTasks lists the agent IDs
// that ended failed; Synthesis is set for patterns that run a fan-in.
type WorkflowOutput struct {
	WorkflowID   string                      `json:"workflow_id"`
	WorkflowType string                      `json:"workflow_type"`
	Results      []activities.TaskResult     `json:"results"`
	FailedTasks  []string                    `json:"failed_tasks,omitempty"`
	Synthesis    *activities.SynthesisOutput `json:"synthesis,omitempty"`
	CompletedAt  time.Time                   `json:"completed_at"`
}
