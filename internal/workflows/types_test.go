package workflows

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkflowSpecValidate(t *testing.T) {
	cases := []struct {
		name    string
		spec    WorkflowSpec
		wantErr string
	}{
		{
			name: "valid sequential",
			spec: WorkflowSpec{
				Type:   WorkflowTypeSequential,
				Stages: []TaskSpec{{Task: "content_analysis"}, {Task: "knowledge_graph_update"}},
			},
		},
		{
			name:    "sequential without stages",
			spec:    WorkflowSpec{Type: WorkflowTypeSequential},
			wantErr: "requires stages",
		},
		{
			name: "stage without task name",
			spec: WorkflowSpec{
				Type:   WorkflowTypeSequential,
				Stages: []TaskSpec{{Task: "content_analysis"}, {}},
			},
			wantErr: "stages[1] is missing a task name",
		},
		{
			name: "valid parallel",
			spec: WorkflowSpec{
				Type:          WorkflowTypeParallel,
				ParallelTasks: []TaskSpec{{Task: "media_processing"}},
			},
		},
		{
			name:    "parallel without tasks",
			spec:    WorkflowSpec{Type: WorkflowTypeParallel},
			wantErr: "requires parallel_tasks",
		},
		{
			name: "valid fan out fan in",
			spec: WorkflowSpec{
				Type:        WorkflowTypeFanOutFanIn,
				FanOutTasks: []TaskSpec{{Task: "content_analysis"}, {Task: "media_processing"}},
				FanInTask:   &TaskSpec{Task: "daily_digest"},
			},
		},
		{
			name: "fan out without fan in task",
			spec: WorkflowSpec{
				Type:        WorkflowTypeFanOutFanIn,
				FanOutTasks: []TaskSpec{{Task: "content_analysis"}},
			},
			wantErr: "requires a named fan_in_task",
		},
		{
			name: "fan in task without a name",
			spec: WorkflowSpec{
				Type:        WorkflowTypeFanOutFanIn,
				FanOutTasks: []TaskSpec{{Task: "content_analysis"}},
				FanInTask:   &TaskSpec{},
			},
			wantErr: "requires a named fan_in_task",
		},
		{
			name: "valid hierarchy",
			spec: WorkflowSpec{
				Type: WorkflowTypeHierarchical,
				HierarchyLevels: []HierarchyLevel{
					{Type: LevelParallel, Tasks: []TaskSpec{{Task: "content_analysis"}}},
					{Type: LevelSynthesis},
				},
			},
		},
		{
			name:    "hierarchy without levels",
			spec:    WorkflowSpec{Type: WorkflowTypeHierarchical},
			wantErr: "requires hierarchy_levels",
		},
		{
			name: "synthesis before any parallel level",
			spec: WorkflowSpec{
				Type: WorkflowTypeHierarchical,
				HierarchyLevels: []HierarchyLevel{
					{Type: LevelSynthesis},
				},
			},
			wantErr: "synthesis must follow a parallel level",
		},
		{
			name: "consecutive synthesis levels",
			spec: WorkflowSpec{
				Type: WorkflowTypeHierarchical,
				HierarchyLevels: []HierarchyLevel{
					{Type: LevelParallel, Tasks: []TaskSpec{{Task: "content_analysis"}}},
					{Type: LevelSynthesis},
					{Type: LevelSynthesis},
				},
			},
			wantErr: "synthesis must follow a parallel level",
		},
		{
			name: "hierarchy level with unknown type",
			spec: WorkflowSpec{
				Type: WorkflowTypeHierarchical,
				HierarchyLevels: []HierarchyLevel{
					{Type: "recursive"},
				},
			},
			wantErr: `unknown type "recursive"`,
		},
		{
			name:    "missing type",
			spec:    WorkflowSpec{},
			wantErr: "workflow type is required",
		},
		{
			name:    "unknown type",
			spec:    WorkflowSpec{Type: "round_robin"},
			wantErr: `unknown workflow type "round_robin"`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
			require.Contains(t, err.Error(), "validation error:")
		})
	}
}
