package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/activities"
)

// runHierarchical walks the declared levels in order. Parallel levels run
// as bounded batches; synthesis levels consolidate the most recent batch.
// A later parallel level starts regardless of failures in earlier ones,
// so a single bad agent never stalls the rest of the tree.
func runHierarchical(ctx workflow.Context, input WorkflowInput) ([]activities.TaskResult, *activities.SynthesisOutput, error) {
	logger := workflow.GetLogger(ctx)

	var all []activities.TaskResult
	var lastBatch []activities.TaskResult
	var lastSynthesis *activities.SynthesisOutput

	for li, level := range input.Spec.HierarchyLevels {
		switch level.Type {
		case LevelParallel:
			logger.Info("Hierarchy level starting",
				"level", li,
				"level_type", LevelParallel,
				"num_tasks", len(level.Tasks),
			)
			batch := runParallel(ctx, input, level.Tasks, fmt.Sprintf("level%d-", li))
			all = append(all, batch...)
			lastBatch = batch

		case LevelSynthesis:
			logger.Info("Hierarchy level starting",
				"level", li,
				"level_type", LevelSynthesis,
				"batch_size", len(lastBatch),
			)
			synthesis, err := synthesize(ctx, input, level.Task, lastBatch)
			if err != nil {
				return all, lastSynthesis, fmt.Errorf("level %d: %w", li, err)
			}
			lastSynthesis = synthesis
		}
	}

	return all, lastSynthesis, nil
}
