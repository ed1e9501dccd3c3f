// Command replay checks a recorded workflow history against the current
// coordinator workflow code. Run it before deploying a change to
// CoordinatorWorkflow: any non-determinism between the history and the code
// fails the replay, which on a live deployment would mean stuck executions.
//
// Export a history with:
//
//	temporal workflow show --workflow-id prsnl-wf-<id> --output json > history.json
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.temporal.io/sdk/worker"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/workflows"
)

func main() {
	historyPath := flag.String("history", "", "Path to Temporal workflow history JSON")
	flag.Parse()

	if *historyPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -history /path/to/history.json")
		os.Exit(2)
	}

	replayer := worker.NewWorkflowReplayer()
	replayer.RegisterWorkflow(workflows.CoordinatorWorkflow)

	if err := replayer.ReplayWorkflowHistoryFromJSONFile(nil, *historyPath); err != nil {
		log.Fatalf("Replay failed (non-deterministic change or invalid history): %v", err)
	}

	log.Printf("Replay succeeded for %s", *historyPath)
}
