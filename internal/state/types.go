package state

import (
	"errors"
	"time"
)

var (
	// ErrStateNotFound is returned when no analysis state exists for the key
	ErrStateNotFound = errors.New("analysis state not found")

	// ErrInvalidState is returned when state data is invalid
	ErrInvalidState = errors.New("invalid analysis state")
)

// Analysis lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// AnalysisState is the shared record that the CLI and web processes
// rendezvous around. Last-write-wins: whichever process updates last owns
// the stored value, there is no optimistic locking.
type AnalysisState struct {
	AnalysisID        string                 `json:"analysis_id"`
	RepositoryPath    string                 `json:"repository_path"`
	Status            string                 `json:"status"`
	Progress          int                    `json:"progress"`
	CurrentPhase      string                 `json:"current_phase,omitempty"`
	CLIToolsRunning   []string               `json:"cli_tools_running"`
	CLIToolsCompleted []string               `json:"cli_tools_completed"`
	Results           map[string]interface{} `json:"results,omitempty"`
	ErrorMessage      string                 `json:"error_message,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// IsTerminal reports whether the analysis has finished, successfully or not.
func (s *AnalysisState) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// MarkToolStarted records a CLI tool as running, keeping the slices
// duplicate-free.
func (s *AnalysisState) MarkToolStarted(tool string) {
	for _, t := range s.CLIToolsRunning {
		if t == tool {
			return
		}
	}
	s.CLIToolsRunning = append(s.CLIToolsRunning, tool)
}

// MarkToolCompleted moves a CLI tool from running to completed.
func (s *AnalysisState) MarkToolCompleted(tool string) {
	running := s.CLIToolsRunning[:0]
	for _, t := range s.CLIToolsRunning {
		if t != tool {
			running = append(running, t)
		}
	}
	s.CLIToolsRunning = running

	for _, t := range s.CLIToolsCompleted {
		if t == tool {
			return
		}
	}
	s.CLIToolsCompleted = append(s.CLIToolsCompleted, tool)
}
