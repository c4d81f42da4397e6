package analysis

import "fmt"

// RunStatus represents the current state of an analysis run. It enables
// tracking of the run lifecycle from creation through its terminal outcome.
type RunStatus string

const (
	// RunStatusCreated indicates a run has been persisted but no job has
	// started executing yet.
	RunStatusCreated RunStatus = "CREATED"

	// RunStatusActive indicates at least one job of the run is executing.
	RunStatusActive RunStatus = "ACTIVE"

	// RunStatusFinished indicates every job of the run finished successfully.
	RunStatusFinished RunStatus = "FINISHED"

	// RunStatusFinishedWithIssues indicates the run completed but at least
	// one job reported issues.
	RunStatusFinishedWithIssues RunStatus = "FINISHED_WITH_ISSUES"

	// RunStatusFailed indicates at least one job of the run failed.
	RunStatusFailed RunStatus = "FAILED"
)

func (s RunStatus) String() string { return string(s) }

// IsTerminal reports whether the status is final. Terminal statuses are
// immutable: once reached, no further mutation for that run is accepted.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusFinished, RunStatusFinishedWithIssues, RunStatusFailed:
		return true
	default:
		return false
	}
}

// ParseRunStatus converts a string to a RunStatus, rejecting unknown input.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunStatusCreated, RunStatusActive, RunStatusFinished,
		RunStatusFinishedWithIssues, RunStatusFailed:
		return RunStatus(s), nil
	default:
		return "", fmt.Errorf("unknown run status %q", s)
	}
}

// ValidateTransition checks if a status transition is valid and returns an
// error if not.
func (s RunStatus) ValidateTransition(target RunStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid run status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the run lifecycle rules to prevent invalid
// state changes.
func (s RunStatus) isValidTransition(target RunStatus) bool {
	switch s {
	case RunStatusCreated:
		// A run with no configured stages can finish without ever becoming
		// active; a failing first dispatch can fail it directly.
		return target == RunStatusActive || target.IsTerminal()
	case RunStatusActive:
		return target.IsTerminal()
	case RunStatusFinished, RunStatusFinishedWithIssues, RunStatusFailed:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
