package analysis

import "fmt"

// JobStatus represents the current state of a worker-stage job. It enables
// tracking of the job lifecycle from creation through completion or failure.
type JobStatus string

const (
	// JobStatusCreated indicates a job has been persisted but not yet
	// dispatched to its worker endpoint.
	JobStatusCreated JobStatus = "CREATED"

	// JobStatusScheduled indicates a dispatch message for the job has been
	// published to the worker endpoint.
	JobStatusScheduled JobStatus = "SCHEDULED"

	// JobStatusRunning indicates a worker reported that it started
	// executing the job.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusFinished indicates the job finished successfully.
	JobStatusFinished JobStatus = "FINISHED"

	// JobStatusFinishedWithIssues indicates the job finished but reported
	// issues.
	JobStatusFinishedWithIssues JobStatus = "FINISHED_WITH_ISSUES"

	// JobStatusFailed indicates the job encountered an unrecoverable error
	// or was abandoned by its worker.
	JobStatusFailed JobStatus = "FAILED"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusFinished, JobStatusFinishedWithIssues, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsCompleted reports whether the job reached a terminal, non-failing status.
// Downstream stages become dispatchable only once all their upstream jobs
// are completed in this sense.
func (s JobStatus) IsCompleted() bool {
	return s == JobStatusFinished || s == JobStatusFinishedWithIssues
}

// ParseJobStatus converts a string to a JobStatus, rejecting unknown input.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobStatusCreated, JobStatusScheduled, JobStatusRunning,
		JobStatusFinished, JobStatusFinishedWithIssues, JobStatusFailed:
		return JobStatus(s), nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// ValidateTransition checks if a status transition is valid and returns an
// error if not.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the job lifecycle rules to prevent invalid
// state changes.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusCreated:
		return target == JobStatusScheduled || target == JobStatusFailed
	case JobStatusScheduled:
		// A worker can report an outcome without a separate start report, so
		// terminal targets are reachable directly from SCHEDULED.
		return target == JobStatusRunning || target.IsTerminal()
	case JobStatusRunning:
		return target.IsTerminal()
	case JobStatusFinished, JobStatusFinishedWithIssues, JobStatusFailed:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
