package analysis

import "fmt"

// ResultKind discriminates the variants of a RunResult.
type ResultKind string

const (
	// ResultSuccess indicates the unit of work completed without issues.
	ResultSuccess ResultKind = "SUCCESS"

	// ResultFinishedWithIssues indicates the unit of work completed but
	// found issues worth surfacing.
	ResultFinishedWithIssues ResultKind = "FINISHED_WITH_ISSUES"

	// ResultIgnored indicates the unit of work was recognized as a
	// duplicate, stale, or post-terminal event and deliberately dropped.
	// It is not an error to the caller.
	ResultIgnored ResultKind = "IGNORED"

	// ResultFailed indicates the unit of work failed with a cause.
	ResultFailed ResultKind = "FAILED"
)

// RunResult is the tagged value returned by any unit of work in the core.
// Domain outcomes are always represented as values, never as panics, so
// control flow stays a total function of current state plus incoming event.
type RunResult struct {
	kind  ResultKind
	cause error
}

// Success returns a RunResult for a unit of work that completed cleanly.
func Success() RunResult { return RunResult{kind: ResultSuccess} }

// FinishedWithIssues returns a RunResult for a unit of work that completed
// but reported issues.
func FinishedWithIssues() RunResult { return RunResult{kind: ResultFinishedWithIssues} }

// Ignored returns a RunResult for an event that was recognized and dropped.
func Ignored() RunResult { return RunResult{kind: ResultIgnored} }

// Failed returns a RunResult carrying the failure cause.
func Failed(cause error) RunResult { return RunResult{kind: ResultFailed, cause: cause} }

// Failedf returns a failed RunResult with a formatted cause.
func Failedf(format string, args ...any) RunResult {
	return RunResult{kind: ResultFailed, cause: fmt.Errorf(format, args...)}
}

// Kind returns the variant of this result.
func (r RunResult) Kind() ResultKind { return r.kind }

// IsFailure reports whether the result is the Failed variant.
func (r RunResult) IsFailure() bool { return r.kind == ResultFailed }

// IsIgnored reports whether the result is the Ignored variant.
func (r RunResult) IsIgnored() bool { return r.kind == ResultIgnored }

// Cause returns the failure cause, or nil for non-failed variants.
func (r RunResult) Cause() error { return r.cause }

func (r RunResult) String() string {
	if r.kind == ResultFailed && r.cause != nil {
		return fmt.Sprintf("%s: %v", r.kind, r.cause)
	}
	return string(r.kind)
}

// JobStatus maps a worker-reported outcome to the terminal job status it
// implies. Ignored has no job status; it returns the empty status.
func (r RunResult) JobStatus() JobStatus {
	switch r.kind {
	case ResultSuccess:
		return JobStatusFinished
	case ResultFinishedWithIssues:
		return JobStatusFinishedWithIssues
	case ResultFailed:
		return JobStatusFailed
	default:
		return ""
	}
}
