package analysis

import (
	"encoding/json"
	"time"

	"github.com/complyforge/complyforge/internal/domain/events"
)

// Event types carried in envelopes, forming the tagged payload union over
// command types and event types.
const (
	// EventTypeCreateRun is the command asking the orchestrator to create
	// and start a new run.
	EventTypeCreateRun events.EventType = "CreateRunRequested"

	// EventTypeJobDispatch is the command sent to a worker endpoint to
	// execute a scheduled job.
	EventTypeJobDispatch events.EventType = "JobDispatchRequested"

	// EventTypeJobStarted is the event a worker emits once it begins
	// executing a job.
	EventTypeJobStarted events.EventType = "JobStarted"

	// EventTypeJobOutcome is the event a worker (or the stale-job monitor)
	// emits once a job reached a terminal outcome.
	EventTypeJobOutcome events.EventType = "JobOutcomeReported"
)

// CreateRunCommand asks the orchestrator to create a run for a repository
// revision and dispatch its first stage.
type CreateRunCommand struct {
	RepositoryID int64             `json:"repositoryId"`
	Revision     string            `json:"revision"`
	Path         string            `json:"path,omitempty"`
	Config       JobConfigs        `json:"config"`
	Labels       map[string]string `json:"labels,omitempty"`
	TraceID      string            `json:"traceId"`
	RequestedAt  time.Time         `json:"requestedAt"`
}

// EventType identifies the payload variant of this command.
func (c CreateRunCommand) EventType() events.EventType { return EventTypeCreateRun }

// OccurredAt returns when the command was issued.
func (c CreateRunCommand) OccurredAt() time.Time { return c.RequestedAt }

// JobDispatchCommand tells a worker to execute a job. The stage-specific
// configuration travels with the command so workers need no registry access
// to begin work.
type JobDispatchCommand struct {
	JobID        int64           `json:"jobId"`
	RunID        int64           `json:"runId"`
	Kind         WorkerKind      `json:"kind"`
	Config       json.RawMessage `json:"config,omitempty"`
	DispatchedAt time.Time       `json:"dispatchedAt"`
}

// EventType identifies the payload variant of this command.
func (c JobDispatchCommand) EventType() events.EventType { return EventTypeJobDispatch }

// OccurredAt returns when the dispatch was issued.
func (c JobDispatchCommand) OccurredAt() time.Time { return c.DispatchedAt }

// JobStartedEvent reports that a worker began executing a job.
type JobStartedEvent struct {
	JobID     int64      `json:"jobId"`
	RunID     int64      `json:"runId"`
	Kind      WorkerKind `json:"kind"`
	StartedAt time.Time  `json:"startedAt"`
}

// EventType identifies the payload variant of this event.
func (e JobStartedEvent) EventType() events.EventType { return EventTypeJobStarted }

// OccurredAt returns when the worker started the job.
func (e JobStartedEvent) OccurredAt() time.Time { return e.StartedAt }

// JobOutcomeEvent reports the terminal outcome of a job. The monitor
// synthesizes the same event for abandoned jobs, so the orchestrator cannot
// distinguish a detected timeout from a genuinely reported failure.
type JobOutcomeEvent struct {
	JobID      int64      `json:"jobId"`
	RunID      int64      `json:"runId"`
	Kind       WorkerKind `json:"kind"`
	Outcome    ResultKind `json:"outcome"`
	Reason     string     `json:"reason,omitempty"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// EventType identifies the payload variant of this event.
func (e JobOutcomeEvent) EventType() events.EventType { return EventTypeJobOutcome }

// OccurredAt returns when the job finished.
func (e JobOutcomeEvent) OccurredAt() time.Time { return e.FinishedAt }

// Result reconstructs the RunResult value carried by this event.
func (e JobOutcomeEvent) Result() RunResult {
	switch e.Outcome {
	case ResultSuccess:
		return Success()
	case ResultFinishedWithIssues:
		return FinishedWithIssues()
	case ResultIgnored:
		return Ignored()
	default:
		return Failedf("%s", e.Reason)
	}
}

// NewJobOutcomeEvent builds the outcome event for a job from a RunResult
// value.
func NewJobOutcomeEvent(jobID, runID int64, kind WorkerKind, result RunResult, finishedAt time.Time) JobOutcomeEvent {
	evt := JobOutcomeEvent{
		JobID:      jobID,
		RunID:      runID,
		Kind:       kind,
		Outcome:    result.Kind(),
		FinishedAt: finishedAt,
	}
	if cause := result.Cause(); cause != nil {
		evt.Reason = cause.Error()
	}
	return evt
}
