// Package analysis contains the domain model for the run orchestration core:
// runs, per-stage jobs, their state machines, worker-reported outcomes, and
// the repository ports through which state is persisted.
package analysis

import "time"

// Run is one unit of analysis work for a repository revision. It is created
// by the orchestrator's creation entry point and mutated only by the
// orchestrator as jobs complete.
type Run struct {
	// ID is the opaque identifier assigned by the run registry.
	ID int64

	// RepositoryID identifies the repository being analyzed.
	RepositoryID int64

	// Index is a per-repository strictly increasing sequence number
	// assigned atomically at creation.
	Index int64

	// Revision is the VCS revision to analyze.
	Revision string

	// Path is the source path within the repository, if restricted.
	Path string

	// Config is the opaque job-configuration blob with stage-specific
	// settings. The core only checks which stages are present.
	Config JobConfigs

	// TraceID correlates every message belonging to this run.
	TraceID string

	// Labels is a free-form label map attached by the caller.
	Labels map[string]string

	// Status tracks the run through its state machine.
	Status RunStatus

	CreatedAt  time.Time
	FinishedAt *time.Time
}

// Job is one worker-stage's unit of work within a run. At most one job
// exists per (run, worker kind). Workers never mutate jobs directly; they
// only emit outcome events the orchestrator reacts to.
type Job struct {
	// ID is the opaque identifier assigned by the job registry.
	ID int64

	// RunID identifies the run this job belongs to.
	RunID int64

	// Kind is the worker stage this job is executed by.
	Kind WorkerKind

	// Config is the opaque stage-specific configuration passed to the
	// worker.
	Config []byte

	// Status tracks the job through its state machine.
	Status JobStatus

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}
