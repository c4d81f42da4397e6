package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors returned by the registries.
var (
	// ErrRunNotFound indicates no run exists with the requested identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrJobNotFound indicates no job exists with the requested identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob indicates a job already exists for the (run, worker
	// kind) pair. At most one job per run and kind is permitted.
	ErrDuplicateJob = errors.New("job already exists for run and worker kind")
)

// NewRun carries the caller-supplied attributes for run creation.
type NewRun struct {
	RepositoryID int64
	Revision     string
	Path         string
	Config       JobConfigs
	Labels       map[string]string
	TraceID      string
}

// RunRepository is the persistence port for runs. Implementations are the
// single source of truth for run state and are treated as externally
// synchronized (transactional) stores.
type RunRepository interface {
	// Create persists a new run in status CREATED with an atomically
	// assigned per-repository index. Implementations must guarantee that
	// concurrent creations for the same repository yield gapless, duplicate
	// free indices, retrying internally on serialization conflicts.
	Create(ctx context.Context, n NewRun) (*Run, error)

	// Get returns the run with the given id or ErrRunNotFound.
	Get(ctx context.Context, id int64) (*Run, error)

	// UpdateStatus moves the run to the given status, recording the
	// finished timestamp when the status is terminal. It fails if the
	// transition is invalid.
	UpdateStatus(ctx context.Context, id int64, status RunStatus) (*Run, error)
}

// JobRepository is the persistence port for per-stage jobs, parameterized by
// worker kind at the call level.
type JobRepository interface {
	// Create persists a new job in status CREATED for the given run and
	// worker kind. Returns ErrDuplicateJob if one already exists.
	Create(ctx context.Context, runID int64, kind WorkerKind, config json.RawMessage) (*Job, error)

	// Get returns the job with the given id or ErrJobNotFound.
	Get(ctx context.Context, id int64) (*Job, error)

	// GetForRun returns the run's job for the given worker kind or
	// ErrJobNotFound.
	GetForRun(ctx context.Context, runID int64, kind WorkerKind) (*Job, error)

	// ListForRun returns every job created for the run.
	ListForRun(ctx context.Context, runID int64) ([]*Job, error)

	// UpdateStatus moves the job to the given status, recording the started
	// timestamp for RUNNING and the finished timestamp for terminal
	// statuses. It fails if the transition is invalid.
	UpdateStatus(ctx context.Context, id int64, status JobStatus) (*Job, error)

	// TryTransition moves the job from one status to another only if it is
	// still in the expected one, and reports whether the update was
	// applied. Losing the race is not an error; the caller re-reads state
	// and re-evaluates.
	TryTransition(ctx context.Context, id int64, from, to JobStatus) (bool, error)

	// ListActive returns jobs of the given kind in status RUNNING that
	// were created before the given cutoff.
	ListActive(ctx context.Context, kind WorkerKind, before time.Time) ([]*Job, error)

	// Delete removes the job. Retention of finished jobs is an external
	// concern; the core itself never deletes.
	Delete(ctx context.Context, id int64) error
}
