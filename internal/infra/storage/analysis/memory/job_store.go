package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/pkg/common/timeutil"
)

type jobKey struct {
	runID int64
	kind  analysis.WorkerKind
}

// JobStore is a thread-safe, in-memory analysis.JobRepository.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[int64]*analysis.Job
	byRun  map[jobKey]int64
	nextID int64

	timeProvider timeutil.Provider
}

// NewJobStore creates an empty in-memory job registry.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:         make(map[int64]*analysis.Job),
		byRun:        make(map[jobKey]int64),
		timeProvider: timeutil.Default(),
	}
}

// SetTimeProvider overrides the clock used for job timestamps.
func (s *JobStore) SetTimeProvider(tp timeutil.Provider) { s.timeProvider = tp }

var _ analysis.JobRepository = (*JobStore)(nil)

// Create persists a new job in status CREATED, enforcing the one job per
// (run, worker kind) constraint.
func (s *JobStore) Create(ctx context.Context, runID int64, kind analysis.WorkerKind, config json.RawMessage) (*analysis.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey{runID: runID, kind: kind}
	if _, exists := s.byRun[key]; exists {
		return nil, fmt.Errorf("run %d kind %s: %w", runID, kind, analysis.ErrDuplicateJob)
	}

	s.nextID++
	job := &analysis.Job{
		ID:        s.nextID,
		RunID:     runID,
		Kind:      kind,
		Config:    config,
		Status:    analysis.JobStatusCreated,
		CreatedAt: s.timeProvider.Now(),
	}
	s.jobs[job.ID] = job
	s.byRun[key] = job.ID
	return copyJob(job), nil
}

// Get returns the job with the given id or analysis.ErrJobNotFound.
func (s *JobStore) Get(ctx context.Context, id int64) (*analysis.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, analysis.ErrJobNotFound
	}
	return copyJob(job), nil
}

// GetForRun returns the run's job for the given worker kind.
func (s *JobStore) GetForRun(ctx context.Context, runID int64, kind analysis.WorkerKind) (*analysis.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.byRun[jobKey{runID: runID, kind: kind}]
	if !exists {
		return nil, analysis.ErrJobNotFound
	}
	return copyJob(s.jobs[id]), nil
}

// ListForRun returns every job created for the run, ordered by id.
func (s *JobStore) ListForRun(ctx context.Context, runID int64) ([]*analysis.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*analysis.Job
	for _, job := range s.jobs {
		if job.RunID == runID {
			result = append(result, copyJob(job))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateStatus moves the job through its state machine, stamping StartedAt
// on RUNNING and FinishedAt on terminal statuses.
func (s *JobStore) UpdateStatus(ctx context.Context, id int64, status analysis.JobStatus) (*analysis.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, analysis.ErrJobNotFound
	}
	if err := job.Status.ValidateTransition(status); err != nil {
		return nil, fmt.Errorf("job %d: %w", id, err)
	}

	s.applyStatus(job, status)
	return copyJob(job), nil
}

// TryTransition applies (from -> to) only if the job is still in the
// expected status, reporting whether it applied.
func (s *JobStore) TryTransition(ctx context.Context, id int64, from, to analysis.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return false, analysis.ErrJobNotFound
	}
	if job.Status != from {
		return false, nil
	}
	if err := job.Status.ValidateTransition(to); err != nil {
		return false, fmt.Errorf("job %d: %w", id, err)
	}

	s.applyStatus(job, to)
	return true, nil
}

// ListActive returns jobs of the given kind in status RUNNING that were
// created before the cutoff, ordered by id.
func (s *JobStore) ListActive(ctx context.Context, kind analysis.WorkerKind, before time.Time) ([]*analysis.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*analysis.Job
	for _, job := range s.jobs {
		if job.Kind == kind && job.Status == analysis.JobStatusRunning &&
			job.CreatedAt.Before(before) {
			result = append(result, copyJob(job))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Delete removes the job if it exists.
func (s *JobStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return analysis.ErrJobNotFound
	}
	delete(s.byRun, jobKey{runID: job.RunID, kind: job.Kind})
	delete(s.jobs, id)
	return nil
}

func (s *JobStore) applyStatus(job *analysis.Job, status analysis.JobStatus) {
	job.Status = status
	now := s.timeProvider.Now()
	switch {
	case status == analysis.JobStatusRunning:
		job.StartedAt = &now
	case status.IsTerminal():
		job.FinishedAt = &now
	}
}

func copyJob(job *analysis.Job) *analysis.Job {
	clone := *job
	clone.StartedAt = copyTime(job.StartedAt)
	clone.FinishedAt = copyTime(job.FinishedAt)
	if job.Config != nil {
		clone.Config = append([]byte(nil), job.Config...)
	}
	return &clone
}
