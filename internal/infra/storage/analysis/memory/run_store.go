// Package memory provides in-memory implementations of the analysis
// registries. They back single-process deployments and tests; durability is
// the Postgres implementations' concern.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/pkg/common/timeutil"
)

// RunStore is a thread-safe, in-memory analysis.RunRepository.
type RunStore struct {
	mu      sync.Mutex
	runs    map[int64]*analysis.Run
	indices map[int64]int64 // repository id -> last assigned run index
	nextID  int64

	timeProvider timeutil.Provider
}

// NewRunStore creates an empty in-memory run registry.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:         make(map[int64]*analysis.Run),
		indices:      make(map[int64]int64),
		timeProvider: timeutil.Default(),
	}
}

// SetTimeProvider overrides the clock used for creation and finish
// timestamps. Tests use this to make timestamps deterministic.
func (s *RunStore) SetTimeProvider(tp timeutil.Provider) { s.timeProvider = tp }

var _ analysis.RunRepository = (*RunStore)(nil)

// Create persists a new run in status CREATED. The per-repository index is
// assigned under the store lock, so concurrent creations for one repository
// always observe gapless, duplicate-free indices.
func (s *RunStore) Create(ctx context.Context, n analysis.NewRun) (*analysis.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.indices[n.RepositoryID]++

	run := &analysis.Run{
		ID:           s.nextID,
		RepositoryID: n.RepositoryID,
		Index:        s.indices[n.RepositoryID],
		Revision:     n.Revision,
		Path:         n.Path,
		Config:       n.Config,
		TraceID:      n.TraceID,
		Labels:       n.Labels,
		Status:       analysis.RunStatusCreated,
		CreatedAt:    s.timeProvider.Now(),
	}
	s.runs[run.ID] = run
	return copyRun(run), nil
}

// Get returns the run with the given id or analysis.ErrRunNotFound.
func (s *RunStore) Get(ctx context.Context, id int64) (*analysis.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, analysis.ErrRunNotFound
	}
	return copyRun(run), nil
}

// UpdateStatus moves the run through its state machine, stamping FinishedAt
// on terminal statuses.
func (s *RunStore) UpdateStatus(ctx context.Context, id int64, status analysis.RunStatus) (*analysis.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, analysis.ErrRunNotFound
	}
	if err := run.Status.ValidateTransition(status); err != nil {
		return nil, fmt.Errorf("run %d: %w", id, err)
	}

	run.Status = status
	if status.IsTerminal() {
		finished := s.timeProvider.Now()
		run.FinishedAt = &finished
	}
	return copyRun(run), nil
}

func copyRun(run *analysis.Run) *analysis.Run {
	clone := *run
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		clone.FinishedAt = &finished
	}
	if run.Labels != nil {
		clone.Labels = make(map[string]string, len(run.Labels))
		for k, v := range run.Labels {
			clone.Labels[k] = v
		}
	}
	return &clone
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}
