package postgres

// The tests in this file exercise the real database behavior the registries
// depend on: gapless index assignment under serializable conflicts, the
// unique (run_id, kind) constraint, and conditional transitions. They need a
// migrated Postgres instance and are skipped unless TEST_DATABASE_URL is set.

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/infra/storage"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := NewPool(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), `TRUNCATE analysis_runs CASCADE`)
	require.NoError(t, err)
	return pool
}

// repoID returns a repository id unique to the test to isolate index
// sequences between tests sharing a database.
func repoID(t *testing.T) int64 {
	t.Helper()
	return int64(time.Now().UnixNano() % 1_000_000_000)
}

func TestRunStoreConcurrentCreatesYieldGaplessIndices(t *testing.T) {
	pool := testPool(t)
	store := NewRunStore(pool, storage.NoOpTracer())
	ctx := context.Background()
	repo := repoID(t)

	const n = 10
	var wg sync.WaitGroup
	indices := make(chan int64, n)
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := store.Create(ctx, analysis.NewRun{
				RepositoryID: repo,
				Revision:     fmt.Sprintf("rev-%d", i),
			})
			if err != nil {
				errs <- err
				return
			}
			indices <- run.Index
		}()
	}
	wg.Wait()
	close(indices)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[int64]bool, n)
	for idx := range indices {
		assert.False(t, seen[idx], "duplicate index %d", idx)
		seen[idx] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing index %d", i)
	}
}

func TestRunStoreStatusLifecycle(t *testing.T) {
	pool := testPool(t)
	store := NewRunStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	run, err := store.Create(ctx, analysis.NewRun{
		RepositoryID: repoID(t),
		Revision:     "main",
		Config:       analysis.JobConfigs{Advisor: json.RawMessage(`{"x":1}`)},
		Labels:       map[string]string{"team": "compliance"},
		TraceID:      "trace-1",
	})
	require.NoError(t, err)
	assert.Equal(t, analysis.RunStatusCreated, run.Status)

	loaded, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "main", loaded.Revision)
	assert.Equal(t, "trace-1", loaded.TraceID)
	assert.Equal(t, map[string]string{"team": "compliance"}, loaded.Labels)
	assert.JSONEq(t, `{"x":1}`, string(loaded.Config.Advisor))

	_, err = store.UpdateStatus(ctx, run.ID, analysis.RunStatusActive)
	require.NoError(t, err)
	finished, err := store.UpdateStatus(ctx, run.ID, analysis.RunStatusFinished)
	require.NoError(t, err)
	assert.NotNil(t, finished.FinishedAt)

	// Terminal runs reject further updates.
	_, err = store.UpdateStatus(ctx, run.ID, analysis.RunStatusFailed)
	assert.Error(t, err)

	_, err = store.Get(ctx, 99999999)
	assert.ErrorIs(t, err, analysis.ErrRunNotFound)
}

func TestJobStoreConstraintsAndTransitions(t *testing.T) {
	pool := testPool(t)
	runs := NewRunStore(pool, storage.NoOpTracer())
	jobs := NewJobStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	run, err := runs.Create(ctx, analysis.NewRun{RepositoryID: repoID(t), Revision: "main"})
	require.NoError(t, err)

	job, err := jobs.Create(ctx, run.ID, analysis.WorkerKindAnalyzer, json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = jobs.Create(ctx, run.ID, analysis.WorkerKindAnalyzer, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, analysis.ErrDuplicateJob)

	applied, err := jobs.TryTransition(ctx, job.ID, analysis.JobStatusCreated, analysis.JobStatusScheduled)
	require.NoError(t, err)
	assert.True(t, applied)

	// Losing writer observes no rows affected.
	applied, err = jobs.TryTransition(ctx, job.ID, analysis.JobStatusCreated, analysis.JobStatusScheduled)
	require.NoError(t, err)
	assert.False(t, applied)

	running, err := jobs.UpdateStatus(ctx, job.ID, analysis.JobStatusRunning)
	require.NoError(t, err)
	assert.NotNil(t, running.StartedAt)

	stale, err := jobs.ListActive(ctx, analysis.WorkerKindAnalyzer, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, job.ID, stale[0].ID)

	done, err := jobs.UpdateStatus(ctx, job.ID, analysis.JobStatusFinished)
	require.NoError(t, err)
	assert.NotNil(t, done.FinishedAt)

	_, err = jobs.TryTransition(ctx, 99999999, analysis.JobStatusCreated, analysis.JobStatusScheduled)
	assert.ErrorIs(t, err, analysis.ErrJobNotFound)
}
