package orchestration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

type advancingClock struct{ now time.Time }

func (c *advancingClock) Now() time.Time { return c.now }

func newMonitorFixture(t *testing.T, clock *advancingClock) (*orchestratorFixture, *StaleJobMonitor) {
	t.Helper()

	f := newOrchestratorFixture(t)
	f.jobs.SetTimeProvider(clock)
	f.runs.SetTimeProvider(clock)

	monitor := NewStaleJobMonitor(
		f.jobs,
		f.orch,
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
		WithJobTTL(10*time.Minute),
		WithMonitorTimeProvider(clock),
	)
	return f, monitor
}

func TestSweepFailsAbandonedJob(t *testing.T) {
	clock := &advancingClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	f, monitor := newMonitorFixture(t, clock)
	ctx := context.Background()

	run, err := f.orch.CreateRun(ctx, analysis.CreateRunCommand{RepositoryID: 1, Revision: "main"})
	require.NoError(t, err)
	f.startJob(t, run.ID, analysis.WorkerKindAnalyzer)

	// Within the TTL the job is left alone.
	clock.now = clock.now.Add(5 * time.Minute)
	require.NoError(t, monitor.Sweep(ctx))
	assert.Equal(t, analysis.RunStatusActive, f.runStatus(t, run.ID))

	// Past the TTL the monitor fails the job and the run with it.
	clock.now = clock.now.Add(10 * time.Minute)
	require.NoError(t, monitor.Sweep(ctx))

	job, err := f.jobs.GetForRun(ctx, run.ID, analysis.WorkerKindAnalyzer)
	require.NoError(t, err)
	assert.Equal(t, analysis.JobStatusFailed, job.Status)
	assert.Equal(t, analysis.RunStatusFailed, f.runStatus(t, run.ID))
}

func TestSweepIsIdempotent(t *testing.T) {
	clock := &advancingClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	f, monitor := newMonitorFixture(t, clock)
	ctx := context.Background()

	run, err := f.orch.CreateRun(ctx, analysis.CreateRunCommand{RepositoryID: 1, Revision: "main"})
	require.NoError(t, err)
	f.startJob(t, run.ID, analysis.WorkerKindAnalyzer)

	clock.now = clock.now.Add(time.Hour)
	require.NoError(t, monitor.Sweep(ctx))
	require.NoError(t, monitor.Sweep(ctx))

	assert.Equal(t, analysis.RunStatusFailed, f.runStatus(t, run.ID))
}

func TestLateOutcomeAfterSweepIsIgnored(t *testing.T) {
	clock := &advancingClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	f, monitor := newMonitorFixture(t, clock)
	ctx := context.Background()

	run, err := f.orch.CreateRun(ctx, analysis.CreateRunCommand{RepositoryID: 1, Revision: "main"})
	require.NoError(t, err)
	f.startJob(t, run.ID, analysis.WorkerKindAnalyzer)

	clock.now = clock.now.Add(time.Hour)
	require.NoError(t, monitor.Sweep(ctx))

	// The worker finally reports success, but the monitor already declared
	// the job lost. Exactly one terminal status wins.
	result := f.finishJob(t, run.ID, analysis.WorkerKindAnalyzer, analysis.Success())
	assert.True(t, result.IsIgnored())

	job, err := f.jobs.GetForRun(ctx, run.ID, analysis.WorkerKindAnalyzer)
	require.NoError(t, err)
	assert.Equal(t, analysis.JobStatusFailed, job.Status)
	assert.Equal(t, analysis.RunStatusFailed, f.runStatus(t, run.ID))
}

func TestSweepAgeCountsFromCreation(t *testing.T) {
	clock := &advancingClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	f, monitor := newMonitorFixture(t, clock)
	ctx := context.Background()

	run, err := f.orch.CreateRun(ctx, analysis.CreateRunCommand{
		RepositoryID: 1,
		Revision:     "main",
		Config: analysis.JobConfigs{
			Advisor: json.RawMessage(`{}`),
			Scanner: json.RawMessage(`{}`),
		},
	})
	require.NoError(t, err)

	f.startJob(t, run.ID, analysis.WorkerKindAnalyzer)
	f.finishJob(t, run.ID, analysis.WorkerKindAnalyzer, analysis.Success())
	f.startJob(t, run.ID, analysis.WorkerKindAdvisor)

	// The scanner's start report arrives long after dispatch. Its age counts
	// from creation, so a recent start does not shield it from the sweep.
	clock.now = clock.now.Add(40 * time.Minute)
	f.startJob(t, run.ID, analysis.WorkerKindScanner)

	clock.now = clock.now.Add(5 * time.Minute)
	require.NoError(t, monitor.Sweep(ctx))

	advisor, err := f.jobs.GetForRun(ctx, run.ID, analysis.WorkerKindAdvisor)
	require.NoError(t, err)
	assert.Equal(t, analysis.JobStatusFailed, advisor.Status)

	scanner, err := f.jobs.GetForRun(ctx, run.ID, analysis.WorkerKindScanner)
	require.NoError(t, err)
	assert.Equal(t, analysis.JobStatusFailed, scanner.Status)

	assert.Equal(t, analysis.RunStatusFailed, f.runStatus(t, run.ID))
}

func TestSweepSparesFreshRuns(t *testing.T) {
	clock := &advancingClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	f, monitor := newMonitorFixture(t, clock)
	ctx := context.Background()

	old, err := f.orch.CreateRun(ctx, analysis.CreateRunCommand{RepositoryID: 1, Revision: "main"})
	require.NoError(t, err)
	f.startJob(t, old.ID, analysis.WorkerKindAnalyzer)

	clock.now = clock.now.Add(30 * time.Minute)
	fresh, err := f.orch.CreateRun(ctx, analysis.CreateRunCommand{RepositoryID: 2, Revision: "main"})
	require.NoError(t, err)
	f.startJob(t, fresh.ID, analysis.WorkerKindAnalyzer)

	clock.now = clock.now.Add(5 * time.Minute)
	require.NoError(t, monitor.Sweep(ctx))

	assert.Equal(t, analysis.RunStatusFailed, f.runStatus(t, old.ID))
	assert.Equal(t, analysis.RunStatusActive, f.runStatus(t, fresh.ID))

	// The fresh run is untouched and completes normally.
	f.finishJob(t, fresh.ID, analysis.WorkerKindAnalyzer, analysis.Success())
	assert.Equal(t, analysis.RunStatusFinished, f.runStatus(t, fresh.ID))
}

func TestRunStopsSweeping(t *testing.T) {
	clock := &advancingClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	_, monitor := newMonitorFixture(t, clock)
	monitor.sweepInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}
