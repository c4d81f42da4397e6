package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/pkg/common/logger"
	"github.com/complyforge/complyforge/pkg/common/timeutil"
)

const (
	defaultSweepInterval = 1 * time.Minute
	defaultJobTTL        = 10 * time.Minute
)

// StaleJobMonitor periodically sweeps for jobs still running past their
// time-to-live, measured from creation, then fails them through the
// orchestrator's regular outcome path. Routing the synthetic failure through
// HandleJobOutcome means a late worker report and the monitor race on the
// same conditional transition, and exactly one of them wins.
type StaleJobMonitor struct {
	jobs         analysis.JobRepository
	orchestrator *Orchestrator

	sweepInterval time.Duration
	jobTTL        time.Duration

	timeProvider timeutil.Provider

	logger *logger.Logger
	tracer trace.Tracer
}

// MonitorOption configures a StaleJobMonitor.
type MonitorOption func(*StaleJobMonitor)

// WithSweepInterval overrides how often the monitor scans for stale jobs.
func WithSweepInterval(d time.Duration) MonitorOption {
	return func(m *StaleJobMonitor) { m.sweepInterval = d }
}

// WithJobTTL overrides how long after creation a job may remain without a
// terminal outcome before the monitor declares it lost.
func WithJobTTL(d time.Duration) MonitorOption {
	return func(m *StaleJobMonitor) { m.jobTTL = d }
}

// WithMonitorTimeProvider overrides the clock, used by tests to control
// staleness cutoffs.
func WithMonitorTimeProvider(tp timeutil.Provider) MonitorOption {
	return func(m *StaleJobMonitor) { m.timeProvider = tp }
}

// NewStaleJobMonitor builds a monitor over the given job registry and
// orchestrator.
func NewStaleJobMonitor(
	jobs analysis.JobRepository,
	orchestrator *Orchestrator,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...MonitorOption,
) *StaleJobMonitor {
	m := &StaleJobMonitor{
		jobs:          jobs,
		orchestrator:  orchestrator,
		sweepInterval: defaultSweepInterval,
		jobTTL:        defaultJobTTL,
		timeProvider:  timeutil.Default(),
		logger:        logger.With("component", "stale_job_monitor"),
		tracer:        tracer,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run sweeps on a fixed interval until the context is cancelled.
func (m *StaleJobMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	m.logger.Info(ctx, "Stale job monitor started",
		"sweep_interval", m.sweepInterval.String(),
		"job_ttl", m.jobTTL.String(),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "Stale job monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Error(ctx, "Stale job sweep failed", "error", err)
			}
		}
	}
}

// Sweep scans every worker kind concurrently for stale active jobs and fails
// each one it finds. A failure to fail one job does not stop the rest of the
// sweep; the job stays active and the next sweep picks it up again.
func (m *StaleJobMonitor) Sweep(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "stale_job_monitor.sweep")
	defer span.End()

	cutoff := m.timeProvider.Now().Add(-m.jobTTL)
	span.SetAttributes(attribute.String("cutoff", cutoff.Format(time.RFC3339)))

	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range analysis.AllWorkerKinds() {
		g.Go(func() error {
			stale, err := m.jobs.ListActive(ctx, kind, cutoff)
			if err != nil {
				return fmt.Errorf("list active %s jobs: %w", kind, err)
			}
			for _, job := range stale {
				m.failStaleJob(ctx, job)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep incomplete")
		return err
	}

	span.SetStatus(codes.Ok, "sweep complete")
	return nil
}

func (m *StaleJobMonitor) failStaleJob(ctx context.Context, job *analysis.Job) {
	logr := m.logger.With("job_id", job.ID, "run_id", job.RunID, "worker_kind", job.Kind.String())
	logr.Warn(ctx, "Job exceeded its TTL without an outcome, failing it")

	evt := analysis.NewJobOutcomeEvent(
		job.ID,
		job.RunID,
		job.Kind,
		analysis.Failedf("job exceeded TTL of %s without a terminal outcome", m.jobTTL),
		m.timeProvider.Now(),
	)
	result := m.orchestrator.HandleJobOutcome(ctx, evt)
	switch {
	case result.IsFailure():
		logr.Error(ctx, "Failing stale job did not apply, will retry next sweep", "error", result.Cause())
	case result.IsIgnored():
		// A worker outcome landed between our list and the transition.
		logr.Info(ctx, "Stale job resolved by a concurrent outcome")
	default:
		m.orchestrator.metrics.IncStaleJobsDetected(ctx, job.Kind)
	}
}
