package orchestration

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/complyforge/complyforge/internal/domain/analysis"
)

// OrchestrationMetrics defines metrics operations needed by the orchestrator
// and the stale job monitor.
type OrchestrationMetrics interface {
	// Delivery counters, shared with the broker-backed transports.
	IncMessagePublished(ctx context.Context, destination string)
	IncMessageConsumed(ctx context.Context, destination string)
	IncPublishError(ctx context.Context, destination string)
	IncConsumeError(ctx context.Context, destination string)

	// Run lifecycle.
	IncRunsCreated(ctx context.Context)
	IncRunsFinalized(ctx context.Context, status analysis.RunStatus)

	// Job lifecycle.
	IncJobsDispatched(ctx context.Context, kind analysis.WorkerKind)
	IncJobOutcomes(ctx context.Context, kind analysis.WorkerKind, status analysis.JobStatus)
	IncStaleJobsDetected(ctx context.Context, kind analysis.WorkerKind)
}

// noopOrchestrationMetrics is substituted when no collector is supplied, so
// callers never nil-check before incrementing.
type noopOrchestrationMetrics struct{}

func (noopOrchestrationMetrics) IncMessagePublished(context.Context, string) {}
func (noopOrchestrationMetrics) IncMessageConsumed(context.Context, string)  {}
func (noopOrchestrationMetrics) IncPublishError(context.Context, string)     {}
func (noopOrchestrationMetrics) IncConsumeError(context.Context, string)     {}
func (noopOrchestrationMetrics) IncRunsCreated(context.Context)              {}
func (noopOrchestrationMetrics) IncRunsFinalized(context.Context, analysis.RunStatus) {}
func (noopOrchestrationMetrics) IncJobsDispatched(context.Context, analysis.WorkerKind) {}
func (noopOrchestrationMetrics) IncJobOutcomes(context.Context, analysis.WorkerKind, analysis.JobStatus) {
}
func (noopOrchestrationMetrics) IncStaleJobsDetected(context.Context, analysis.WorkerKind) {}

var _ OrchestrationMetrics = noopOrchestrationMetrics{}

type orchestrationMetrics struct {
	messagesPublished metric.Int64Counter
	messagesConsumed  metric.Int64Counter
	publishErrors     metric.Int64Counter
	consumeErrors     metric.Int64Counter

	runsCreated   metric.Int64Counter
	runsFinalized metric.Int64Counter

	jobsDispatched    metric.Int64Counter
	jobOutcomes       metric.Int64Counter
	staleJobsDetected metric.Int64Counter
}

var _ OrchestrationMetrics = (*orchestrationMetrics)(nil)

const namespace = "orchestrator"

// NewOrchestrationMetrics creates a new orchestration metrics instance.
func NewOrchestrationMetrics(mp metric.MeterProvider) (OrchestrationMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	c := new(orchestrationMetrics)
	var err error

	if c.messagesPublished, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of messages published"),
	); err != nil {
		return nil, err
	}

	if c.messagesConsumed, err = meter.Int64Counter(
		"messages_consumed_total",
		metric.WithDescription("Total number of messages consumed"),
	); err != nil {
		return nil, err
	}

	if c.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of publish errors"),
	); err != nil {
		return nil, err
	}

	if c.consumeErrors, err = meter.Int64Counter(
		"consume_errors_total",
		metric.WithDescription("Total number of consume errors"),
	); err != nil {
		return nil, err
	}

	if c.runsCreated, err = meter.Int64Counter(
		"runs_created_total",
		metric.WithDescription("Total number of runs created"),
	); err != nil {
		return nil, err
	}

	if c.runsFinalized, err = meter.Int64Counter(
		"runs_finalized_total",
		metric.WithDescription("Total number of runs reaching a terminal status"),
	); err != nil {
		return nil, err
	}

	if c.jobsDispatched, err = meter.Int64Counter(
		"jobs_dispatched_total",
		metric.WithDescription("Total number of jobs dispatched to workers"),
	); err != nil {
		return nil, err
	}

	if c.jobOutcomes, err = meter.Int64Counter(
		"job_outcomes_total",
		metric.WithDescription("Total number of terminal job outcomes recorded"),
	); err != nil {
		return nil, err
	}

	if c.staleJobsDetected, err = meter.Int64Counter(
		"stale_jobs_detected_total",
		metric.WithDescription("Total number of jobs failed by the stale job monitor"),
	); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *orchestrationMetrics) IncMessagePublished(ctx context.Context, destination string) {
	c.messagesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (c *orchestrationMetrics) IncMessageConsumed(ctx context.Context, destination string) {
	c.messagesConsumed.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (c *orchestrationMetrics) IncPublishError(ctx context.Context, destination string) {
	c.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (c *orchestrationMetrics) IncConsumeError(ctx context.Context, destination string) {
	c.consumeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (c *orchestrationMetrics) IncRunsCreated(ctx context.Context) {
	c.runsCreated.Add(ctx, 1)
}

func (c *orchestrationMetrics) IncRunsFinalized(ctx context.Context, status analysis.RunStatus) {
	c.runsFinalized.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
}

func (c *orchestrationMetrics) IncJobsDispatched(ctx context.Context, kind analysis.WorkerKind) {
	c.jobsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (c *orchestrationMetrics) IncJobOutcomes(ctx context.Context, kind analysis.WorkerKind, status analysis.JobStatus) {
	c.jobOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("status", status.String()),
	))
}

func (c *orchestrationMetrics) IncStaleJobsDetected(ctx context.Context, kind analysis.WorkerKind) {
	c.staleJobsDetected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}
