// Package orchestration owns the run and job state machines. The
// Orchestrator decides, for every incoming command or worker event, what (if
// anything) to dispatch next; the StaleJobMonitor converts worker silence
// into synthetic failure events fed through the same paths.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/complyforge/complyforge/internal/app/commands"
	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/domain/events"
	"github.com/complyforge/complyforge/pkg/common/logger"
	"github.com/complyforge/complyforge/pkg/common/timeutil"
	"github.com/complyforge/complyforge/pkg/common/uuid"
)

// runLockCount is the number of stripes used to serialize per-run mutation.
// Two runs may share a stripe; that only costs contention, never correctness.
const runLockCount = 64

// Orchestrator advances runs through the stage pipeline. All mutation of a
// single run's state is serialized through a run-scoped lock, since sibling
// stage jobs can report outcomes at nearly the same instant. The registries
// stay the single source of truth: terminality is always re-checked against
// them, never cached across an outcome boundary.
type Orchestrator struct {
	runs  analysis.RunRepository
	jobs  analysis.JobRepository
	graph *analysis.StageGraph

	publisher  events.DomainEventPublisher
	dispatcher *commands.Dispatcher

	runLocks [runLockCount]sync.Mutex

	timeProvider timeutil.Provider

	metrics OrchestrationMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewOrchestrator wires an Orchestrator with its registries, transport
// publisher, stage graph, and command dispatcher. A nil metrics collector is
// replaced with a no-op implementation.
func NewOrchestrator(
	runs analysis.RunRepository,
	jobs analysis.JobRepository,
	graph *analysis.StageGraph,
	publisher events.DomainEventPublisher,
	dispatcher *commands.Dispatcher,
	metrics OrchestrationMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Orchestrator {
	if metrics == nil {
		metrics = noopOrchestrationMetrics{}
	}
	return &Orchestrator{
		runs:         runs,
		jobs:         jobs,
		graph:        graph,
		publisher:    publisher,
		dispatcher:   dispatcher,
		timeProvider: timeutil.Default(),
		metrics:      metrics,
		logger:       logger.With("component", "orchestrator"),
		tracer:       tracer,
	}
}

// RegisterHandlers binds the orchestrator's command handlers to the
// dispatcher. Must be called once during startup before any dispatching.
func (o *Orchestrator) RegisterHandlers(ctx context.Context) error {
	return o.dispatcher.RegisterHandler(ctx, analysis.EventTypeCreateRun, o.handleCreateRun)
}

func (o *Orchestrator) lockRun(runID int64) *sync.Mutex {
	return &o.runLocks[uint64(runID)%runLockCount]
}

// createRunCommand adapts the domain payload to the command contract and
// carries the created run back to the synchronous caller.
type createRunCommand struct {
	analysis.CreateRunCommand

	// created is populated by the handler on success.
	created *analysis.Run
}

// CommandID identifies the command instance by its trace ID.
func (c *createRunCommand) CommandID() string { return c.TraceID }

// ValidateCommand checks the payload before handling.
func (c *createRunCommand) ValidateCommand() error {
	if c.RepositoryID <= 0 {
		return fmt.Errorf("repository id must be positive, got %d", c.RepositoryID)
	}
	if c.Revision == "" {
		return errors.New("revision must not be empty")
	}
	return nil
}

// CreateRun is the creation entry point invoked by the external REST/CLI
// layer. It routes the command through the dispatcher so logging and
// observability middleware apply uniformly, and returns the persisted run.
func (o *Orchestrator) CreateRun(ctx context.Context, cmd analysis.CreateRunCommand) (*analysis.Run, error) {
	if cmd.TraceID == "" {
		cmd.TraceID = uuid.New().String()
	}

	wrapped := &createRunCommand{CreateRunCommand: cmd}
	result := o.dispatcher.Dispatch(ctx, wrapped)
	if result.IsFailure() {
		return nil, fmt.Errorf("create run: %w", result.Cause())
	}
	return wrapped.created, nil
}

// handleCreateRun persists a new run with an atomically assigned index and
// dispatches the first stage's job(s).
func (o *Orchestrator) handleCreateRun(ctx context.Context, cmd commands.Command) analysis.RunResult {
	create, ok := cmd.(*createRunCommand)
	if !ok {
		return analysis.Failedf("unexpected command payload %T for %s", cmd, cmd.EventType())
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.create_run",
		trace.WithAttributes(
			attribute.Int64("repository_id", create.RepositoryID),
			attribute.String("revision", create.Revision),
			attribute.String("trace_id", create.TraceID),
		))
	defer span.End()

	if err := create.ValidateCommand(); err != nil {
		span.SetStatus(codes.Error, "invalid create run command")
		return analysis.Failed(fmt.Errorf("invalid create run command: %w", err))
	}

	run, err := o.runs.Create(ctx, analysis.NewRun{
		RepositoryID: create.RepositoryID,
		Revision:     create.Revision,
		Path:         create.Path,
		Config:       create.Config,
		Labels:       create.Labels,
		TraceID:      create.TraceID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run creation failed")
		return analysis.Failed(fmt.Errorf("persist run: %w", err))
	}
	create.created = run
	o.metrics.IncRunsCreated(ctx)

	logr := o.logger.With("run_id", run.ID, "repository_id", run.RepositoryID, "run_index", run.Index)
	logr.Info(ctx, "Run created", "trace_id", run.TraceID)
	span.AddEvent("run_created", trace.WithAttributes(attribute.Int64("run_id", run.ID)))

	mu := o.lockRun(run.ID)
	mu.Lock()
	defer mu.Unlock()

	if err := o.advanceRun(ctx, run.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "initial stage dispatch failed")
		return analysis.Failed(fmt.Errorf("dispatch first stage for run %d: %w", run.ID, err))
	}

	span.SetStatus(codes.Ok, "run created")
	return analysis.Success()
}

// HandleJobStarted records that a worker began executing a job, moving it
// SCHEDULED -> RUNNING and flipping the run CREATED -> ACTIVE on the first
// started job. Duplicate or late start reports are ignored.
func (o *Orchestrator) HandleJobStarted(ctx context.Context, evt analysis.JobStartedEvent) analysis.RunResult {
	logr := o.logger.With("operation", "handle_job_started", "job_id", evt.JobID, "run_id", evt.RunID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.handle_job_started",
		trace.WithAttributes(
			attribute.Int64("job_id", evt.JobID),
			attribute.Int64("run_id", evt.RunID),
			attribute.String("worker_kind", evt.Kind.String()),
		))
	defer span.End()

	mu := o.lockRun(evt.RunID)
	mu.Lock()
	defer mu.Unlock()

	job, run, result := o.lookup(ctx, logr, evt.JobID, evt.RunID)
	if job == nil {
		return result
	}

	if run.Status.IsTerminal() {
		logr.Info(ctx, "Start report for terminal run ignored", "run_status", run.Status.String())
		span.AddEvent("post_terminal_start_ignored")
		return analysis.Ignored()
	}

	applied, err := o.jobs.TryTransition(ctx, job.ID, analysis.JobStatusScheduled, analysis.JobStatusRunning)
	if err != nil {
		span.RecordError(err)
		return analysis.Failed(fmt.Errorf("transition job %d to RUNNING: %w", job.ID, err))
	}
	if !applied {
		// Already running or terminal: a duplicate delivery.
		logr.Debug(ctx, "Job start already recorded", "job_status", job.Status.String())
		return analysis.Ignored()
	}

	if run.Status == analysis.RunStatusCreated {
		if _, err := o.runs.UpdateStatus(ctx, run.ID, analysis.RunStatusActive); err != nil {
			span.RecordError(err)
			return analysis.Failed(fmt.Errorf("activate run %d: %w", run.ID, err))
		}
		span.AddEvent("run_activated")
	}

	logr.Info(ctx, "Job started", "worker_kind", evt.Kind.String())
	return analysis.Success()
}

// HandleJobOutcome reacts to a worker-reported (or monitor-synthesized)
// terminal outcome for a job. If the run is already terminal the event is
// logged and discarded; this is the idempotency guard against duplicate or
// late delivery. Otherwise the job transitions to the implied terminal
// status and the run is advanced: sibling jobs already dispatched in the
// same stage are never cancelled, and no decision is made until every
// dispatched job has reached a terminal status.
func (o *Orchestrator) HandleJobOutcome(ctx context.Context, evt analysis.JobOutcomeEvent) analysis.RunResult {
	logr := o.logger.With("operation", "handle_job_outcome",
		"job_id", evt.JobID,
		"run_id", evt.RunID,
		"outcome", string(evt.Outcome),
	)
	ctx, span := o.tracer.Start(ctx, "orchestrator.handle_job_outcome",
		trace.WithAttributes(
			attribute.Int64("job_id", evt.JobID),
			attribute.Int64("run_id", evt.RunID),
			attribute.String("outcome", string(evt.Outcome)),
		))
	defer span.End()

	target := evt.Result().JobStatus()
	if target == "" {
		logr.Warn(ctx, "Outcome event carries no terminal status, dropping")
		return analysis.Ignored()
	}

	mu := o.lockRun(evt.RunID)
	mu.Lock()
	defer mu.Unlock()

	job, run, result := o.lookup(ctx, logr, evt.JobID, evt.RunID)
	if job == nil {
		return result
	}

	if run.Status.IsTerminal() {
		logr.Info(ctx, "Outcome for terminal run ignored", "run_status", run.Status.String())
		span.AddEvent("post_terminal_outcome_ignored")
		return analysis.Ignored()
	}

	if job.Status.IsTerminal() {
		logr.Info(ctx, "Duplicate outcome for terminal job ignored", "job_status", job.Status.String())
		span.AddEvent("duplicate_outcome_ignored")
		return analysis.Ignored()
	}

	// Conditional transition: if a concurrent writer (a late worker report
	// racing the stale-job sweep) got there first, re-reading shows the job
	// terminal and the event is ignorable.
	applied, err := o.jobs.TryTransition(ctx, job.ID, job.Status, target)
	if err != nil {
		span.RecordError(err)
		return analysis.Failed(fmt.Errorf("transition job %d to %s: %w", job.ID, target, err))
	}
	if !applied {
		current, err := o.jobs.Get(ctx, job.ID)
		if err != nil {
			span.RecordError(err)
			return analysis.Failed(fmt.Errorf("re-read job %d: %w", job.ID, err))
		}
		if current.Status.IsTerminal() {
			logr.Info(ctx, "Lost transition race to concurrent terminal write", "job_status", current.Status.String())
			return analysis.Ignored()
		}
		return analysis.Failedf("job %d changed status concurrently (now %s), event requeued", job.ID, current.Status)
	}

	o.metrics.IncJobOutcomes(ctx, evt.Kind, target)
	logr.Info(ctx, "Job reached terminal status",
		"worker_kind", evt.Kind.String(),
		"job_status", target.String(),
		"reason", evt.Reason,
	)
	span.AddEvent("job_terminal", trace.WithAttributes(attribute.String("job_status", target.String())))

	if err := o.advanceRun(ctx, run.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run advancement failed")
		return analysis.Failed(fmt.Errorf("advance run %d: %w", run.ID, err))
	}

	span.SetStatus(codes.Ok, "outcome handled")
	return analysis.Success()
}

// lookup loads the job and its run. An outcome reported for an unknown job
// or run is a bug signal: it is logged and dropped, never propagated back to
// the reporting worker.
func (o *Orchestrator) lookup(ctx context.Context, logr *logger.Logger, jobID, runID int64) (*analysis.Job, *analysis.Run, analysis.RunResult) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, analysis.ErrJobNotFound) {
			logr.Error(ctx, "Event references unknown job, dropping")
			return nil, nil, analysis.Ignored()
		}
		return nil, nil, analysis.Failed(fmt.Errorf("load job %d: %w", jobID, err))
	}

	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, analysis.ErrRunNotFound) {
			logr.Error(ctx, "Event references unknown run, dropping")
			return nil, nil, analysis.Ignored()
		}
		return nil, nil, analysis.Failed(fmt.Errorf("load run %d: %w", runID, err))
	}

	if job.RunID != run.ID {
		logr.Error(ctx, "Event job does not belong to event run, dropping", "job_run_id", job.RunID)
		return nil, nil, analysis.Ignored()
	}

	return job, run, analysis.Success()
}

// advanceRun re-evaluates the run after a job change. Callers must hold the
// run lock. It waits until every dispatched job is terminal, then either
// finalizes a failed run, dispatches the next ready stages, or settles the
// final aggregate status.
func (o *Orchestrator) advanceRun(ctx context.Context, runID int64) error {
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %d: %w", runID, err)
	}
	if run.Status.IsTerminal() {
		return nil
	}

	jobList, err := o.jobs.ListForRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("list jobs for run %d: %w", run.ID, err)
	}

	byKind := make(map[analysis.WorkerKind]*analysis.Job, len(jobList))
	for _, job := range jobList {
		byKind[job.Kind] = job

		// A sibling is still in flight; wait for its outcome before
		// deciding anything. Failing stages never cancel siblings.
		if !job.Status.IsTerminal() && job.Status != analysis.JobStatusCreated {
			return nil
		}
	}

	for _, job := range jobList {
		if job.Status == analysis.JobStatusFailed {
			return o.finalizeRun(ctx, run, jobList)
		}
	}

	dispatched := false
	for _, rule := range o.graph.Rules() {
		ready, err := o.stageReady(run, byKind, rule)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		if err := o.dispatchStage(ctx, run, byKind[rule.Kind], rule.Kind); err != nil {
			return err
		}
		dispatched = true
	}
	if dispatched {
		return nil
	}

	// Nothing running and nothing left to dispatch: settle the aggregate.
	return o.finalizeRun(ctx, run, jobList)
}

// stageReady determines whether a job for the rule's stage should be
// dispatched now: the stage is configured, has not yet been scheduled, all
// its hard dependencies completed without failure, and none of its ordering
// predecessors is still pending.
func (o *Orchestrator) stageReady(run *analysis.Run, byKind map[analysis.WorkerKind]*analysis.Job, rule analysis.StageRule) (bool, error) {
	if _, configured := run.Config.ForKind(rule.Kind); !configured {
		return false, nil
	}

	if job, exists := byKind[rule.Kind]; exists && job.Status != analysis.JobStatusCreated {
		// Already scheduled (or beyond). A job stuck in CREATED means a
		// previous dispatch attempt did not finish publishing; retry it.
		return false, nil
	}

	for _, dep := range rule.DependsOn {
		job, exists := byKind[dep]
		if !exists || !job.Status.IsCompleted() {
			return false, nil
		}
	}

	for _, after := range rule.RunsAfter {
		if o.stagePending(run, byKind, after) {
			return false, nil
		}
	}

	return true, nil
}

// stagePending reports whether a configured stage has not yet reached a
// terminal status. Unconfigured stages are never pending.
func (o *Orchestrator) stagePending(run *analysis.Run, byKind map[analysis.WorkerKind]*analysis.Job, kind analysis.WorkerKind) bool {
	if _, configured := run.Config.ForKind(kind); !configured {
		return false
	}
	job, exists := byKind[kind]
	if !exists {
		return true
	}
	return !job.Status.IsTerminal()
}

// dispatchStage creates the stage's job if needed, publishes the dispatch
// command to the worker endpoint with the run's trace ID in the header, and
// marks the job SCHEDULED.
func (o *Orchestrator) dispatchStage(ctx context.Context, run *analysis.Run, existing *analysis.Job, kind analysis.WorkerKind) error {
	config, _ := run.Config.ForKind(kind)

	job := existing
	if job == nil {
		var err error
		job, err = o.jobs.Create(ctx, run.ID, kind, config)
		if err != nil {
			if errors.Is(err, analysis.ErrDuplicateJob) {
				// Another dispatch of the same stage won a race outside the
				// run lock; treat it as already handled.
				return nil
			}
			return fmt.Errorf("create %s job for run %d: %w", kind, run.ID, err)
		}
	}

	cmd := analysis.JobDispatchCommand{
		JobID:        job.ID,
		RunID:        run.ID,
		Kind:         kind,
		Config:       config,
		DispatchedAt: o.timeProvider.Now(),
	}
	err := o.publisher.PublishDomainEvent(ctx, kind.Endpoint(), cmd,
		events.WithKey(strconv.FormatInt(run.ID, 10)),
		events.WithHeader(events.Header{TraceID: run.TraceID, RunID: run.ID}),
	)
	if err != nil {
		return fmt.Errorf("publish %s dispatch for run %d: %w", kind, run.ID, err)
	}

	if _, err := o.jobs.UpdateStatus(ctx, job.ID, analysis.JobStatusScheduled); err != nil {
		return fmt.Errorf("mark job %d scheduled: %w", job.ID, err)
	}

	o.metrics.IncJobsDispatched(ctx, kind)
	o.logger.Info(ctx, "Stage dispatched",
		"run_id", run.ID,
		"job_id", job.ID,
		"worker_kind", kind.String(),
		"trace_id", run.TraceID,
	)
	return nil
}

// finalizeRun settles the run's terminal aggregate status: FAILED if any job
// ever failed; else FINISHED_WITH_ISSUES if any job finished with issues;
// else FINISHED. Callers must hold the run lock.
func (o *Orchestrator) finalizeRun(ctx context.Context, run *analysis.Run, jobList []*analysis.Job) error {
	status := analysis.RunStatusFinished
	for _, job := range jobList {
		switch job.Status {
		case analysis.JobStatusFailed:
			status = analysis.RunStatusFailed
		case analysis.JobStatusFinishedWithIssues:
			if status != analysis.RunStatusFailed {
				status = analysis.RunStatusFinishedWithIssues
			}
		}
	}

	if _, err := o.runs.UpdateStatus(ctx, run.ID, status); err != nil {
		return fmt.Errorf("finalize run %d as %s: %w", run.ID, status, err)
	}

	o.metrics.IncRunsFinalized(ctx, status)
	o.logger.Info(ctx, "Run reached terminal status",
		"run_id", run.ID,
		"run_status", status.String(),
		"job_count", len(jobList),
	)
	return nil
}
