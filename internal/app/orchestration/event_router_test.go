package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/domain/events"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

// stubBus hands envelopes straight to the subscribed handler.
type stubBus struct {
	handler  events.HandlerFunc
	endpoint events.Endpoint
}

func (b *stubBus) Publish(ctx context.Context, to events.Endpoint, envelope events.EventEnvelope, opts ...events.PublishOption) error {
	return nil
}

func (b *stubBus) Subscribe(ctx context.Context, from events.Endpoint, handler events.HandlerFunc) error {
	b.endpoint = from
	b.handler = handler
	return nil
}

func (b *stubBus) Close() error { return nil }

func (b *stubBus) deliver(t *testing.T, payload any, eventType events.EventType) (error, []error) {
	t.Helper()
	var acks []error
	err := b.handler(context.Background(), events.EventEnvelope{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}, func(ackErr error) { acks = append(acks, ackErr) })
	return err, acks
}

func newRouterFixture(t *testing.T) (*orchestratorFixture, *stubBus) {
	t.Helper()

	f := newOrchestratorFixture(t)
	bus := &stubBus{}
	router := NewEventRouter(bus, f.orch, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, router.Start(context.Background()))
	require.Equal(t, analysis.EndpointOrchestrator, bus.endpoint)
	return f, bus
}

func TestRouterCreatesRunFromCommand(t *testing.T) {
	f, bus := newRouterFixture(t)

	err, acks := bus.deliver(t, analysis.CreateRunCommand{
		RepositoryID: 1,
		Revision:     "main",
		RequestedAt:  time.Now(),
	}, analysis.EventTypeCreateRun)
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.NoError(t, acks[0])

	assert.Equal(t, []analysis.WorkerKind{analysis.WorkerKindAnalyzer}, f.publisher.dispatchedKinds())
}

func TestRouterRoutesWorkerLifecycleEvents(t *testing.T) {
	f, bus := newRouterFixture(t)
	ctx := context.Background()

	run, err := f.orch.CreateRun(ctx, analysis.CreateRunCommand{RepositoryID: 1, Revision: "main"})
	require.NoError(t, err)
	job, err := f.jobs.GetForRun(ctx, run.ID, analysis.WorkerKindAnalyzer)
	require.NoError(t, err)

	handleErr, acks := bus.deliver(t, analysis.JobStartedEvent{
		JobID: job.ID, RunID: run.ID, Kind: analysis.WorkerKindAnalyzer, StartedAt: time.Now(),
	}, analysis.EventTypeJobStarted)
	require.NoError(t, handleErr)
	require.Len(t, acks, 1)
	assert.NoError(t, acks[0])
	assert.Equal(t, analysis.RunStatusActive, f.runStatus(t, run.ID))

	handleErr, acks = bus.deliver(t, analysis.NewJobOutcomeEvent(
		job.ID, run.ID, analysis.WorkerKindAnalyzer, analysis.Success(), time.Now(),
	), analysis.EventTypeJobOutcome)
	require.NoError(t, handleErr)
	require.Len(t, acks, 1)
	assert.NoError(t, acks[0])
	assert.Equal(t, analysis.RunStatusFinished, f.runStatus(t, run.ID))
}

func TestRouterAcksIgnoredDuplicates(t *testing.T) {
	f, bus := newRouterFixture(t)
	ctx := context.Background()

	run, err := f.orch.CreateRun(ctx, analysis.CreateRunCommand{RepositoryID: 1, Revision: "main"})
	require.NoError(t, err)
	job, err := f.jobs.GetForRun(ctx, run.ID, analysis.WorkerKindAnalyzer)
	require.NoError(t, err)

	f.startJob(t, run.ID, analysis.WorkerKindAnalyzer)
	f.finishJob(t, run.ID, analysis.WorkerKindAnalyzer, analysis.Success())

	// Redelivered outcome: acknowledged without error so the bus drops it.
	handleErr, acks := bus.deliver(t, analysis.NewJobOutcomeEvent(
		job.ID, run.ID, analysis.WorkerKindAnalyzer, analysis.Success(), time.Now(),
	), analysis.EventTypeJobOutcome)
	require.NoError(t, handleErr)
	require.Len(t, acks, 1)
	assert.NoError(t, acks[0])
}

func TestRouterNacksFailedCreate(t *testing.T) {
	_, bus := newRouterFixture(t)

	// Invalid command: the router surfaces the failure for redelivery.
	handleErr, acks := bus.deliver(t, analysis.CreateRunCommand{
		RepositoryID: 0,
		Revision:     "main",
	}, analysis.EventTypeCreateRun)
	require.Error(t, handleErr)
	require.Len(t, acks, 1)
	assert.Error(t, acks[0])
}

func TestRouterDropsUnroutablePayload(t *testing.T) {
	_, bus := newRouterFixture(t)

	handleErr, acks := bus.deliver(t, struct{ X int }{X: 1}, events.EventType("Bogus"))
	require.NoError(t, handleErr)
	require.Len(t, acks, 1)
	assert.NoError(t, acks[0])
}
