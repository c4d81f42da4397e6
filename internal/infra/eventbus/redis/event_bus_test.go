package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/domain/events"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

func newTestBus(t *testing.T, consumer string) (*EventBus, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := NewEventBusWithClient(client, &Config{
		StreamPrefix: "analysis.",
		Group:        "orchestrator",
		Consumer:     consumer,
		BlockTimeout: 50 * time.Millisecond,
		ClaimMinIdle: 100 * time.Millisecond,
	}, nil, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	return bus, srv
}

func TestPublishAppendsToEndpointStream(t *testing.T) {
	bus, srv := newTestBus(t, "c1")
	ctx := context.Background()

	err := bus.Publish(ctx, analysis.WorkerKindAnalyzer.Endpoint(), events.EventEnvelope{
		Type:      analysis.EventTypeJobDispatch,
		Timestamp: time.Now(),
		Payload:   analysis.JobDispatchCommand{JobID: 1, RunID: 1, Kind: analysis.WorkerKindAnalyzer, DispatchedAt: time.Now()},
	}, events.WithKey("1"))
	require.NoError(t, err)

	stream, err := srv.Stream("analysis.analyzer")
	require.NoError(t, err)
	require.Len(t, stream, 1)
}

func TestSubscribeReceivesTypedEnvelope(t *testing.T) {
	bus, _ := newTestBus(t, "c1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []events.EventEnvelope
	require.NoError(t, bus.Subscribe(ctx, analysis.EndpointOrchestrator,
		func(_ context.Context, env events.EventEnvelope, ack events.AckFunc) error {
			mu.Lock()
			received = append(received, env)
			mu.Unlock()
			ack(nil)
			return nil
		}))

	sent := analysis.JobStartedEvent{
		JobID:     4,
		RunID:     2,
		Kind:      analysis.WorkerKindScanner,
		StartedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, bus.Publish(ctx, analysis.EndpointOrchestrator, events.EventEnvelope{
		Type:      analysis.EventTypeJobStarted,
		Timestamp: time.Now(),
		Payload:   sent,
	}, events.WithHeader(events.Header{TraceID: "trace-9", RunID: 2})))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	payload, ok := received[0].Payload.(analysis.JobStartedEvent)
	require.True(t, ok, "payload decoded as %T", received[0].Payload)
	assert.Equal(t, sent, payload)
	assert.Equal(t, "trace-9", received[0].Header.TraceID)
}

func TestUnackedEntryIsReclaimed(t *testing.T) {
	bus, _ := newTestBus(t, "c1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	deliveries := 0
	require.NoError(t, bus.Subscribe(ctx, analysis.EndpointOrchestrator,
		func(_ context.Context, env events.EventEnvelope, ack events.AckFunc) error {
			mu.Lock()
			deliveries++
			first := deliveries == 1
			mu.Unlock()
			if first {
				// Simulate a processing failure: the entry stays pending.
				ack(assert.AnError)
				return assert.AnError
			}
			ack(nil)
			return nil
		}))

	require.NoError(t, bus.Publish(ctx, analysis.EndpointOrchestrator, events.EventEnvelope{
		Type:      analysis.EventTypeJobOutcome,
		Timestamp: time.Now(),
		Payload: analysis.JobOutcomeEvent{
			JobID: 1, RunID: 1, Kind: analysis.WorkerKindAnalyzer,
			Outcome: analysis.ResultSuccess, FinishedAt: time.Now(),
		},
	}))

	// The failed delivery is reclaimed once its pending entry goes idle.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries >= 2
	}, 5*time.Second, 50*time.Millisecond)
}

func TestMalformedEntryIsDroppedNotRedelivered(t *testing.T) {
	bus, srv := newTestBus(t, "c1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	handled := 0
	require.NoError(t, bus.Subscribe(ctx, analysis.EndpointOrchestrator,
		func(context.Context, events.EventEnvelope, events.AckFunc) error {
			mu.Lock()
			handled++
			mu.Unlock()
			return nil
		}))

	// Inject garbage directly into the stream.
	_, err := srv.XAdd("analysis.orchestrator", "*", []string{envelopeField, "not json"})
	require.NoError(t, err)

	// A well-formed event published afterwards still arrives, proving the
	// garbage did not wedge the consumer.
	require.NoError(t, bus.Publish(ctx, analysis.EndpointOrchestrator, events.EventEnvelope{
		Type:      analysis.EventTypeJobStarted,
		Timestamp: time.Now(),
		Payload:   analysis.JobStartedEvent{JobID: 1, RunID: 1, Kind: analysis.WorkerKindAnalyzer, StartedAt: time.Now()},
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == 1
	}, 3*time.Second, 20*time.Millisecond)
}
