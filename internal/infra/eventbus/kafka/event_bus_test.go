package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/domain/events"
	"github.com/complyforge/complyforge/internal/infra/eventbus/serialization"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

func newTestBus(t *testing.T, producer sarama.SyncProducer) *EventBus {
	t.Helper()
	return &EventBus{
		producer: producer,
		cfg:      &Config{TopicPrefix: "analysis.", GroupID: "test", ClientID: "test"},
		metrics:  noopEventBusMetrics{},
		logger:   logger.Noop(),
		tracer:   noop.NewTracerProvider().Tracer("test"),
	}
}

func TestConfigTopicMapsEndpoints(t *testing.T) {
	cfg := &Config{TopicPrefix: "analysis."}
	assert.Equal(t, "analysis.orchestrator", cfg.Topic(analysis.EndpointOrchestrator))
	assert.Equal(t, "analysis.scanner", cfg.Topic(analysis.WorkerKindScanner.Endpoint()))
}

func TestPublishSendsDecodableEnvelope(t *testing.T) {
	producerConfig := mocks.NewTestConfig()
	producerConfig.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, producerConfig)
	defer func() { require.NoError(t, producer.Close()) }()

	sent := analysis.JobDispatchCommand{
		JobID:        7,
		RunID:        3,
		Kind:         analysis.WorkerKindAdvisor,
		DispatchedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		envelope, err := serialization.UnmarshalEventEnvelope(value)
		if err != nil {
			return err
		}
		payload, ok := envelope.Payload.(analysis.JobDispatchCommand)
		require.True(t, ok)
		assert.Equal(t, sent, payload)
		assert.Equal(t, "3", envelope.Key)
		assert.Equal(t, "trace-1", envelope.Header.TraceID)
		return nil
	})

	bus := newTestBus(t, producer)
	err := bus.Publish(context.Background(), analysis.WorkerKindAdvisor.Endpoint(),
		events.EventEnvelope{
			Type:      analysis.EventTypeJobDispatch,
			Timestamp: time.Now(),
			Payload:   sent,
		},
		events.WithKey("3"),
		events.WithHeader(events.Header{TraceID: "trace-1", RunID: 3}),
	)
	require.NoError(t, err)
}

func TestPublishWrapsBrokerErrorAsTransient(t *testing.T) {
	producerConfig := mocks.NewTestConfig()
	producerConfig.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, producerConfig)
	defer func() { require.NoError(t, producer.Close()) }()

	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	bus := newTestBus(t, producer)
	err := bus.Publish(context.Background(), analysis.EndpointOrchestrator,
		events.EventEnvelope{
			Type:      analysis.EventTypeJobStarted,
			Timestamp: time.Now(),
			Payload:   analysis.JobStartedEvent{JobID: 1, RunID: 1, Kind: analysis.WorkerKindAnalyzer, StartedAt: time.Now()},
		},
	)
	require.Error(t, err)
	assert.True(t, events.IsTransientDelivery(err))
}
