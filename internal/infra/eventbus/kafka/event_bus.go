// Package kafka provides a Kafka-based implementation of the event bus for
// asynchronous messaging between the orchestrator and the worker fleet.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/complyforge/complyforge/internal/domain/events"
	"github.com/complyforge/complyforge/internal/infra/eventbus/kafka/tracing"
	"github.com/complyforge/complyforge/internal/infra/eventbus/serialization"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

// EventBusMetrics defines metrics operations needed by the event bus.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// noopEventBusMetrics is substituted when no collector is provided.
type noopEventBusMetrics struct{}

func (noopEventBusMetrics) IncMessagePublished(context.Context, string) {}
func (noopEventBusMetrics) IncMessageConsumed(context.Context, string)  {}
func (noopEventBusMetrics) IncPublishError(context.Context, string)     {}
func (noopEventBusMetrics) IncConsumeError(context.Context, string)     {}

var _ EventBusMetrics = noopEventBusMetrics{}

// Config contains settings for connecting to and interacting with Kafka
// brokers. Endpoints map onto topics by prefixing the endpoint name, so one
// cluster can host several isolated installations.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// TopicPrefix is prepended to every endpoint name to form the topic.
	TopicPrefix string

	// GroupID identifies the consumer group for this process instance.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

// Topic returns the Kafka topic backing an endpoint.
func (c *Config) Topic(endpoint events.Endpoint) string {
	return c.TopicPrefix + string(endpoint)
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements events.EventBus using Kafka as the underlying broker.
// Envelopes keyed by run ID land on one partition, which preserves per-run
// ordering across redeliveries.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	cfg           *Config

	metrics EventBusMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewEventBus creates a Kafka-based event bus from the provided
// configuration, establishing both the producer and the consumer group.
func NewEventBus(cfg *Config, metrics EventBusMetrics, logger *logger.Logger, tracer trace.Tracer) (*EventBus, error) {
	if metrics == nil {
		metrics = noopEventBusMetrics{}
	}
	logger = logger.With(
		"component", "kafka_event_bus",
		"client_id", cfg.ClientID,
		"group_id", cfg.GroupID,
	)

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.ClientID = cfg.ClientID

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	// Configure consumer group for reliable message processing with
	// manual offset commits and rebalancing.
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = cfg.ClientID
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Consumer.Group.Session.Timeout = 20 * time.Second
	consumerConfig.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	consumerConfig.Consumer.Offsets.AutoCommit.Enable = false
	consumerConfig.Version = sarama.V2_8_0_0

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		cfg:           cfg,
		metrics:       metrics,
		logger:        logger,
		tracer:        tracer,
	}, nil
}

// Publish sends an envelope to the topic backing the endpoint. It handles
// serialization, partitioning by key, and trace context propagation through
// message headers.
func (b *EventBus) Publish(ctx context.Context, to events.Endpoint, envelope events.EventEnvelope, opts ...events.PublishOption) error {
	topic := b.cfg.Topic(to)

	ctx, span := tracing.StartProducerSpan(ctx, topic, b.tracer)
	defer span.End()

	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	if params.Key != "" {
		envelope.Key = params.Key
		span.SetAttributes(attribute.String("event.key", envelope.Key))
	}
	if params.Header != (events.Header{}) {
		envelope.Header = params.Header
	}

	msgBytes, err := serialization.MarshalEventEnvelope(envelope)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to serialize payload for event %s: %w", envelope.Type, err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(envelope.Key),
		Value: sarama.ByteEncoder(msgBytes),
	}
	tracing.InjectTraceContext(ctx, kafkaMsg)

	partition, offset, err := b.producer.SendMessage(kafkaMsg)
	if err != nil {
		b.metrics.IncPublishError(ctx, topic)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		return fmt.Errorf("%w: send to kafka topic %s: %v", events.ErrTransientDelivery, topic, err)
	}
	b.metrics.IncMessagePublished(ctx, topic)

	b.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", envelope.Key,
		"event_type", string(envelope.Type),
	)
	return nil
}

// Subscribe registers a handler for every envelope arriving on the endpoint's
// topic. It manages consumer group membership and message processing in a
// separate goroutine.
func (b *EventBus) Subscribe(ctx context.Context, from events.Endpoint, handler events.HandlerFunc) error {
	topic := b.cfg.Topic(from)

	ctx, span := b.tracer.Start(ctx, "kafka_event_bus.subscribe",
		trace.WithAttributes(
			attribute.String("component", "kafka_event_bus"),
			attribute.String("topic", topic),
		))
	defer span.End()

	go b.consumeLoop(ctx, topic, handler)
	b.logger.Info(ctx, "Subscribed to endpoint", "endpoint", string(from), "topic", topic)

	return nil
}

// consumeLoop maintains a continuous consumer group session for processing messages.
func (b *EventBus) consumeLoop(ctx context.Context, topic string, handler events.HandlerFunc) {
	cgHandler := &consumerGroupHandler{
		userHandler: handler,
		metrics:     b.metrics,
		logger:      b.logger,
		tracer:      b.tracer,
	}

	for {
		if err := b.consumerGroup.Consume(ctx, []string{topic}, cgHandler); err != nil {
			b.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler to deserialize
// Kafka messages into envelopes for the application handler.
type consumerGroupHandler struct {
	userHandler events.HandlerFunc

	metrics EventBusMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

func (h *consumerGroupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(),
		"Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *consumerGroupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(),
		"Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from an assigned partition, deserializing
// them into envelopes and invoking the user-provided handler. Malformed
// messages are marked as consumed immediately; redelivery cannot repair them.
func (h *consumerGroupHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	consumeLogger := h.logger.With("operation", "consume_claim", "partition", claim.Partition())
	consumeLogger.Info(sess.Context(), "Starting to consume from partition", "member_id", sess.MemberID())

	lastCommit := time.Now()
	const commitInterval = 1 * time.Second

	for msg := range claim.Messages() {
		func() {
			msgCtx := tracing.ExtractTraceContext(sess.Context(), msg)
			msgCtx, span := tracing.StartConsumerSpan(msgCtx, msg, h.tracer)
			defer span.End()

			envelope, err := serialization.UnmarshalEventEnvelope(msg.Value)
			if err != nil {
				consumeLogger.Error(msgCtx, "Dropping malformed message", "error", err, "offset", msg.Offset)
				h.metrics.IncConsumeError(msgCtx, msg.Topic)
				sess.MarkMessage(msg, "")
				span.RecordError(err)
				return
			}
			h.metrics.IncMessageConsumed(msgCtx, msg.Topic)

			consumeLogger.Debug(msgCtx, "Received Kafka message",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"event_type", string(envelope.Type),
				"key", envelope.Key,
			)

			ack := func(ackErr error) {
				ackCtx, ackSpan := h.tracer.Start(msgCtx, "kafka_consumer.acknowledge",
					trace.WithLinks(trace.LinkFromContext(msgCtx)),
				)
				defer ackSpan.End()

				if ackErr != nil {
					// Leave the offset uncommitted so the message is
					// redelivered after rebalance.
					consumeLogger.Error(ackCtx, "Message not acknowledged", "error", ackErr)
					ackSpan.RecordError(ackErr)
					ackSpan.SetStatus(codes.Error, "message not acknowledged")
					return
				}

				sess.MarkMessage(msg, "")

				if time.Since(lastCommit) > commitInterval {
					sess.Commit()
					lastCommit = time.Now()
					consumeLogger.Debug(ackCtx, "Committed offsets",
						"topic", msg.Topic,
						"offset", msg.Offset,
					)
				}
			}

			if err := h.userHandler(msgCtx, envelope, ack); err != nil {
				consumeLogger.Error(msgCtx, "Failed to handle message", "error", err)
				span.RecordError(err)
				return
			}
		}()
	}

	// Final commit before exiting.
	sess.Commit()

	return nil
}

// Close gracefully shuts down the event bus by closing both producer and
// consumer connections.
func (b *EventBus) Close() error {
	logger := b.logger.With("operation", "close")
	ctx, span := b.tracer.Start(context.Background(), "kafka_event_bus.close")
	defer span.End()

	if err := b.producer.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close producer")
		logger.Error(ctx, "Failed to close producer", "error", err)
		return err
	}
	if err := b.consumerGroup.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close consumer group")
		logger.Error(ctx, "Failed to close consumer group", "error", err)
		return err
	}

	span.AddEvent("closed_event_bus")
	span.SetStatus(codes.Ok, "closed event bus")
	logger.Info(ctx, "Closed event bus")

	return nil
}
