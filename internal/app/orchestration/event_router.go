package orchestration

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/domain/events"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

// EventRouter subscribes to the orchestrator endpoint and routes each
// envelope to the matching orchestrator operation. It translates RunResult
// values into the transport acknowledgement contract: successes and ignored
// events are acknowledged, failures are surfaced so the bus redelivers.
type EventRouter struct {
	bus          events.EventBus
	orchestrator *Orchestrator

	logger *logger.Logger
	tracer trace.Tracer
}

// NewEventRouter builds a router over the given bus and orchestrator.
func NewEventRouter(
	bus events.EventBus,
	orchestrator *Orchestrator,
	logger *logger.Logger,
	tracer trace.Tracer,
) *EventRouter {
	return &EventRouter{
		bus:          bus,
		orchestrator: orchestrator,
		logger:       logger.With("component", "event_router"),
		tracer:       tracer,
	}
}

// Start subscribes on the orchestrator endpoint. The subscription runs until
// the context is cancelled or the bus is closed.
func (r *EventRouter) Start(ctx context.Context) error {
	if err := r.bus.Subscribe(ctx, analysis.EndpointOrchestrator, r.route); err != nil {
		return fmt.Errorf("subscribe to %s endpoint: %w", analysis.EndpointOrchestrator, err)
	}
	r.logger.Info(ctx, "Event router subscribed", "endpoint", string(analysis.EndpointOrchestrator))
	return nil
}

// route handles one envelope. Envelopes with an unknown payload type are
// acknowledged and dropped: redelivering them could never succeed.
func (r *EventRouter) route(ctx context.Context, envelope events.EventEnvelope, ack events.AckFunc) error {
	ctx, span := r.tracer.Start(ctx, "event_router.route",
		trace.WithAttributes(
			attribute.String("event_type", string(envelope.Type)),
			attribute.Int64("run_id", envelope.Header.RunID),
		))
	defer span.End()

	var result analysis.RunResult
	switch payload := envelope.Payload.(type) {
	case analysis.CreateRunCommand:
		_, err := r.orchestrator.CreateRun(ctx, payload)
		if err != nil {
			result = analysis.Failed(err)
		} else {
			result = analysis.Success()
		}
	case analysis.JobStartedEvent:
		result = r.orchestrator.HandleJobStarted(ctx, payload)
	case analysis.JobOutcomeEvent:
		result = r.orchestrator.HandleJobOutcome(ctx, payload)
	default:
		r.logger.Error(ctx, "Envelope carries unroutable payload, dropping",
			"event_type", string(envelope.Type),
			"payload_type", fmt.Sprintf("%T", envelope.Payload),
		)
		span.SetStatus(codes.Error, "unroutable payload")
		ack(nil)
		return nil
	}

	if result.IsFailure() {
		err := fmt.Errorf("handle %s: %w", envelope.Type, result.Cause())
		span.RecordError(err)
		span.SetStatus(codes.Error, "handling failed")
		ack(err)
		return err
	}

	if result.IsIgnored() {
		span.AddEvent("event_ignored")
	}
	span.SetStatus(codes.Ok, "event handled")
	ack(nil)
	return nil
}
