// Package eventbus adapts domain-level event publishing to the transport
// event bus abstraction. The concrete buses live in subpackages, one per
// transport backend.
package eventbus

import (
	"context"

	"github.com/complyforge/complyforge/internal/domain/events"
	"github.com/complyforge/complyforge/pkg/common/timeutil"
)

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher implements events.DomainEventPublisher on top of any
// events.EventBus. It wraps domain events in envelopes and forwards the
// publish options unchanged, so routing keys and headers reach the backend.
type DomainEventPublisher struct {
	eventBus     events.EventBus
	timeProvider timeutil.Provider
}

// NewDomainEventPublisher creates a publisher that distributes domain events
// through the given bus.
func NewDomainEventPublisher(bus events.EventBus) *DomainEventPublisher {
	return &DomainEventPublisher{eventBus: bus, timeProvider: timeutil.Default()}
}

// PublishDomainEvent wraps the event in an envelope stamped with the publish
// time and sends it to the endpoint.
func (pub *DomainEventPublisher) PublishDomainEvent(
	ctx context.Context,
	to events.Endpoint,
	event events.DomainEvent,
	opts ...events.PublishOption,
) error {
	envelope := events.EventEnvelope{
		Type:      event.EventType(),
		Timestamp: pub.timeProvider.Now(),
		Payload:   event,
	}
	return pub.eventBus.Publish(ctx, to, envelope, opts...)
}
