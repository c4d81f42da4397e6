// Package events defines the transport contract: endpoint addressing, the
// message envelope, and the send/receive primitives every other component
// relies on. Concrete backends (broker, cloud queue, in-memory bus) live
// behind these interfaces so domain logic never depends on a particular
// messaging technology.
package events

import (
	"context"
	"time"
)

// DomainEvent is implemented by domain-level messages (commands and worker
// outcome events) so they can be published without the caller assembling an
// envelope by hand.
type DomainEvent interface {
	// EventType identifies the payload variant of this event.
	EventType() EventType

	// OccurredAt returns when the event happened.
	OccurredAt() time.Time
}

// DomainEventPublisher publishes domain events to a destination endpoint. It
// provides a technology-agnostic interface to decouple event producers from
// the underlying messaging infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent wraps the event in an envelope and sends it to the
	// given endpoint for asynchronous, at-least-once delivery. It must not
	// block on delivery confirmation beyond local buffering; failures are
	// transient and the caller may retry.
	PublishDomainEvent(ctx context.Context, to Endpoint, event DomainEvent, opts ...PublishOption) error
}

// EventBus enables publishing and subscribing to envelopes across process
// boundaries. It abstracts messaging infrastructure details to keep domain
// logic focused on business concerns rather than transport mechanisms.
type EventBus interface {
	// Publish sends an envelope to the given endpoint for asynchronous,
	// at-least-once delivery to all receivers bound to that endpoint.
	// Returns ErrTransientDelivery-wrapped errors when a retry is safe.
	Publish(ctx context.Context, to Endpoint, event EventEnvelope, opts ...PublishOption) error

	// Subscribe registers a handler invoked once per envelope delivered to
	// the given endpoint. The receive loop acknowledges a message only after
	// the handler completes without a retryable error.
	Subscribe(ctx context.Context, from Endpoint, handler HandlerFunc) error

	// Close gracefully shuts down the bus and releases associated resources.
	Close() error
}
