// Package memory provides an in-memory implementation of the event bus. It
// offers a lightweight, non-persistent broker suitable for tests and
// single-process deployments where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/complyforge/complyforge/internal/domain/events"
)

// ErrBrokerClosed is returned for operations on a closed broker.
var ErrBrokerClosed = errors.New("in-memory broker is closed")

var _ events.EventBus = (*Broker)(nil)

// Broker routes envelopes between endpoints inside one process. Delivery is
// synchronous: Publish invokes every subscriber for the endpoint before
// returning, and a subscriber error is reported to the publisher. Undelivered
// endpoints are not an error; like a real broker, messages to endpoints
// nobody listens on simply vanish.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[events.Endpoint][]events.HandlerFunc
	closed      bool
}

// NewBroker creates an empty in-memory broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[events.Endpoint][]events.HandlerFunc)}
}

// Publish delivers the envelope to every handler subscribed to the endpoint.
func (b *Broker) Publish(ctx context.Context, to events.Endpoint, envelope events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	if params.Key != "" {
		envelope.Key = params.Key
	}
	if params.Header != (events.Header{}) {
		envelope.Header = params.Header
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	handlers := make([]events.HandlerFunc, len(b.subscribers[to]))
	copy(handlers, b.subscribers[to])
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, envelope, func(error) {}); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for all envelopes published to the endpoint.
func (b *Broker) Subscribe(ctx context.Context, from events.Endpoint, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.subscribers[from] = append(b.subscribers[from], handler)
	return nil
}

// Close drops all subscriptions and rejects further use.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = nil
	return nil
}
