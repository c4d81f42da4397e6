package events

// EventType identifies a payload variant carried by an envelope, enabling
// type-safe routing and decoding. The tagged union over command types
// ("create run") and event types ("job outcome reported") is expressed as an
// EventType plus a payload registered with the serialization layer.
type EventType string

// PublishOption is a function type that modifies PublishParams.
// It enables flexible configuration of publishing behavior through
// functional options.
type PublishOption func(*PublishParams)

// PublishParams contains configuration options for publishing envelopes.
type PublishParams struct {
	// Key is used as a partition key to control event routing and ordering.
	Key string

	// Header carries the trace and run correlation identifiers for the
	// published envelope.
	Header Header
}

// WithKey returns a PublishOption that sets the partition key for routing.
// The key helps ensure related events are processed in order by the same
// consumer.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeader returns a PublishOption that sets the envelope header, carrying
// the trace ID and run ID for correlation.
func WithHeader(header Header) PublishOption {
	return func(p *PublishParams) { p.Header = header }
}
