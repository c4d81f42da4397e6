package events

import "time"

// Endpoint names a logical message destination. There is one endpoint per
// worker kind plus one for the orchestrator itself. Concrete transports map
// an endpoint to whatever addressing scheme they use (a Kafka topic, a Redis
// stream, an in-memory channel).
type Endpoint string

func (e Endpoint) String() string { return string(e) }

// Header carries the correlation identifiers attached to every envelope.
// The trace ID is assigned when a run is created and propagated to every
// message belonging to that run.
type Header struct {
	// TraceID correlates all messages belonging to one run.
	TraceID string `json:"traceId"`

	// RunID identifies the run this message belongs to. Zero for messages
	// that are not yet associated with a run.
	RunID int64 `json:"runId"`
}

// EventEnvelope encapsulates all data flowing through the transport, providing
// a standardized format for routing and handling.
type EventEnvelope struct {
	// Type identifies the payload variant for routing and decoding.
	Type EventType

	// Key enables consistent event routing, typically the run ID, so events
	// for the same run can be grouped or partitioned together.
	Key string

	// Header carries the trace and run correlation identifiers.
	Header Header

	// Timestamp records when this envelope was created.
	Timestamp time.Time

	// Payload contains the actual message data. The concrete type depends on
	// the EventType.
	Payload any
}
