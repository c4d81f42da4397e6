package events

import "context"

// AckFunc acknowledges processing of a delivered envelope. Passing a non-nil
// error signals that processing failed and the transport may redeliver the
// message. Implementations must tolerate at most one invocation per delivery.
type AckFunc func(error)

// HandlerFunc processes a delivered envelope. The transport invokes it once
// per delivery and removes the message only after the handler completes
// without a retryable error. Because delivery is at-least-once, every handler
// must be idempotent with respect to the envelope's trace, run, and job
// identifiers.
type HandlerFunc func(ctx context.Context, envelope EventEnvelope, ack AckFunc) error
