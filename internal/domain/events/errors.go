package events

import "errors"

// ErrTransientDelivery indicates a transport-level delivery failure that is
// safe to retry. Publish implementations wrap transient broker errors with
// this sentinel so callers can distinguish them from permanent failures.
var ErrTransientDelivery = errors.New("transient delivery error")

// ErrMalformedEnvelope indicates a received message could not be decoded into
// a valid envelope. Such messages are rejected and must not be retried.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// IsTransientDelivery reports whether err is, or wraps, a transient delivery
// error.
func IsTransientDelivery(err error) bool { return errors.Is(err, ErrTransientDelivery) }
