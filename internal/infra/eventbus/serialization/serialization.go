// Package serialization converts event envelopes to and from their JSON wire
// form. Payloads travel inside a universal envelope tagged with the event
// type; a decoder registry reconstructs the typed payload on the consuming
// side.
package serialization

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/complyforge/complyforge/internal/domain/events"
)

// PayloadDecoder reconstructs a typed payload from its raw JSON form.
type PayloadDecoder func(data json.RawMessage) (any, error)

var (
	decoderMu sync.RWMutex
	decoders  = make(map[events.EventType]PayloadDecoder)
)

// RegisterPayloadDecoder binds a decoder to an event type. Registration
// happens at package initialization; rebinding an event type panics because
// two decoders for one type is always a programming error.
func RegisterPayloadDecoder(eventType events.EventType, decoder PayloadDecoder) {
	decoderMu.Lock()
	defer decoderMu.Unlock()
	if _, exists := decoders[eventType]; exists {
		panic(fmt.Sprintf("payload decoder already registered for event type %s", eventType))
	}
	decoders[eventType] = decoder
}

// wireEnvelope is the universal on-the-wire form of an event envelope.
type wireEnvelope struct {
	Type      events.EventType `json:"eventType"`
	Key       string           `json:"key,omitempty"`
	Header    events.Header    `json:"header"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// MarshalEventEnvelope serializes an envelope, including its typed payload,
// into the universal wire form.
func MarshalEventEnvelope(envelope events.EventEnvelope) ([]byte, error) {
	payload, err := json.Marshal(envelope.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for event %s: %w", envelope.Type, err)
	}

	data, err := json.Marshal(wireEnvelope{
		Type:      envelope.Type,
		Key:       envelope.Key,
		Header:    envelope.Header,
		Timestamp: envelope.Timestamp,
		Payload:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope for event %s: %w", envelope.Type, err)
	}
	return data, nil
}

// UnmarshalEventEnvelope parses the universal wire form and reconstructs the
// typed payload through the decoder registry. Unknown event types and
// undecodable payloads surface as events.ErrMalformedEnvelope so consumers
// can drop them instead of requeueing.
func UnmarshalEventEnvelope(data []byte) (events.EventEnvelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return events.EventEnvelope{}, fmt.Errorf("%w: %v", events.ErrMalformedEnvelope, err)
	}

	decoderMu.RLock()
	decoder, exists := decoders[wire.Type]
	decoderMu.RUnlock()
	if !exists {
		return events.EventEnvelope{}, fmt.Errorf("%w: no decoder for event type %s", events.ErrMalformedEnvelope, wire.Type)
	}

	payload, err := decoder(wire.Payload)
	if err != nil {
		return events.EventEnvelope{}, fmt.Errorf("%w: decode %s payload: %v", events.ErrMalformedEnvelope, wire.Type, err)
	}

	return events.EventEnvelope{
		Type:      wire.Type,
		Key:       wire.Key,
		Header:    wire.Header,
		Timestamp: wire.Timestamp,
		Payload:   payload,
	}, nil
}
