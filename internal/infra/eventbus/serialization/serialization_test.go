package serialization

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/domain/events"
)

func TestEnvelopeRoundTripPreservesTypedPayload(t *testing.T) {
	sent := events.EventEnvelope{
		Type: analysis.EventTypeJobOutcome,
		Key:  "17",
		Header: events.Header{
			TraceID: "trace-abc",
			RunID:   17,
		},
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload: analysis.JobOutcomeEvent{
			JobID:      3,
			RunID:      17,
			Kind:       analysis.WorkerKindScanner,
			Outcome:    analysis.ResultFinishedWithIssues,
			FinishedAt: time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
		},
	}

	data, err := MarshalEventEnvelope(sent)
	require.NoError(t, err)

	received, err := UnmarshalEventEnvelope(data)
	require.NoError(t, err)

	assert.Equal(t, sent.Type, received.Type)
	assert.Equal(t, sent.Key, received.Key)
	assert.Equal(t, sent.Header, received.Header)
	assert.True(t, sent.Timestamp.Equal(received.Timestamp))

	payload, ok := received.Payload.(analysis.JobOutcomeEvent)
	require.True(t, ok, "payload decoded as %T", received.Payload)
	assert.Equal(t, sent.Payload, payload)
}

func TestDispatchCommandCarriesOpaqueConfig(t *testing.T) {
	config := json.RawMessage(`{"skipExcluded":true}`)
	sent := events.EventEnvelope{
		Type:      analysis.EventTypeJobDispatch,
		Timestamp: time.Now().UTC(),
		Payload: analysis.JobDispatchCommand{
			JobID:        9,
			RunID:        4,
			Kind:         analysis.WorkerKindAnalyzer,
			Config:       config,
			DispatchedAt: time.Now().UTC(),
		},
	}

	data, err := MarshalEventEnvelope(sent)
	require.NoError(t, err)

	received, err := UnmarshalEventEnvelope(data)
	require.NoError(t, err)

	payload, ok := received.Payload.(analysis.JobDispatchCommand)
	require.True(t, ok)
	assert.JSONEq(t, string(config), string(payload.Config))
}

func TestUnmarshalRejectsUnknownEventType(t *testing.T) {
	data, err := MarshalEventEnvelope(events.EventEnvelope{
		Type:    events.EventType("NoSuchEvent"),
		Payload: map[string]string{"x": "y"},
	})
	require.NoError(t, err)

	_, err = UnmarshalEventEnvelope(data)
	assert.ErrorIs(t, err, events.ErrMalformedEnvelope)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := UnmarshalEventEnvelope([]byte("not json at all"))
	assert.ErrorIs(t, err, events.ErrMalformedEnvelope)
}

func TestRegisterPayloadDecoderRejectsRebinding(t *testing.T) {
	assert.Panics(t, func() {
		RegisterPayloadDecoder(analysis.EventTypeCreateRun, func(json.RawMessage) (any, error) { return nil, nil })
	})
}
