package serialization

import (
	"encoding/json"

	"github.com/complyforge/complyforge/internal/domain/analysis"
)

// The analysis payload decoders are bound at package initialization so every
// transport implementation shares the same wire vocabulary.
func init() {
	RegisterPayloadDecoder(analysis.EventTypeCreateRun, decodeJSON[analysis.CreateRunCommand])
	RegisterPayloadDecoder(analysis.EventTypeJobDispatch, decodeJSON[analysis.JobDispatchCommand])
	RegisterPayloadDecoder(analysis.EventTypeJobStarted, decodeJSON[analysis.JobStartedEvent])
	RegisterPayloadDecoder(analysis.EventTypeJobOutcome, decodeJSON[analysis.JobOutcomeEvent])
}

func decodeJSON[T any](data json.RawMessage) (any, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
