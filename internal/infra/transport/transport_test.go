package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/complyforge/complyforge/internal/infra/eventbus/memory"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

func TestNewEventBusMemory(t *testing.T) {
	bus, err := NewEventBus(Config{Kind: KindMemory}, nil, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	assert.IsType(t, &memory.Broker{}, bus)
}

func TestNewEventBusUnknownKind(t *testing.T) {
	_, err := NewEventBus(Config{Kind: Kind("carrier-pigeon")}, nil, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	assert.Error(t, err)
}
