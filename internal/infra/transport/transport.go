// Package transport selects and constructs the event bus backend for a
// deployment. The orchestrator and the workers must agree on the backend and
// its naming configuration; everything above this package only sees
// events.EventBus.
package transport

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/complyforge/complyforge/internal/domain/events"
	"github.com/complyforge/complyforge/internal/infra/eventbus/kafka"
	"github.com/complyforge/complyforge/internal/infra/eventbus/memory"
	"github.com/complyforge/complyforge/internal/infra/eventbus/redis"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

// Kind names a transport backend.
type Kind string

const (
	// KindKafka backs endpoints with Kafka topics.
	KindKafka Kind = "kafka"
	// KindRedis backs endpoints with Redis streams.
	KindRedis Kind = "redis"
	// KindMemory is a single-process broker for tests and local development.
	KindMemory Kind = "memory"
)

// Config selects a backend and carries its backend-specific settings.
type Config struct {
	Kind  Kind
	Kafka kafka.Config
	Redis redis.Config
}

// BusMetrics defines the counter surface a backend reports delivery activity
// through. Both broker-backed kinds satisfy their per-package interfaces with
// any implementation of this one.
type BusMetrics interface {
	IncMessagePublished(ctx context.Context, destination string)
	IncMessageConsumed(ctx context.Context, destination string)
	IncPublishError(ctx context.Context, destination string)
	IncConsumeError(ctx context.Context, destination string)
}

// NewEventBus constructs the configured event bus backend. A nil metrics
// collector disables delivery counters.
func NewEventBus(cfg Config, metrics BusMetrics, logger *logger.Logger, tracer trace.Tracer) (events.EventBus, error) {
	switch cfg.Kind {
	case KindKafka:
		return kafka.NewEventBus(&cfg.Kafka, metrics, logger, tracer)
	case KindRedis:
		return redis.NewEventBus(&cfg.Redis, metrics, logger, tracer)
	case KindMemory:
		return memory.NewBroker(), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}
