package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/complyforge/complyforge/internal/config"
	"github.com/complyforge/complyforge/internal/domain/events"
	"github.com/complyforge/complyforge/internal/infra/eventbus/kafka"
	"github.com/complyforge/complyforge/internal/infra/eventbus/redis"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

// FromAppConfig maps the application transport settings onto the backend
// configs. The consumer identity defaults to the service name when the
// configuration leaves it empty.
func FromAppConfig(cfg config.TransportConfig, serviceName string) Config {
	clientID := cfg.Kafka.ClientID
	if clientID == "" {
		clientID = serviceName
	}
	consumer := cfg.Redis.Consumer
	if consumer == "" {
		consumer = serviceName
	}
	return Config{
		Kind: Kind(cfg.Kind),
		Kafka: kafka.Config{
			Brokers:     cfg.Kafka.Brokers,
			TopicPrefix: cfg.Kafka.TopicPrefix,
			GroupID:     cfg.Kafka.GroupID,
			ClientID:    clientID,
		},
		Redis: redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			StreamPrefix: cfg.Redis.StreamPrefix,
			Group:        cfg.Redis.Group,
			Consumer:     consumer,
			BlockTimeout: cfg.Redis.BlockTimeout,
			ClaimMinIdle: cfg.Redis.ClaimMinIdle,
		},
	}
}

// NewEventBusWithRetry constructs the configured event bus, retrying with
// exponential backoff while the broker is still coming up. Deployments often
// start the orchestrator and the broker together; retrying here avoids a
// crash loop during that window.
func NewEventBusWithRetry(
	ctx context.Context,
	cfg Config,
	metrics BusMetrics,
	log *logger.Logger,
	tracer trace.Tracer,
) (events.EventBus, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 5 * time.Second
	expBackoff.MaxElapsedTime = 5 * time.Minute

	var bus events.EventBus
	operation := func() error {
		var err error
		bus, err = NewEventBus(cfg, metrics, log, tracer)
		if err != nil {
			log.Warn(ctx, "Event bus connection failed, will retry", "kind", cfg.Kind, "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("connecting %s event bus: %w", cfg.Kind, err)
	}
	return bus, nil
}
