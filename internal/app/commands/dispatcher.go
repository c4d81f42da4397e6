package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/domain/events"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

// ErrNoHandler indicates a command was dispatched for which no handler is
// registered. It is carried as the cause of the returned failure result,
// never raised.
var ErrNoHandler = errors.New("no handler registered for command type")

// Dispatcher provides thread-safe registration and execution of command
// handlers. It maps command types to exactly one handler each and wraps
// execution in the registered middleware chain. It is an explicit service
// instance created at process start, not a package-level singleton.
type Dispatcher struct {
	mu          sync.RWMutex
	handlers    map[events.EventType]HandlerFunc
	middlewares []Middleware

	logger *logger.Logger
	tracer trace.Tracer
}

// NewDispatcher creates a Dispatcher with the given logger and tracer.
func NewDispatcher(logger *logger.Logger, tracer trace.Tracer) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[events.EventType]HandlerFunc),
		logger:   logger.With("component", "command_dispatcher"),
		tracer:   tracer,
	}
}

// RegisterHandler binds a handler to the given command type. Registration is
// serialized by an exclusive lock so concurrent initializers cannot corrupt
// the registry; the lock is never held while a dispatched command executes.
// Registering a second handler for the same type is an error.
func (d *Dispatcher) RegisterHandler(ctx context.Context, commandType events.EventType, handler HandlerFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[commandType]; exists {
		return fmt.Errorf("handler already registered for command type %s", commandType)
	}
	d.handlers[commandType] = handler

	d.logger.Debug(ctx, "Handler registered for command type", "command_type", string(commandType))
	return nil
}

// AddMiddleware appends a middleware to the chain. Middlewares execute in
// registration order around the handler: the first added observes the
// command first and the result last.
func (d *Dispatcher) AddMiddleware(ctx context.Context, mw Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.middlewares = append(d.middlewares, mw)
	d.logger.Debug(ctx, "Middleware added", "position", len(d.middlewares)-1)
}

// Dispatch routes the command to its registered handler through the
// middleware chain and returns the handler's result. A command type with no
// registered handler yields a failure result describing the missing handler;
// Dispatch itself never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) analysis.RunResult {
	ctx, span := d.tracer.Start(ctx, "command_dispatcher.dispatch",
		trace.WithAttributes(
			attribute.String("command_type", string(cmd.EventType())),
			attribute.String("command_id", cmd.CommandID()),
		))
	defer span.End()

	// Snapshot the handler and middleware chain so long-running handlers do
	// not block new registrations.
	d.mu.RLock()
	handler, ok := d.handlers[cmd.EventType()]
	mws := make([]Middleware, len(d.middlewares))
	copy(mws, d.middlewares)
	d.mu.RUnlock()

	if !ok {
		span.SetStatus(codes.Error, "missing handler")
		d.logger.Error(ctx, "No handler registered for command",
			"command_type", string(cmd.EventType()),
			"command_id", cmd.CommandID(),
		)
		return analysis.Failed(fmt.Errorf("%w: %s", ErrNoHandler, cmd.EventType()))
	}

	// Fold from the innermost handler outward so the first registered
	// middleware ends up outermost.
	wrapped := handler
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}

	result := wrapped(ctx, cmd)
	if result.IsFailure() {
		span.SetStatus(codes.Error, result.String())
	} else {
		span.SetStatus(codes.Ok, "command handled")
	}
	return result
}
