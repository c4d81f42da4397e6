// Package commands provides generic command-to-handler routing wrapped by an
// ordered chain of cross-cutting middleware. The orchestrator routes its
// entry points through a Dispatcher so logging and observability apply
// uniformly, decoupling "what happened" from "how it is handled".
package commands

import (
	"context"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/domain/events"
)

// Command represents a typed command routed through the Dispatcher.
type Command interface {
	// Reuse the domain event interface for type and occurrence time.
	events.DomainEvent

	// CommandID uniquely identifies this command instance for logging and
	// idempotency tracking.
	CommandID() string

	// ValidateCommand checks the command's payload before handling.
	ValidateCommand() error
}

// HandlerFunc processes a command. Handlers must not panic; any failure is
// encoded in the returned RunResult.
type HandlerFunc func(ctx context.Context, cmd Command) analysis.RunResult

// Middleware wraps a handler with cross-cutting behavior. The first
// registered middleware observes the command first and the result last.
type Middleware func(next HandlerFunc) HandlerFunc
