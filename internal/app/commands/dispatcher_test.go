package commands

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/domain/events"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

type testCommand struct {
	id  string
	typ events.EventType
}

func (c testCommand) EventType() events.EventType { return c.typ }
func (c testCommand) OccurredAt() time.Time       { return time.Now() }
func (c testCommand) CommandID() string           { return c.id }
func (c testCommand) ValidateCommand() error      { return nil }

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func TestDispatchRoutesToHandler(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	var got Command
	err := d.RegisterHandler(ctx, "TestCommand", func(ctx context.Context, cmd Command) analysis.RunResult {
		got = cmd
		return analysis.Success()
	})
	require.NoError(t, err)

	cmd := testCommand{id: "cmd-1", typ: "TestCommand"}
	result := d.Dispatch(ctx, cmd)

	assert.Equal(t, analysis.ResultSuccess, result.Kind())
	assert.Equal(t, "cmd-1", got.CommandID())
}

func TestDispatchMissingHandlerReturnsFailure(t *testing.T) {
	d := newTestDispatcher()

	result := d.Dispatch(context.Background(), testCommand{id: "cmd-2", typ: "Unknown"})

	require.True(t, result.IsFailure())
	assert.ErrorIs(t, result.Cause(), ErrNoHandler)
	assert.Contains(t, result.Cause().Error(), "Unknown")
}

func TestRegisterHandlerRejectsDuplicate(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	handler := func(ctx context.Context, cmd Command) analysis.RunResult { return analysis.Success() }
	require.NoError(t, d.RegisterHandler(ctx, "TestCommand", handler))
	assert.Error(t, d.RegisterHandler(ctx, "TestCommand", handler))
}

func TestMiddlewareExecutesInRegistrationOrder(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, cmd Command) analysis.RunResult {
				order = append(order, name+":before")
				result := next(ctx, cmd)
				order = append(order, name+":after")
				return result
			}
		}
	}

	d.AddMiddleware(ctx, mw("first"))
	d.AddMiddleware(ctx, mw("second"))

	require.NoError(t, d.RegisterHandler(ctx, "TestCommand", func(ctx context.Context, cmd Command) analysis.RunResult {
		order = append(order, "handler")
		return analysis.Success()
	}))

	d.Dispatch(ctx, testCommand{id: "cmd-3", typ: "TestCommand"})

	// Onion composition: the first registered middleware observes the
	// command first and the result last.
	assert.Equal(t, []string{
		"first:before",
		"second:before",
		"handler",
		"second:after",
		"first:after",
	}, order)
}

func TestRegistrationNotBlockedByRunningHandler(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, d.RegisterHandler(ctx, "SlowCommand", func(ctx context.Context, cmd Command) analysis.RunResult {
		close(started)
		<-release
		return analysis.Success()
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Dispatch(ctx, testCommand{id: "cmd-4", typ: "SlowCommand"})
	}()

	<-started

	// The dispatch lock must not be held across handler execution, so a
	// new registration completes while the handler is still running.
	done := make(chan error, 1)
	go func() {
		done <- d.RegisterHandler(ctx, "OtherCommand", func(ctx context.Context, cmd Command) analysis.RunResult {
			return analysis.Success()
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("registration blocked by a running handler")
	}

	close(release)
	wg.Wait()
}
