package tracing

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier(t *testing.T) {
	c := &headerCarrier{}

	assert.Empty(t, c.Get("traceparent"))

	c.Set("traceparent", "v1")
	c.Set("baggage", "k=v")
	assert.Equal(t, "v1", c.Get("traceparent"))
	assert.ElementsMatch(t, []string{"traceparent", "baggage"}, c.Keys())

	// Re-setting a key replaces its value instead of appending a duplicate.
	c.Set("traceparent", "v2")
	assert.Equal(t, "v2", c.Get("traceparent"))
	assert.Len(t, c.Keys(), 2)
}

func TestTraceContextRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	produced := &sarama.ProducerMessage{}
	InjectTraceContext(ctx, produced)
	require.NotEmpty(t, produced.Headers)

	consumed := &sarama.ConsumerMessage{}
	for i := range produced.Headers {
		consumed.Headers = append(consumed.Headers, &produced.Headers[i])
	}

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), consumed))
	assert.Equal(t, sc.TraceID(), extracted.TraceID())
	assert.Equal(t, sc.SpanID(), extracted.SpanID())
	assert.True(t, extracted.IsRemote())
}
