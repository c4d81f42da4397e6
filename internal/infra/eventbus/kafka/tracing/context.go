package tracing

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts sarama record headers to the TextMapCarrier interface
// so the configured propagator can read and write trace context on messages.
type headerCarrier struct {
	headers []sarama.RecordHeader
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range c.headers {
		if string(h.Key) == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(c.headers))
	for i, h := range c.headers {
		keys[i] = string(h.Key)
	}
	return keys
}

// InjectTraceContext writes the current trace context into the outgoing
// message's headers.
func InjectTraceContext(ctx context.Context, msg *sarama.ProducerMessage) {
	carrier := &headerCarrier{headers: msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	msg.Headers = carrier.headers
}

// ExtractTraceContext returns a context carrying the trace context found in
// the consumed message's headers, if any.
func ExtractTraceContext(ctx context.Context, msg *sarama.ConsumerMessage) context.Context {
	carrier := &headerCarrier{headers: make([]sarama.RecordHeader, 0, len(msg.Headers))}
	for _, h := range msg.Headers {
		if h != nil {
			carrier.headers = append(carrier.headers, *h)
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
