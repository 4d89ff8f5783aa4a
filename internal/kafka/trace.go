package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// headers exposes Kafka message headers to the otel propagator. Later
// writes for the same key win.
type headers []kafka.Header

func (h headers) Get(key string) string {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Key == key {
			return string(h[i].Value)
		}
	}
	return ""
}

func (h *headers) Set(key, value string) {
	for i := range *h {
		if (*h)[i].Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

func (h headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for _, hd := range h {
		keys = append(keys, hd.Key)
	}
	return keys
}

// InjectTrace returns hs plus the trace context carried by ctx.
func InjectTrace(ctx context.Context, hs []kafka.Header) []kafka.Header {
	c := headers(hs)
	otel.GetTextMapPropagator().Inject(ctx, &c)
	return c
}

// ExtractTrace returns ctx joined to the trace recorded in hs, if any.
func ExtractTrace(ctx context.Context, hs []kafka.Header) context.Context {
	c := headers(hs)
	return otel.GetTextMapPropagator().Extract(ctx, &c)
}
