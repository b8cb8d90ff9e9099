package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordingLayer(t *testing.T) (*TraceLayer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTraceLayer(tp.Tracer("test")), rec
}

func attrMap(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestTraceLayer_SpanNamesAndAttributes(t *testing.T) {
	layer, rec := recordingLayer(t)
	ctx := context.Background()

	_, s := layer.TraceService(ctx, "BlogService", "Publish")
	s.End()
	_, s = layer.TraceStore(ctx, "ledger.apply", "transactions")
	s.End()
	_, s = layer.TraceUpstreamCall(ctx, "wordpress", "create_post")
	s.End()
	_, s = layer.TraceRedisOperation(ctx, "set")
	s.End()

	ended := rec.Ended()
	require.Len(t, ended, 4)

	assert.Equal(t, "BlogService.Publish", ended[0].Name())
	assert.Equal(t, "Publish", attrMap(ended[0].Attributes())["code.function"])

	assert.Equal(t, "store.ledger.apply", ended[1].Name())
	assert.Equal(t, "transactions", attrMap(ended[1].Attributes())["db.sql.table"])

	assert.Equal(t, "wordpress.create_post", ended[2].Name())
	assert.Equal(t, "wordpress", attrMap(ended[2].Attributes())["peer.service"])

	assert.Equal(t, "redis.set", ended[3].Name())
	assert.Equal(t, "redis", attrMap(ended[3].Attributes())["db.system"])
}

func TestFailSpan(t *testing.T) {
	layer, rec := recordingLayer(t)

	_, ok := layer.TraceService(context.Background(), "Dispatcher", "Dispatch")
	FailSpan(ok, nil)
	ok.End()

	_, bad := layer.TraceUpstreamCall(context.Background(), "linkedin", "ugc_post")
	FailSpan(bad, errors.New("401 unauthorized"))
	bad.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "401 unauthorized", ended[1].Status().Description)
	require.Len(t, ended[1].Events(), 1)
	assert.Equal(t, "exception", ended[1].Events()[0].Name)
}

func TestNewSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), newSampler(1).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), newSampler(2.5).Description())
	assert.Contains(t, newSampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, newSampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestInitTracing(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		shutdown, err := InitTracing(TracingConfig{ServiceName: "schooldesk-test"})
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("otlp without endpoint", func(t *testing.T) {
		_, err := InitTracing(TracingConfig{ServiceName: "schooldesk-test", Enabled: true, Exporter: "otlp"})
		assert.ErrorContains(t, err, "OTLP_ENDPOINT")
	})

	t.Run("unknown exporter", func(t *testing.T) {
		_, err := InitTracing(TracingConfig{ServiceName: "schooldesk-test", Enabled: true, Exporter: "zipkin"})
		assert.ErrorContains(t, err, `unknown tracing exporter "zipkin"`)
	})
}
