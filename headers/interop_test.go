package headers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/propagators/b3"
	"go.opentelemetry.io/contrib/propagators/jaeger"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/kzs0/hoptrace/trace"
)

func remoteContext(t *testing.T, sampled bool) context.Context {
	t.Helper()
	traceID, err := oteltrace.TraceIDFromHex(testTraceID)
	require.NoError(t, err)
	spanID, err := oteltrace.SpanIDFromHex(testSpanID)
	require.NoError(t, err)

	var flags oteltrace.TraceFlags
	if sampled {
		flags = oteltrace.FlagsSampled
	}
	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
	})
	return oteltrace.ContextWithSpanContext(context.Background(), sc)
}

func TestInteropB3(t *testing.T) {
	multi := b3.New(b3.WithInjectEncoding(b3.B3MultipleHeader))
	single := b3.New(b3.WithInjectEncoding(b3.B3SingleHeader))

	t.Run("decode otel multi header", func(t *testing.T) {
		h := http.Header{}
		multi.Inject(remoteContext(t, true), propagation.HeaderCarrier(h))

		got, ok := B3{}.Decode(h)
		require.True(t, ok)
		assert.Equal(t, trace.Context{TraceID: testTraceID, SpanID: testSpanID, Sampled: true}, got)
	})

	t.Run("decode otel single header", func(t *testing.T) {
		h := http.Header{}
		single.Inject(remoteContext(t, false), propagation.HeaderCarrier(h))

		got, ok := B3Single{}.Decode(h)
		require.True(t, ok)
		assert.Equal(t, trace.Context{TraceID: testTraceID, SpanID: testSpanID}, got)
	})

	t.Run("otel extracts our headers", func(t *testing.T) {
		for _, f := range []Formatter{B3{}, B3Single{}} {
			h := f.Encode(trace.Context{TraceID: testTraceID, SpanID: testSpanID, ParentID: testParentID, Sampled: true})

			sc := oteltrace.SpanContextFromContext(multi.Extract(context.Background(), propagation.HeaderCarrier(h)))
			require.True(t, sc.IsValid(), f.Name())
			assert.Equal(t, testTraceID, sc.TraceID().String())
			assert.Equal(t, testSpanID, sc.SpanID().String())
			assert.True(t, sc.IsSampled())
		}
	})
}

func TestInteropJaeger(t *testing.T) {
	prop := jaeger.Jaeger{}
	u, err := NewUber("", "")
	require.NoError(t, err)

	t.Run("decode otel jaeger header", func(t *testing.T) {
		h := http.Header{}
		prop.Inject(remoteContext(t, true), propagation.HeaderCarrier(h))

		got, ok := u.Decode(h)
		require.True(t, ok)
		assert.Equal(t, testTraceID, got.TraceID)
		assert.Equal(t, testSpanID, got.SpanID)
		assert.False(t, got.HasParent())
		assert.True(t, got.Sampled)
	})

	t.Run("otel extracts our header", func(t *testing.T) {
		h := u.Encode(trace.Context{TraceID: testTraceID, SpanID: testSpanID, Sampled: true})

		sc := oteltrace.SpanContextFromContext(prop.Extract(context.Background(), propagation.HeaderCarrier(h)))
		require.True(t, sc.IsValid())
		assert.Equal(t, testTraceID, sc.TraceID().String())
		assert.Equal(t, testSpanID, sc.SpanID().String())
		assert.True(t, sc.IsSampled())
	})
}
