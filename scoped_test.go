package hoptrace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openzipkin/zipkin-go/model"
	"github.com/openzipkin/zipkin-go/reporter/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kzs0/hoptrace/headers"
	"github.com/kzs0/hoptrace/trace"
)

// scopedContext returns a context inside a traced request together with its root span.
func scopedContext(t *testing.T) (context.Context, trace.Span, *recorder.ReporterRecorder) {
	t.Helper()
	tracer, rec := newRecorderTracer(t)
	t.Cleanup(func() { _ = tracer.Close(context.Background()) })
	root := tracer.NewTrace(context.Background(), trace.WithName("root"), trace.WithKind(trace.KindServer))
	return WithRequestScope(context.Background(), tracer, root), root, rec
}

func TestTracePassThroughOutsideRequest(t *testing.T) {
	ctx := context.Background()
	inner, tr := NewTrace("outside").Start(ctx)
	defer tr.End()

	assert.Equal(t, ctx, inner)
	_, ok := tr.TraceID()
	assert.False(t, ok)
	assert.Nil(t, tr.Span())
	assert.NoError(t, tr.Tag("k", "v"))
	assert.NoError(t, tr.Annotate("note"))
	assert.Empty(t, tr.MakeHeaders())
	assert.Empty(t, MakeHeaders(inner))

	tr.End()
	assert.NoError(t, tr.Tag("k", "v"), "pass-through stays a no-op after End")
}

func TestTraceUsageErrors(t *testing.T) {
	ctx, _, _ := scopedContext(t)

	desc := NewTrace("lifecycle")
	assert.ErrorIs(t, desc.Tag("k", "v"), ErrNotStarted)
	assert.ErrorIs(t, desc.Annotate("note"), ErrNotStarted)
	desc.End()

	_, tr := desc.Start(ctx)
	require.NoError(t, tr.Tag("k", "v"))
	tr.End()
	tr.End()

	assert.ErrorIs(t, tr.Tag("k", "v"), ErrEnded)
	assert.ErrorIs(t, tr.Annotate("note"), ErrEnded)
	_, ok := tr.TraceID()
	assert.True(t, ok, "identity survives End")
}

func TestNestedTracesFinishInnermostFirst(t *testing.T) {
	ctx, root, rec := scopedContext(t)

	ctxA, a := NewTrace("a").Start(ctx)
	ctxB, b := NewTrace("b", WithKind(trace.KindClient), WithTags("db", "orders", "dangling")).Start(ctxA)

	current, ok := CurrentSpan(ctxB)
	require.True(t, ok)
	assert.Equal(t, b.Span(), current)
	active, _ := ActiveSpan(ctx)
	assert.Equal(t, root, active, "the outer context is unaffected")

	require.NoError(t, b.Annotate("queried", time.Unix(1700000000, 0)))
	b.End()
	a.End()
	root.Finish()

	spans := rec.Flush()
	require.Len(t, spans, 3)
	assert.Equal(t, []string{"b", "a", "root"}, []string{spans[0].Name, spans[1].Name, spans[2].Name})

	rootID := spans[2].ID
	require.NotNil(t, spans[1].ParentID)
	assert.Equal(t, rootID, *spans[1].ParentID)
	require.NotNil(t, spans[0].ParentID)
	assert.Equal(t, spans[1].ID, *spans[0].ParentID)

	assert.Equal(t, model.Client, spans[0].Kind)
	assert.Equal(t, model.Server, spans[1].Kind)
	assert.Equal(t, map[string]string{"db": "orders"}, spans[0].Tags)
	require.Len(t, spans[0].Annotations, 1)
	assert.Equal(t, time.Unix(1700000000, 0), spans[0].Annotations[0].Timestamp)
}

func TestMakeHeadersUsesInnermostSpan(t *testing.T) {
	ctx, root, _ := scopedContext(t)

	assert.Empty(t, MakeHeaders(ctx), "the root span alone is not a current span")
	assert.Equal(t, root.Context().SpanID, ActiveHeaders(ctx).Get(headers.B3SpanID))

	inner, tr := NewTrace("call").Start(ctx)
	defer tr.End()

	h := MakeHeaders(inner)
	sc, ok := tr.Context()
	require.True(t, ok)
	assert.Equal(t, sc.TraceID, h.Get(headers.B3TraceID))
	assert.Equal(t, sc.SpanID, h.Get(headers.B3SpanID))
	assert.Equal(t, root.Context().SpanID, h.Get(headers.B3ParentSpanID))
	assert.Equal(t, h, tr.MakeHeaders())
	assert.Equal(t, h, ActiveHeaders(inner))
}

func TestDo(t *testing.T) {
	ctx, root, rec := scopedContext(t)
	errLookup := errors.New("lookup failed")

	err := Do(ctx, "lookup", func(ctx context.Context) error {
		span, ok := CurrentSpan(ctx)
		require.True(t, ok)
		assert.Equal(t, root.Context().SpanID, span.Context().ParentID)
		return errLookup
	}, WithTag("table", "users"))
	assert.Same(t, errLookup, err)

	spans := rec.Flush()
	require.Len(t, spans, 1)
	assert.Equal(t, "lookup", spans[0].Name)
	assert.Equal(t, "users", spans[0].Tags["table"])
	assert.Equal(t, "true", spans[0].Tags["error"])
	assert.Equal(t, "lookup failed", spans[0].Tags["error.message"])
}

func TestDoPanic(t *testing.T) {
	ctx, _, rec := scopedContext(t)

	assert.PanicsWithValue(t, "bad state", func() {
		_ = Do(ctx, "explode", func(context.Context) error {
			panic("bad state")
		})
	})

	spans := rec.Flush()
	require.Len(t, spans, 1)
	assert.Equal(t, "true", spans[0].Tags["error"])
	assert.Equal(t, "string", spans[0].Tags["error.object"])
	assert.NotEmpty(t, spans[0].Tags["error.stack"])
}

func TestDoValue(t *testing.T) {
	ctx, _, rec := scopedContext(t)

	n, err := DoValue(ctx, "count", func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	spans := rec.Flush()
	require.Len(t, spans, 1)
	assert.NotContains(t, spans[0].Tags, "error")
}

func TestWrap(t *testing.T) {
	ctx, _, rec := scopedContext(t)

	var called bool
	fn := Wrap("wrapped", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, fn(ctx))
	require.NoError(t, fn(ctx))

	assert.True(t, called)
	assert.Len(t, rec.Flush(), 2)
}

func TestGo(t *testing.T) {
	ctx, root, rec := scopedContext(t)

	errc := Go(ctx, "background", func(ctx context.Context) error {
		_, ok := CurrentSpan(ctx)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, <-errc)
	_, open := <-errc
	assert.False(t, open)

	errc = Go(ctx, "crash", func(context.Context) error {
		panic("worker died")
	})
	err := <-errc
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker died")

	spans := rec.Flush()
	require.Len(t, spans, 2)
	for _, s := range spans {
		require.NotNil(t, s.ParentID)
		assert.Equal(t, root.Context().SpanID, s.ParentID.String())
	}
}

func TestGoOutsideRequest(t *testing.T) {
	errFailed := errors.New("failed")
	errc := Go(context.Background(), "untraced", func(context.Context) error { return errFailed })
	assert.ErrorIs(t, <-errc, errFailed)
}

func TestConcurrentTracesShareParent(t *testing.T) {
	ctx, root, rec := scopedContext(t)

	const n = 8
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return Do(gctx, "worker", func(ctx context.Context) error {
				return Do(ctx, "step", func(context.Context) error { return nil })
			})
		})
	}
	require.NoError(t, g.Wait())

	spans := rec.Flush()
	require.Len(t, spans, 2*n)
	seen := map[model.ID]bool{}
	workers := map[model.ID]bool{}
	for _, s := range spans {
		assert.False(t, seen[s.ID], "span IDs are unique")
		seen[s.ID] = true
		if s.Name == "worker" {
			workers[s.ID] = true
			assert.Equal(t, root.Context().SpanID, s.ParentID.String())
		}
	}
	for _, s := range spans {
		if s.Name == "step" {
			assert.True(t, workers[*s.ParentID], "steps are children of their own worker")
		}
	}
}
