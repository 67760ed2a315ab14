package hoptrace

import (
	"context"

	"github.com/kzs0/hoptrace/headers"
	"github.com/kzs0/hoptrace/trace"
)

type contextKey int

const (
	requestScopeKey contextKey = iota
	spanScopeKey
)

// requestScope is the per-request tracer and root span installed by the middleware.
type requestScope struct {
	tracer    trace.Tracer
	root      trace.Span
	formatter headers.Formatter
}

// WithRequestScope returns a context carrying tracer and root as the request scope.
// Nested traces started from the returned context become descendants of root.
// Outbound headers made from it use the B3 format.
func WithRequestScope(ctx context.Context, tracer trace.Tracer, root trace.Span) context.Context {
	return withRequestScope(ctx, &requestScope{tracer: tracer, root: root, formatter: headers.B3{}})
}

func withRequestScope(ctx context.Context, scope *requestScope) context.Context {
	return context.WithValue(ctx, requestScopeKey, scope)
}

func requestScopeFromContext(ctx context.Context) *requestScope {
	if scope, ok := ctx.Value(requestScopeKey).(*requestScope); ok {
		return scope
	}
	return nil
}

// RootSpan returns the request's root span.
func RootSpan(ctx context.Context) (trace.Span, bool) {
	scope := requestScopeFromContext(ctx)
	if scope == nil || scope.root == nil {
		return nil, false
	}
	return scope.root, true
}

// TracerFromContext returns the tracer installed for the request.
func TracerFromContext(ctx context.Context) (trace.Tracer, bool) {
	scope := requestScopeFromContext(ctx)
	if scope == nil || scope.tracer == nil {
		return nil, false
	}
	return scope.tracer, true
}

// withCurrentSpan pushes span as the innermost open span.
func withCurrentSpan(ctx context.Context, span trace.Span) context.Context {
	return context.WithValue(ctx, spanScopeKey, span)
}

// CurrentSpan returns the innermost span opened by Trace.Start, if any.
func CurrentSpan(ctx context.Context) (trace.Span, bool) {
	span, ok := ctx.Value(spanScopeKey).(trace.Span)
	return span, ok && span != nil
}

// ActiveSpan returns the current span, falling back to the request's root span.
func ActiveSpan(ctx context.Context) (trace.Span, bool) {
	if span, ok := CurrentSpan(ctx); ok {
		return span, true
	}
	return RootSpan(ctx)
}

// formatterFromContext returns the request's header formatter, B3 when none was installed.
func formatterFromContext(ctx context.Context) headers.Formatter {
	if scope := requestScopeFromContext(ctx); scope != nil && scope.formatter != nil {
		return scope.formatter
	}
	return headers.B3{}
}

// TraceIDs returns the trace and span IDs of the active span, or empty strings.
// It is shaped for log.Handler.SetTraceContextFunc.
func TraceIDs(ctx context.Context) (traceID, spanID string) {
	span, ok := ActiveSpan(ctx)
	if !ok {
		return "", ""
	}
	sc := span.Context()
	return sc.TraceID, sc.SpanID
}
