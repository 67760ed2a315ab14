package hoptrace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kzs0/hoptrace/headers"
	"github.com/kzs0/hoptrace/trace"
)

var (
	// ErrNotStarted is returned when a trace is used before Start.
	ErrNotStarted = errors.New("hoptrace: trace not started")
	// ErrEnded is returned when a trace is used after End.
	ErrEnded = errors.New("hoptrace: trace already ended")
)

type traceState int

const (
	stateIdle traceState = iota
	stateStarted
	stateEnded
)

// Trace is a nested span scope.
//
// NewTrace returns a reusable description; each Start opens an independent handle
// whose span is a child of the span active in the given context. Outside a traced
// request the handle is a pass-through: Tag and Annotate are no-ops and TraceID is absent.
//
//	ctx, t := hoptrace.NewTrace("load user").Start(ctx)
//	defer t.End()
//	t.Tag("user.id", id)
type Trace struct {
	name string
	cfg  traceConfig

	mu          sync.Mutex
	state       traceState
	passThrough bool
	span        trace.Span
	sc          trace.Context
	formatter   headers.Formatter
}

// NewTrace describes a nested span named name.
func NewTrace(name string, opts ...TraceOption) *Trace {
	return &Trace{name: name, cfg: applyTraceOptions(opts)}
}

// Start opens a handle and returns a context in which it is the current span.
func (t *Trace) Start(ctx context.Context) (context.Context, *Trace) {
	h := &Trace{name: t.name, cfg: t.cfg, state: stateStarted}

	tracer, hasTracer := TracerFromContext(ctx)
	parent, hasParent := ActiveSpan(ctx)
	if !hasTracer || !hasParent {
		h.passThrough = true
		return ctx, h
	}

	span := tracer.NewChild(ctx, parent.Context(),
		trace.WithName(t.name),
		trace.WithKind(t.cfg.kind),
	)
	for _, tag := range t.cfg.tags {
		span.Tag(tag.key, tag.value)
	}

	h.span = span
	h.sc = span.Context()
	h.formatter = formatterFromContext(ctx)
	return withCurrentSpan(ctx, span), h
}

// End finishes the span. Calling End more than once, or on an unstarted trace, does nothing.
func (t *Trace) End() {
	t.mu.Lock()
	if t.state != stateStarted {
		t.mu.Unlock()
		return
	}
	t.state = stateEnded
	span := t.span
	t.mu.Unlock()

	if span != nil {
		span.Finish()
	}
}

// usable reports whether the span may be written, or the usage error.
func (t *Trace) usable() (bool, error) {
	switch {
	case t.state == stateIdle:
		return false, ErrNotStarted
	case t.passThrough:
		return false, nil
	case t.state == stateEnded:
		return false, ErrEnded
	}
	return true, nil
}

// Tag sets a tag on the span.
func (t *Trace) Tag(key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ok, err := t.usable()
	if ok {
		t.span.Tag(key, value)
	}
	return err
}

// Annotate records a timestamped annotation on the span. The timestamp defaults to now.
func (t *Trace) Annotate(value string, ts ...time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ok, err := t.usable()
	if ok {
		at := time.Now()
		if len(ts) > 0 {
			at = ts[0]
		}
		t.span.Annotate(value, at)
	}
	return err
}

// TraceID returns the trace ID of the span. It is absent for pass-through and unstarted traces.
func (t *Trace) TraceID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.span == nil {
		return "", false
	}
	return t.sc.TraceID, true
}

// Context returns the span's trace context.
func (t *Trace) Context() (trace.Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sc, t.span != nil
}

// Span returns the underlying span, nil for pass-through and unstarted traces.
func (t *Trace) Span() trace.Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.span
}

// MakeHeaders encodes the span for an outbound request.
func (t *Trace) MakeHeaders() http.Header {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.span == nil {
		return http.Header{}
	}
	return t.formatter.Encode(t.sc)
}

// recordError tags err onto the span when the trace is live.
func (t *Trace) recordError(err error) {
	_ = t.Tag("error", "true")
	_ = t.Tag("error.object", fmt.Sprintf("%T", err))
	_ = t.Tag("error.message", err.Error())
}

func (t *Trace) recordPanic(v any) {
	_ = t.Tag("error", "true")
	_ = t.Tag("error.object", fmt.Sprintf("%T", v))
	_ = t.Tag("error.stack", string(debug.Stack()))
}

// MakeHeaders encodes the innermost span opened by Trace.Start in ctx with the
// request's header format. It returns an empty header set when no such span is open.
func MakeHeaders(ctx context.Context) http.Header {
	span, ok := CurrentSpan(ctx)
	if !ok {
		return http.Header{}
	}
	return formatterFromContext(ctx).Encode(span.Context())
}

// ActiveHeaders is MakeHeaders falling back to the request's root span, so a call
// made straight from a handler still continues the request's trace.
func ActiveHeaders(ctx context.Context) http.Header {
	span, ok := ActiveSpan(ctx)
	if !ok {
		return http.Header{}
	}
	return formatterFromContext(ctx).Encode(span.Context())
}

// Do runs fn inside a nested trace. A returned error or panic is tagged on the span
// and passed through unchanged.
func Do(ctx context.Context, name string, fn func(context.Context) error, opts ...TraceOption) error {
	_, err := DoValue(ctx, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

// DoValue is Do for functions that return a value.
func DoValue[T any](ctx context.Context, name string, fn func(context.Context) (T, error), opts ...TraceOption) (T, error) {
	ctx, t := NewTrace(name, opts...).Start(ctx)
	defer t.End()
	defer func() {
		if r := recover(); r != nil {
			t.recordPanic(r)
			panic(r)
		}
	}()

	v, err := fn(ctx)
	if err != nil {
		t.recordError(err)
	}
	return v, err
}

// Wrap returns fn wrapped in a nested trace named name.
func Wrap(name string, fn func(context.Context) error, opts ...TraceOption) func(context.Context) error {
	return func(ctx context.Context) error {
		return Do(ctx, name, fn, opts...)
	}
}

// Go runs fn on a new goroutine inside a nested trace whose parent is the span active
// in ctx at the time of the call. The returned channel yields fn's error, or an error
// describing a panic, and is then closed.
func Go(ctx context.Context, name string, fn func(context.Context) error, opts ...TraceOption) <-chan error {
	ctx, t := NewTrace(name, opts...).Start(ctx)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		errc <- runTraced(ctx, t, name, fn)
	}()

	return errc
}

// runTraced runs fn and ends t before the result is delivered.
func runTraced(ctx context.Context, t *Trace, name string, fn func(context.Context) error) (err error) {
	defer t.End()
	defer func() {
		if r := recover(); r != nil {
			t.recordPanic(r)
			err = fmt.Errorf("hoptrace: panic in %s: %v", name, r)
		}
	}()

	if err = fn(ctx); err != nil {
		t.recordError(err)
	}
	return err
}
