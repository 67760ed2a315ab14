package trace

import (
	"context"
	"time"
)

// Tracer creates spans. Implementations must be safe for concurrent use; the middleware
// shares a single Tracer across every in-flight request.
type Tracer interface {
	// NewTrace starts a root span with a fresh trace ID.
	NewTrace(ctx context.Context, opts ...StartOption) Span
	// NewChild starts a span in parent's trace with parent's span as its parent.
	NewChild(ctx context.Context, parent Context, opts ...StartOption) Span
	// Close flushes pending spans and releases the reporting transport.
	Close(ctx context.Context) error
}

// StartOptions configures span creation.
type StartOptions struct {
	Name      string
	Kind      Kind
	StartTime time.Time
	// Sampled forces the sampling decision of a new trace when non-nil.
	Sampled *bool
}

// StartOption configures span creation.
type StartOption func(*StartOptions)

// WithName sets the span name.
func WithName(name string) StartOption {
	return func(o *StartOptions) {
		o.Name = name
	}
}

// WithKind sets the span kind.
func WithKind(kind Kind) StartOption {
	return func(o *StartOptions) {
		o.Kind = kind
	}
}

// WithStartTime overrides the span start timestamp.
func WithStartTime(t time.Time) StartOption {
	return func(o *StartOptions) {
		o.StartTime = t
	}
}

// WithSampled forces the sampling decision for NewTrace.
func WithSampled(sampled bool) StartOption {
	return func(o *StartOptions) {
		o.Sampled = &sampled
	}
}

// ApplyStartOptions folds opts into a StartOptions value.
func ApplyStartOptions(opts []StartOption) StartOptions {
	var o StartOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
