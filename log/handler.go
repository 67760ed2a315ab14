// Package log provides a slog.Handler that stamps records with the active trace.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// TraceContextFunc returns the trace and span IDs active in ctx, or empty strings.
type TraceContextFunc func(ctx context.Context) (traceID, spanID string)

// Handler is a custom slog.Handler that injects trace context into logs.
type Handler struct {
	inner       slog.Handler
	getTraceCtx TraceContextFunc
}

// HandlerOptions configures the Handler.
type HandlerOptions struct {
	// Level is the minimum log level to output.
	Level slog.Leveler
	// AddSource adds source code position to log output.
	AddSource bool
	// Output is the writer to write logs to. Defaults to os.Stderr.
	Output io.Writer
	// Format is the output format ("json" or "text"). Defaults to "json".
	Format string
	// TraceContext extracts trace IDs from a record's context.
	TraceContext TraceContextFunc
}

// NewHandler creates a new Handler with the given options.
func NewHandler(opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = &HandlerOptions{}
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	var inner slog.Handler
	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	if opts.Format == "text" {
		inner = slog.NewTextHandler(output, handlerOpts)
	} else {
		inner = slog.NewJSONHandler(output, handlerOpts)
	}

	return &Handler{
		inner:       inner,
		getTraceCtx: opts.TraceContext,
	}
}

// New returns a logger backed by a Handler.
func New(opts *HandlerOptions) *slog.Logger {
	return slog.New(NewHandler(opts))
}

// SetTraceContextFunc sets the function used to extract trace context from context.
func (h *Handler) SetTraceContextFunc(fn TraceContextFunc) {
	h.getTraceCtx = fn
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle handles the Record.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if h.getTraceCtx != nil && ctx != nil {
		traceID, spanID := h.getTraceCtx(ctx)
		if traceID != "" {
			r.AddAttrs(slog.String("trace_id", traceID))
		}
		if spanID != "" {
			r.AddAttrs(slog.String("span_id", spanID))
		}
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new Handler with the given attributes added.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		inner:       h.inner.WithAttrs(attrs),
		getTraceCtx: h.getTraceCtx,
	}
}

// WithGroup returns a new Handler with the given group name.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		inner:       h.inner.WithGroup(name),
		getTraceCtx: h.getTraceCtx,
	}
}
