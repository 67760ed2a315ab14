package trace

import (
	"fmt"

	"github.com/kzs0/hoptrace/internal"
)

// Flags is the three-state sampling indicator carried on the wire by single-header formats.
type Flags uint8

const (
	// FlagsNone marks a trace that is neither sampled nor debug.
	FlagsNone Flags = iota
	// FlagsSampled marks a sampled trace.
	FlagsSampled
	// FlagsDebug marks a debug trace. Debug traces are always sampled.
	FlagsDebug
)

// String returns the wire token for the flags: "0", "1" or "2".
func (f Flags) String() string {
	switch f {
	case FlagsSampled:
		return "1"
	case FlagsDebug:
		return "2"
	default:
		return "0"
	}
}

// ParseFlags is the inverse of Flags.String.
func ParseFlags(token string) (Flags, error) {
	switch token {
	case "0":
		return FlagsNone, nil
	case "1":
		return FlagsSampled, nil
	case "2":
		return FlagsDebug, nil
	}
	return FlagsNone, fmt.Errorf("trace: invalid flags token %q", token)
}

// Context is the immutable identity of a span as it travels between processes.
type Context struct {
	// TraceID is 16 or 32 lowercase hex characters and is shared by every span of a trace.
	TraceID string
	// SpanID is 16 lowercase hex characters, unique per span.
	SpanID string
	// ParentID is the span ID of the parent span, empty for a root span.
	ParentID string
	// Sampled reports whether the trace is retained for reporting.
	Sampled bool
	// Debug forces collection of the trace.
	Debug bool
	// Deferred is set when no upstream sampling decision was received; the tracer's sampler decides.
	Deferred bool
	// Shared is set when the span ID is shared with the remote caller.
	Shared bool
}

// IsValid returns true if the context has well-formed trace and span IDs.
func (c Context) IsValid() bool {
	return internal.ValidTraceID(c.TraceID) && internal.ValidSpanID(c.SpanID)
}

// HasParent reports whether the context references a parent span.
func (c Context) HasParent() bool {
	return c.ParentID != ""
}

// Flags folds Sampled and Debug into the three-state indicator. Debug outranks sampled.
func (c Context) Flags() Flags {
	switch {
	case c.Debug:
		return FlagsDebug
	case c.Sampled:
		return FlagsSampled
	default:
		return FlagsNone
	}
}

// WithFlags returns a copy of c with Sampled and Debug set from f.
func (c Context) WithFlags(f Flags) Context {
	c.Debug = f == FlagsDebug
	c.Sampled = f != FlagsNone
	c.Deferred = false
	return c
}

// String renders the context for logs.
func (c Context) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", c.TraceID, c.SpanID, c.ParentID, c.Flags())
}
