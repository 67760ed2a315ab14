package headers

import (
	"net/http"
	"strings"

	"github.com/kzs0/hoptrace/internal"
	"github.com/kzs0/hoptrace/trace"
)

// B3 multi-header keys.
const (
	B3TraceID      = "x-b3-traceid"
	B3SpanID       = "x-b3-spanid"
	B3ParentSpanID = "x-b3-parentspanid"
	B3Sampled      = "x-b3-sampled"
	B3Flags        = "x-b3-flags"
)

var b3Keys = []string{B3TraceID, B3SpanID, B3ParentSpanID, B3Sampled, B3Flags}

// B3 is the Zipkin multi-header format.
//
//	x-b3-traceid: 6223635aa7bfb6597d72ac7c4680bfed
//	x-b3-spanid: ac7cb16943218de4
//	x-b3-parentspanid: 117d72ac7c4680bf
//	x-b3-sampled: 1
//	x-b3-flags: 0
type B3 struct{}

func (B3) Name() string { return NameB3 }

func (B3) Keys() []string {
	return append([]string(nil), b3Keys...)
}

func (B3) TraceIDHeader() string { return B3TraceID }

// Encode writes the trace and span IDs, the parent when present, the sampling
// decision unless it was deferred, and x-b3-flags "2" for debug or "0" otherwise.
func (B3) Encode(c trace.Context) http.Header {
	h := http.Header{}
	h.Set(B3TraceID, c.TraceID)
	h.Set(B3SpanID, c.SpanID)
	if c.HasParent() {
		h.Set(B3ParentSpanID, c.ParentID)
	}
	if !c.Deferred || c.Debug {
		if c.Sampled || c.Debug {
			h.Set(B3Sampled, "1")
		} else {
			h.Set(B3Sampled, "0")
		}
	}
	if c.Debug {
		h.Set(B3Flags, trace.FlagsDebug.String())
	} else {
		h.Set(B3Flags, trace.FlagsNone.String())
	}
	return h
}

func (B3) Decode(h http.Header) (trace.Context, bool) {
	traceID := strings.ToLower(get(h, B3TraceID))
	spanID := strings.ToLower(get(h, B3SpanID))
	if !internal.ValidTraceID(traceID) || !internal.ValidSpanID(spanID) {
		return trace.Context{}, false
	}

	c := trace.Context{TraceID: traceID, SpanID: spanID}

	if parent := get(h, B3ParentSpanID); parent != "" {
		parent = strings.ToLower(parent)
		if !internal.ValidSpanID(parent) {
			return trace.Context{}, false
		}
		c.ParentID = parent
	}

	switch strings.ToLower(get(h, B3Sampled)) {
	case "1", "true":
		c.Sampled = true
	case "0", "false":
	case "":
		c.Deferred = true
	default:
		return trace.Context{}, false
	}

	// "1" is what most B3 implementations send for debug.
	switch get(h, B3Flags) {
	case "1", "2":
		c = c.WithFlags(trace.FlagsDebug)
	}
	return c, true
}

func (B3) ExtractTraceID(h http.Header) (string, bool) {
	traceID := strings.ToLower(get(h, B3TraceID))
	if !internal.ValidTraceID(traceID) {
		return "", false
	}
	return traceID, true
}

// Update writes c unless the response already carries the same trace ID.
// A stale trace ID is overwritten along with the rest of the B3 keys.
func (f B3) Update(c trace.Context, h http.Header) {
	if existing, ok := f.ExtractTraceID(h); ok && internal.SameTraceID(existing, c.TraceID) {
		return
	}
	for _, k := range b3Keys {
		del(h, k)
	}
	replace(h, f.Encode(c))
}
