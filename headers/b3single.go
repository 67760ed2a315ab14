package headers

import (
	"net/http"
	"strings"

	"github.com/kzs0/hoptrace/internal"
	"github.com/kzs0/hoptrace/trace"
)

// B3SingleKey is the B3 single-header key.
const B3SingleKey = "b3"

// B3Single is the compact B3 format:
//
//	b3: {trace-id}-{span-id}-{sampling}-{parent-span-id}
//
// Sampling is "0", "1" or "d" for debug. The sampling and parent fields are optional.
type B3Single struct{}

func (B3Single) Name() string { return NameB3Single }

func (B3Single) Keys() []string { return []string{B3SingleKey} }

func (B3Single) TraceIDHeader() string { return B3SingleKey }

func (B3Single) Encode(c trace.Context) http.Header {
	fields := []string{c.TraceID, c.SpanID}

	var sampling string
	switch {
	case c.Debug:
		sampling = "d"
	case c.Deferred:
	case c.Sampled:
		sampling = "1"
	default:
		sampling = "0"
	}

	if sampling != "" {
		fields = append(fields, sampling)
	}
	if c.HasParent() {
		fields = append(fields, c.ParentID)
	}

	h := http.Header{}
	h.Set(B3SingleKey, strings.Join(fields, "-"))
	return h
}

func (f B3Single) Decode(h http.Header) (trace.Context, bool) {
	if c, ok := f.parse(get(h, B3SingleKey)); ok {
		return c, true
	}
	return B3{}.Decode(h)
}

func (f B3Single) ExtractTraceID(h http.Header) (string, bool) {
	if c, ok := f.parse(get(h, B3SingleKey)); ok {
		return c.TraceID, true
	}
	return B3{}.ExtractTraceID(h)
}

func (f B3Single) Update(c trace.Context, h http.Header) {
	updateSingle(f, c, h)
}

// parse rejects a bare sampling value such as "1"; it carries no identity.
// The value is traceid-spanid[-sampling][-parentid].
func (B3Single) parse(value string) (trace.Context, bool) {
	fields := strings.Split(strings.ToLower(value), "-")
	if len(fields) < 2 || len(fields) > 4 {
		return trace.Context{}, false
	}

	c := trace.Context{TraceID: fields[0], SpanID: fields[1], Deferred: true}
	if !c.IsValid() {
		return trace.Context{}, false
	}

	// a deferred decision leaves a 16-hex parent in the third field
	if len(fields) == 3 && len(fields[2]) == internal.SpanIDLen {
		if !internal.ValidSpanID(fields[2]) {
			return trace.Context{}, false
		}
		c.ParentID = fields[2]
		return c, true
	}

	if len(fields) > 2 {
		switch fields[2] {
		case "d":
			c = c.WithFlags(trace.FlagsDebug)
		case "1", "true":
			c = c.WithFlags(trace.FlagsSampled)
		case "0", "false":
			c = c.WithFlags(trace.FlagsNone)
		default:
			return trace.Context{}, false
		}
	}

	if len(fields) > 3 {
		if !internal.ValidSpanID(fields[3]) {
			return trace.Context{}, false
		}
		c.ParentID = fields[3]
	}
	return c, true
}
