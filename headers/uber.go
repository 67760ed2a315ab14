package headers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kzs0/hoptrace/internal"
	"github.com/kzs0/hoptrace/trace"
)

const (
	// UberTraceID is the default Uber header key.
	UberTraceID = "uber-trace-id"
	// DefaultSeparator joins the Uber header fields.
	DefaultSeparator = ":"

	uberNoParent = "0"

	jaegerSampled = 0x01
	jaegerDebug   = 0x02
)

// Uber is the Jaeger single-header format:
//
//	uber-trace-id: {trace-id}:{span-id}:{parent-span-id}:{flags}
//
// The parent is "0" for a root span and flags is "0", "1" (sampled) or "2" (debug).
type Uber struct {
	key string
	sep string
}

// NewUber returns the Uber format with the given key and separator. Empty values
// select the defaults.
func NewUber(key, sep string) (Uber, error) {
	if key == "" {
		key = UberTraceID
	}
	if sep == "" {
		sep = DefaultSeparator
	}
	if strings.ContainsAny(sep, "0123456789abcdefABCDEF") {
		return Uber{}, errors.New("headers: uber separator must not contain hex digits")
	}
	return Uber{key: strings.ToLower(key), sep: sep}, nil
}

func (u Uber) Name() string { return NameUber }

func (u Uber) Keys() []string { return []string{u.headerKey()} }

func (u Uber) TraceIDHeader() string { return u.headerKey() }

// Separator returns the field separator.
func (u Uber) Separator() string {
	if u.sep == "" {
		return DefaultSeparator
	}
	return u.sep
}

func (u Uber) headerKey() string {
	if u.key == "" {
		return UberTraceID
	}
	return u.key
}

func (u Uber) Encode(c trace.Context) http.Header {
	parent := c.ParentID
	if parent == "" {
		parent = uberNoParent
	}
	h := http.Header{}
	h.Set(u.headerKey(), strings.Join([]string{c.TraceID, c.SpanID, parent, c.Flags().String()}, u.Separator()))
	return h
}

// Decode reads the Uber header and falls back to B3 when it is absent or malformed.
func (u Uber) Decode(h http.Header) (trace.Context, bool) {
	if c, ok := u.parse(get(h, u.headerKey())); ok {
		return c, true
	}
	return B3{}.Decode(h)
}

func (u Uber) ExtractTraceID(h http.Header) (string, bool) {
	if c, ok := u.parse(get(h, u.headerKey())); ok {
		return c.TraceID, true
	}
	return B3{}.ExtractTraceID(h)
}

// Update adopts any B3 context on the response, strips the B3 keys, and writes the
// Uber header unless the same trace ID is already present.
func (u Uber) Update(c trace.Context, h http.Header) {
	updateSingle(u, c, h)
}

func (u Uber) parse(value string) (trace.Context, bool) {
	if value == "" {
		return trace.Context{}, false
	}
	if strings.Contains(value, "%") {
		if unescaped, err := url.QueryUnescape(value); err == nil {
			value = unescaped
		}
	}

	fields := strings.Split(value, u.Separator())
	if len(fields) != 4 {
		return trace.Context{}, false
	}

	traceID := fields[0]
	if len(traceID) > internal.TraceIDLen || !internal.IsHex(traceID) {
		return trace.Context{}, false
	}
	traceID = internal.NormalizeTraceID(traceID)

	spanID := fields[1]
	if len(spanID) > internal.SpanIDLen || !internal.IsHex(spanID) {
		return trace.Context{}, false
	}
	spanID = internal.NormalizeID(spanID, internal.SpanIDLen)

	c := trace.Context{TraceID: traceID, SpanID: spanID}
	if !c.IsValid() {
		return trace.Context{}, false
	}

	if parent := fields[2]; parent != "" && !internal.IsZero(parent) {
		if len(parent) > internal.SpanIDLen || !internal.IsHex(parent) {
			return trace.Context{}, false
		}
		c.ParentID = internal.NormalizeID(parent, internal.SpanIDLen)
	}

	bits, err := strconv.ParseUint(fields[3], 16, 8)
	if err != nil {
		return trace.Context{}, false
	}
	switch {
	case bits&jaegerDebug != 0:
		c = c.WithFlags(trace.FlagsDebug)
	case bits&jaegerSampled != 0:
		c = c.WithFlags(trace.FlagsSampled)
	default:
		c = c.WithFlags(trace.FlagsNone)
	}
	return c, true
}
