// Package headers encodes and decodes trace contexts into HTTP header formats.
//
// B3 multi-header is the primary format. The secondary formats (Uber, B3Single,
// TraceParent) fall back to B3 on decode, and on response injection they adopt and
// remove any B3 headers already present, so a response never carries two identities.
package headers

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/kzs0/hoptrace/internal"
	"github.com/kzs0/hoptrace/trace"
)

// Format names accepted by New.
const (
	NameB3          = "b3"
	NameB3Single    = "b3single"
	NameUber        = "uber"
	NameTraceParent = "traceparent"
)

// ErrUnknownFormat is returned by New for an unregistered format name.
var ErrUnknownFormat = errors.New("headers: unknown format")

// Formatter is a stateless header format strategy.
type Formatter interface {
	// Name returns the registry name of the format.
	Name() string
	// Keys returns the lowercase header keys the format reads and writes.
	Keys() []string
	// TraceIDHeader returns the key whose presence signals this format.
	TraceIDHeader() string
	// Encode renders c as a fresh header set.
	Encode(c trace.Context) http.Header
	// Decode reads a trace context from h. It reports false when no valid context is present.
	Decode(h http.Header) (trace.Context, bool)
	// ExtractTraceID returns the trace ID carried by h, if any.
	ExtractTraceID(h http.Header) (string, bool)
	// Update injects c into the response headers h.
	Update(c trace.Context, h http.Header)
}

// Options tunes the configurable formats.
type Options struct {
	// Separator joins the fields of the Uber header. Defaults to ":".
	Separator string
	// HeaderKey overrides the Uber header key. Defaults to "uber-trace-id".
	HeaderKey string
}

var registry = map[string]func(Options) (Formatter, error){
	NameB3:          func(Options) (Formatter, error) { return B3{}, nil },
	NameB3Single:    func(Options) (Formatter, error) { return B3Single{}, nil },
	NameTraceParent: func(Options) (Formatter, error) { return TraceParent{}, nil },
	NameUber: func(o Options) (Formatter, error) {
		u, err := NewUber(o.HeaderKey, o.Separator)
		if err != nil {
			return nil, err
		}
		return u, nil
	},
}

// New returns the formatter registered under name.
func New(name string, opts Options) (Formatter, error) {
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return ctor(opts)
}

// Names returns the registered format names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// get returns the first value of key, matching keys case-insensitively even when
// h was built without canonicalization.
func get(h http.Header, key string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	for k, vs := range h {
		if len(vs) > 0 && strings.EqualFold(k, key) {
			return vs[0]
		}
	}
	return ""
}

// del removes every case variant of key.
func del(h http.Header, key string) {
	h.Del(key)
	for k := range h {
		if strings.EqualFold(k, key) {
			delete(h, k)
		}
	}
}

func has(h http.Header, key string) bool {
	return get(h, key) != ""
}

// replace writes src into dst, dropping any existing values for the same keys.
func replace(dst, src http.Header) {
	for k, vs := range src {
		del(dst, k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// adoptB3 strips B3 headers from a response. If they carried a valid context, that
// context replaces c; a missing B3 sampling decision keeps c's.
func adoptB3(c trace.Context, h http.Header) trace.Context {
	var found bool
	for _, k := range b3Keys {
		if has(h, k) {
			found = true
			break
		}
	}
	if !found {
		return c
	}

	if b3, ok := (B3{}).Decode(h); ok {
		if b3.Deferred {
			b3 = b3.WithFlags(c.Flags())
		}
		c = b3
	}
	for _, k := range b3Keys {
		del(h, k)
	}
	return c
}

// updateSingle implements Update for single-value formats.
func updateSingle(f Formatter, c trace.Context, h http.Header) {
	c = adoptB3(c, h)
	if existing, ok := ownTraceID(f, h); ok && internal.SameTraceID(existing, c.TraceID) {
		return
	}
	replace(h, f.Encode(c))
}

// ownTraceID reads the trace ID from f's own header, ignoring the B3 fallback.
func ownTraceID(f Formatter, h http.Header) (string, bool) {
	if !has(h, f.TraceIDHeader()) {
		return "", false
	}
	return f.ExtractTraceID(h)
}
