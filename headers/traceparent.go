package headers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kzs0/hoptrace/internal"
	"github.com/kzs0/hoptrace/trace"
)

// TraceParentKey is the W3C Trace Context header key.
const TraceParentKey = "traceparent"

// Traceparent format: version-trace-id-parent-id-trace-flags
// Example: 00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01
const (
	versionLen    = 2
	flagsLen      = 2
	fieldCount    = 4
	minLength     = versionLen + 1 + internal.TraceIDLen + 1 + internal.SpanIDLen + 1 + flagsLen
	sampledFlag   = 0x01
	latestVersion = "00"
)

var (
	ErrInvalidTraceparent = errors.New("invalid traceparent header")
	ErrInvalidTraceID     = errors.New("invalid trace-id: must be 32 lowercase hex characters and not all zeros")
	ErrInvalidSpanID      = errors.New("invalid parent-id: must be 16 lowercase hex characters and not all zeros")
	ErrInvalidVersion     = errors.New("invalid version: must be 2 hex characters")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrInvalidFlags       = errors.New("invalid flags: must be 2 hex characters")
)

// TraceParent is the W3C Trace Context format. The format has no debug flag, so debug
// contexts are sent as sampled and decode as not debug. 64-bit trace IDs are widened.
type TraceParent struct{}

func (TraceParent) Name() string { return NameTraceParent }

func (TraceParent) Keys() []string { return []string{TraceParentKey} }

func (TraceParent) TraceIDHeader() string { return TraceParentKey }

func (TraceParent) Encode(c trace.Context) http.Header {
	h := http.Header{}
	h.Set(TraceParentKey, FormatTraceparent(internal.WideTraceID(c.TraceID), c.SpanID, c.Sampled || c.Debug))
	return h
}

func (TraceParent) Decode(h http.Header) (trace.Context, bool) {
	traceID, spanID, flags, err := ParseTraceparent(get(h, TraceParentKey))
	if err != nil {
		return B3{}.Decode(h)
	}
	return trace.Context{
		TraceID: traceID,
		SpanID:  spanID,
		Sampled: flags&sampledFlag != 0,
	}, true
}

func (TraceParent) ExtractTraceID(h http.Header) (string, bool) {
	traceID, _, _, err := ParseTraceparent(get(h, TraceParentKey))
	if err != nil {
		return B3{}.ExtractTraceID(h)
	}
	return traceID, true
}

func (f TraceParent) Update(c trace.Context, h http.Header) {
	updateSingle(f, c, h)
}

// ParseTraceparent parses a W3C traceparent header value.
// Returns the trace ID, parent span ID, flags byte, and any error.
func ParseTraceparent(value string) (string, string, byte, error) {
	if len(value) < minLength {
		return "", "", 0, ErrInvalidTraceparent
	}

	fields := strings.Split(value, "-")
	if len(fields) < fieldCount {
		return "", "", 0, ErrInvalidTraceparent
	}
	version, traceID, spanID, flagsHex := fields[0], fields[1], fields[2], fields[3]

	if len(version) != versionLen || !internal.IsHex(version) {
		return "", "", 0, ErrInvalidVersion
	}
	switch version {
	case "ff":
		return "", "", 0, ErrUnsupportedVersion
	case latestVersion:
		// Version 00 has exactly four fields; later versions may append more.
		if len(fields) != fieldCount {
			return "", "", 0, ErrInvalidTraceparent
		}
	}

	if len(traceID) != internal.TraceIDLen || !isLowercaseHex(traceID) || internal.IsZero(traceID) {
		return "", "", 0, ErrInvalidTraceID
	}
	if len(spanID) != internal.SpanIDLen || !isLowercaseHex(spanID) || internal.IsZero(spanID) {
		return "", "", 0, ErrInvalidSpanID
	}

	if len(flagsHex) != flagsLen {
		return "", "", 0, ErrInvalidFlags
	}
	flags, err := hex.DecodeString(flagsHex)
	if err != nil {
		return "", "", 0, ErrInvalidFlags
	}

	return traceID, spanID, flags[0], nil
}

// FormatTraceparent formats a W3C traceparent header value. Always uses version 00.
func FormatTraceparent(traceID, spanID string, sampled bool) string {
	flags := byte(0)
	if sampled {
		flags |= sampledFlag
	}
	return fmt.Sprintf("%s-%s-%s-%02x", latestVersion, traceID, spanID, flags)
}

// isLowercaseHex checks if a string contains only lowercase hexadecimal characters.
func isLowercaseHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
