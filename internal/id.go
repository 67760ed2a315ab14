package internal

import (
	"strings"
)

const (
	// TraceIDLen is the length of a hex-encoded 128-bit trace ID.
	TraceIDLen = 32
	// ShortTraceIDLen is the length of a hex-encoded 64-bit trace ID.
	ShortTraceIDLen = 16
	// SpanIDLen is the length of a hex-encoded 64-bit span ID.
	SpanIDLen = 16
)

// ValidTraceID reports whether s is a 64-bit or 128-bit hex trace ID that is not all zeros.
func ValidTraceID(s string) bool {
	if len(s) != TraceIDLen && len(s) != ShortTraceIDLen {
		return false
	}
	return IsHex(s) && !IsZero(s)
}

// ValidSpanID reports whether s is a 64-bit hex span ID that is not all zeros.
func ValidSpanID(s string) bool {
	return len(s) == SpanIDLen && IsHex(s) && !IsZero(s)
}

// NormalizeID lowercases a hex ID and left-pads it with zeros to width.
// IDs longer than width are returned lowercased but otherwise untouched.
func NormalizeID(s string, width int) string {
	s = strings.ToLower(s)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// NormalizeTraceID pads a trace ID to 16 or 32 characters, whichever is nearest.
func NormalizeTraceID(s string) string {
	if len(s) <= ShortTraceIDLen {
		return NormalizeID(s, ShortTraceIDLen)
	}
	return NormalizeID(s, TraceIDLen)
}

// WideTraceID returns the 128-bit form of a trace ID.
func WideTraceID(s string) string {
	return NormalizeID(s, TraceIDLen)
}

// SameTraceID compares two trace IDs ignoring case and 64/128-bit zero padding.
func SameTraceID(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return WideTraceID(a) == WideTraceID(b)
}

// IsHex checks if a string contains only hexadecimal characters (case-insensitive).
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// IsZero returns true if every character of the hex string is '0'.
func IsZero(s string) bool {
	for _, c := range s {
		if c != '0' {
			return false
		}
	}
	return true
}
