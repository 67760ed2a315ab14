package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type traceKey struct{}

func traceFromContext(ctx context.Context) (string, string) {
	if ids, ok := ctx.Value(traceKey{}).([2]string); ok {
		return ids[0], ids[1]
	}
	return "", ""
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestHandlerAddsTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&HandlerOptions{Output: &buf, TraceContext: traceFromContext})

	ctx := context.WithValue(context.Background(), traceKey{}, [2]string{"6223635aa7bfb6597d72ac7c4680bfed", "ac7cb16943218de4"})
	logger.InfoContext(ctx, "handled")

	out := decode(t, &buf)
	assert.Equal(t, "handled", out["msg"])
	assert.Equal(t, "6223635aa7bfb6597d72ac7c4680bfed", out["trace_id"])
	assert.Equal(t, "ac7cb16943218de4", out["span_id"])
}

func TestHandlerWithoutTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&HandlerOptions{Output: &buf, TraceContext: traceFromContext})

	logger.InfoContext(context.Background(), "untraced")

	out := decode(t, &buf)
	assert.NotContains(t, out, "trace_id")
	assert.NotContains(t, out, "span_id")
}

func TestHandlerSetTraceContextFunc(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&HandlerOptions{Output: &buf})
	h.SetTraceContextFunc(func(context.Context) (string, string) { return "abc", "" })

	slog.New(h).Info("msg")

	out := decode(t, &buf)
	assert.Equal(t, "abc", out["trace_id"])
	assert.NotContains(t, out, "span_id")
}

func TestHandlerWithAttrsKeepsTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&HandlerOptions{Output: &buf, TraceContext: traceFromContext}).With("service", "svc")

	ctx := context.WithValue(context.Background(), traceKey{}, [2]string{"abc", "def"})
	logger.InfoContext(ctx, "msg")

	out := decode(t, &buf)
	assert.Equal(t, "svc", out["service"])
	assert.Equal(t, "abc", out["trace_id"])
	assert.Equal(t, 1, strings.Count(buf.String(), `"service"`))
}

func TestHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&HandlerOptions{Output: &buf, Level: slog.LevelWarn})

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestHandlerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&HandlerOptions{Output: &buf, Format: "text", TraceContext: traceFromContext})

	ctx := context.WithValue(context.Background(), traceKey{}, [2]string{"abc", "def"})
	logger.InfoContext(ctx, "msg")

	assert.Contains(t, buf.String(), "trace_id=abc")
	assert.Contains(t, buf.String(), "span_id=def")
}
