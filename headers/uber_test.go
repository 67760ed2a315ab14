package headers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzs0/hoptrace/trace"
)

func newUber(t *testing.T, key, sep string) Uber {
	t.Helper()
	u, err := NewUber(key, sep)
	require.NoError(t, err)
	return u
}

func TestUberEncode(t *testing.T) {
	tests := []struct {
		name string
		ctx  trace.Context
		want string
	}{
		{
			name: "root sampled",
			ctx:  trace.Context{TraceID: testTraceID, SpanID: testSpanID, Sampled: true},
			want: testTraceID + ":" + testSpanID + ":0:1",
		},
		{
			name: "child unsampled",
			ctx:  trace.Context{TraceID: testTraceID, SpanID: testSpanID, ParentID: testParentID},
			want: testTraceID + ":" + testSpanID + ":" + testParentID + ":0",
		},
		{
			name: "debug",
			ctx:  trace.Context{TraceID: testTraceID, SpanID: testSpanID, Sampled: true, Debug: true},
			want: testTraceID + ":" + testSpanID + ":0:2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newUber(t, "", "").Encode(tt.ctx)
			assert.Equal(t, tt.want, h.Get(UberTraceID))
		})
	}
}

func TestUberRoundTrip(t *testing.T) {
	u := newUber(t, "", "")
	for _, f := range []trace.Flags{trace.FlagsNone, trace.FlagsSampled, trace.FlagsDebug} {
		ctx := trace.Context{TraceID: testTraceID, SpanID: testSpanID, ParentID: testParentID}.WithFlags(f)
		got, ok := u.Decode(u.Encode(ctx))
		require.True(t, ok)
		assert.Equal(t, ctx, got)
		assert.Equal(t, f, got.Flags())
	}
}

func TestUberCustomKeyAndSeparator(t *testing.T) {
	u := newUber(t, "X-Trace", "|")
	assert.Equal(t, []string{"x-trace"}, u.Keys())
	assert.Equal(t, "x-trace", u.TraceIDHeader())

	ctx := trace.Context{TraceID: testTraceID, SpanID: testSpanID, Sampled: true}
	h := u.Encode(ctx)
	assert.Equal(t, testTraceID+"|"+testSpanID+"|0|1", h.Get("x-trace"))

	got, ok := u.Decode(h)
	require.True(t, ok)
	assert.Equal(t, ctx, got)
}

func TestNewUberRejectsHexSeparator(t *testing.T) {
	_, err := NewUber("", "a")
	assert.Error(t, err)
}

func TestUberDecode(t *testing.T) {
	u := newUber(t, "", "")

	tests := []struct {
		name  string
		value string
		want  trace.Context
		ok    bool
	}{
		{
			name:  "short ids are padded",
			value: "7d72ac7c4680bf:43218de4:0:1",
			want:  trace.Context{TraceID: "007d72ac7c4680bf", SpanID: "0000000043218de4", Sampled: true},
			ok:    true,
		},
		{
			name:  "jaeger debug bitfield",
			value: testTraceID + ":" + testSpanID + ":0:3",
			want:  trace.Context{TraceID: testTraceID, SpanID: testSpanID, Sampled: true, Debug: true},
			ok:    true,
		},
		{
			name:  "url encoded",
			value: testTraceID + "%3A" + testSpanID + "%3A0%3A1",
			want:  trace.Context{TraceID: testTraceID, SpanID: testSpanID, Sampled: true},
			ok:    true,
		},
		{name: "too few fields", value: testTraceID + ":" + testSpanID + ":1"},
		{name: "bad flags", value: testTraceID + ":" + testSpanID + ":0:x"},
		{name: "zero span id", value: testTraceID + ":0:0:1"},
		{name: "trace id too long", value: testTraceID + "00:" + testSpanID + ":0:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := u.Decode(http.Header{"Uber-Trace-Id": {tt.value}})
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestUberFallsBackToB3(t *testing.T) {
	u := newUber(t, "", "")
	h := B3{}.Encode(trace.Context{TraceID: testTraceID, SpanID: testSpanID, Sampled: true})

	got, ok := u.Decode(h)
	require.True(t, ok)
	assert.Equal(t, testTraceID, got.TraceID)

	id, ok := u.ExtractTraceID(h)
	require.True(t, ok)
	assert.Equal(t, testTraceID, id)
}

func TestUberUpdate(t *testing.T) {
	u := newUber(t, "", "")
	ctx := trace.Context{TraceID: testTraceID, SpanID: testSpanID, Sampled: true}

	t.Run("writes into empty response", func(t *testing.T) {
		h := http.Header{}
		u.Update(ctx, h)
		assert.Equal(t, testTraceID+":"+testSpanID+":0:1", h.Get(UberTraceID))
	})

	t.Run("idempotent", func(t *testing.T) {
		h := http.Header{}
		u.Update(ctx, h)
		first := h.Clone()
		u.Update(ctx, h)
		assert.Equal(t, first, h)
	})

	t.Run("stale trace id is overwritten", func(t *testing.T) {
		h := http.Header{}
		h.Set(UberTraceID, "abc:1111111111111111:0:1")
		u.Update(ctx, h)
		assert.Equal(t, []string{testTraceID + ":" + testSpanID + ":0:1"}, h.Values(UberTraceID))
	})

	t.Run("converts and removes b3 headers", func(t *testing.T) {
		inner := trace.Context{TraceID: "7d72ac7c4680bfed", SpanID: "1111111111111111", ParentID: testParentID, Sampled: true}
		h := B3{}.Encode(inner)
		h.Set("Content-Type", "application/json")

		u.Update(ctx, h)

		for _, k := range (B3{}).Keys() {
			assert.Empty(t, h.Values(k), k)
		}
		assert.Equal(t, "7d72ac7c4680bfed:1111111111111111:"+testParentID+":1", h.Get(UberTraceID))
		assert.Equal(t, "application/json", h.Get("Content-Type"))
	})

	t.Run("invalid b3 headers are still removed", func(t *testing.T) {
		h := http.Header{}
		h.Set(B3TraceID, testTraceID)
		u.Update(ctx, h)

		assert.Empty(t, h.Values(B3TraceID))
		assert.Equal(t, testTraceID+":"+testSpanID+":0:1", h.Get(UberTraceID))
	})
}
