package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openzipkin/zipkin-go/model"
	"github.com/openzipkin/zipkin-go/reporter/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzs0/hoptrace"
	"github.com/kzs0/hoptrace/headers"
	"github.com/kzs0/hoptrace/trace"
	"github.com/kzs0/hoptrace/trace/zipkin"
)

// tracedContext returns a context carrying a request scope and the root span's context.
func tracedContext(t *testing.T) (context.Context, trace.Context, *recorder.ReporterRecorder) {
	t.Helper()
	rec := recorder.NewReporter()
	tracer, err := zipkin.NewTracer(zipkin.Config{ServiceName: "client-test", SampleRate: 1, Reporter: rec})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Close(context.Background()) })

	root := tracer.NewTrace(context.Background(), trace.WithName("root"))
	t.Cleanup(root.Finish)
	return hoptrace.WithRequestScope(context.Background(), tracer, root), root.Context(), rec
}

// echoServer records the headers of the last request it served.
func echoServer(t *testing.T, status int) (*httptest.Server, *http.Header) {
	t.Helper()
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestTransportPropagatesTrace(t *testing.T) {
	ctx, root, rec := tracedContext(t)
	srv, got := echoServer(t, http.StatusOK)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/inventory", nil)
	require.NoError(t, err)
	resp, err := NewClient(nil).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, root.TraceID, got.Get(headers.B3TraceID))
	assert.Equal(t, root.SpanID, got.Get(headers.B3ParentSpanID))
	assert.NotEqual(t, root.SpanID, got.Get(headers.B3SpanID))
	assert.Equal(t, "1", got.Get(headers.B3Sampled))
	assert.Empty(t, req.Header.Get(headers.B3TraceID), "caller's request is not modified")

	spans := rec.Flush()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET", spans[0].Name)
	assert.Equal(t, model.Client, spans[0].Kind)
	assert.Equal(t, "200", spans[0].Tags["http.status_code"])
	assert.Equal(t, srv.URL+"/inventory", spans[0].Tags["http.url"])
	assert.NotContains(t, spans[0].Tags, "error")
	assert.Equal(t, got.Get(headers.B3SpanID), spans[0].ID.String())
}

func TestTransportTagsErrorStatus(t *testing.T) {
	ctx, _, rec := tracedContext(t)
	srv, _ := echoServer(t, http.StatusBadGateway)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, nil)
	require.NoError(t, err)
	resp, err := NewClient(nil).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	spans := rec.Flush()
	require.Len(t, spans, 1)
	assert.Equal(t, "502", spans[0].Tags["http.status_code"])
	assert.Equal(t, "true", spans[0].Tags["error"])
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestTransportTagsTransportError(t *testing.T) {
	ctx, _, rec := tracedContext(t)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://inventory.invalid", nil)
	require.NoError(t, err)
	_, err = (&Transport{Base: failingTransport{}}).RoundTrip(req)
	require.Error(t, err)

	spans := rec.Flush()
	require.Len(t, spans, 1)
	assert.Equal(t, "true", spans[0].Tags["error"])
	assert.Equal(t, "connection refused", spans[0].Tags["error.message"])
}

func TestTransportPassThroughOutsideRequest(t *testing.T) {
	srv, got := echoServer(t, http.StatusOK)

	resp, err := NewClient(nil).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, got.Get(headers.B3TraceID))
}

func TestNewClientCopiesSettings(t *testing.T) {
	base := &http.Client{Timeout: 42}
	c := NewClient(base)

	assert.Equal(t, base.Timeout, c.Timeout)
	tr, ok := c.Transport.(*Transport)
	require.True(t, ok)
	assert.Nil(t, tr.Base)
}

func TestRestyClient(t *testing.T) {
	ctx, root, rec := tracedContext(t)
	srv, got := echoServer(t, http.StatusOK)

	resp, err := NewRestyClient().R().SetContext(ctx).Get(srv.URL + "/stock")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	assert.Equal(t, root.TraceID, got.Get(headers.B3TraceID))
	assert.Equal(t, root.SpanID, got.Get(headers.B3ParentSpanID))
	require.Len(t, rec.Flush(), 1)
}

func TestRestyMiddleware(t *testing.T) {
	ctx, root, rec := tracedContext(t)
	srv, got := echoServer(t, http.StatusOK)

	client := NewRestyClient()
	client.SetTransport(http.DefaultTransport)
	client.OnBeforeRequest(RestyMiddleware())

	_, err := client.R().SetContext(ctx).Get(srv.URL)
	require.NoError(t, err)

	assert.Equal(t, root.TraceID, got.Get(headers.B3TraceID))
	assert.Equal(t, root.SpanID, got.Get(headers.B3SpanID), "forwards the active span without opening one")
	assert.Empty(t, rec.Flush())
}
