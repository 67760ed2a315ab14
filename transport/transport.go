// Package transport instruments outbound HTTP calls made while serving a traced request.
//
// Every call opens a CLIENT span as a child of the span active in the request's
// context and forwards it in the header format of the inbound request. Calls made
// outside a traced request pass through untouched.
package transport

import (
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/kzs0/hoptrace"
	"github.com/kzs0/hoptrace/trace"
)

// Transport is an http.RoundTripper that propagates the trace of the request's context.
type Transport struct {
	// Base is the underlying http.RoundTripper.
	// If nil, http.DefaultTransport is used.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, h := hoptrace.NewTrace("HTTP "+req.Method,
		hoptrace.WithKind(trace.KindClient),
		hoptrace.WithTags(
			"http.method", req.Method,
			"http.url", req.URL.String(),
			"http.host", req.URL.Host,
		),
	).Start(req.Context())
	defer h.End()

	if h.Span() == nil {
		return t.base().RoundTrip(req)
	}

	out := req.Clone(ctx)
	for k, v := range h.MakeHeaders() {
		out.Header[k] = v
	}

	resp, err := t.base().RoundTrip(out)
	if err != nil {
		_ = h.Tag("error", "true")
		_ = h.Tag("error.message", err.Error())
		return resp, err
	}

	_ = h.Tag("http.status_code", strconv.Itoa(resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		_ = h.Tag("error", "true")
	}
	return resp, nil
}

// base returns the base RoundTripper, defaulting to http.DefaultTransport.
func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// NewClient returns a copy of base whose transport propagates traces.
// A nil base yields a client with default settings.
func NewClient(base *http.Client) *http.Client {
	if base == nil {
		return &http.Client{Transport: &Transport{}}
	}
	return &http.Client{
		Transport:     &Transport{Base: base.Transport},
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       base.Timeout,
	}
}

// NewRestyClient returns a resty client whose requests open client spans and carry
// trace headers. Set each request's context with SetContext.
func NewRestyClient() *resty.Client {
	return resty.NewWithClient(NewClient(nil))
}

// RestyMiddleware copies the trace headers of the request's context onto every
// request without opening a span of its own. Outside a nested trace the request's
// root span is forwarded.
//
//	client := resty.New().OnBeforeRequest(transport.RestyMiddleware())
func RestyMiddleware() resty.RequestMiddleware {
	return func(_ *resty.Client, r *resty.Request) error {
		for k, v := range hoptrace.ActiveHeaders(r.Context()) {
			r.Header[k] = v
		}
		return nil
	}
}
