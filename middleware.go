package hoptrace

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"

	"github.com/kzs0/hoptrace/config"
	"github.com/kzs0/hoptrace/headers"
	"github.com/kzs0/hoptrace/trace"
)

// Request is the framework-neutral view of an inbound request.
type Request struct {
	Method     string
	Scheme     string
	Host       string
	Path       string
	RawQuery   string
	Header     http.Header
	RemoteAddr string
	// Endpoint identifies the routed handler, e.g. "GET /users/{id}". Empty when unknown.
	Endpoint string
}

// URL returns the full request URL.
func (r *Request) URL() string {
	u := url.URL{Scheme: r.scheme(), Host: r.Host, Path: r.Path, RawQuery: r.RawQuery}
	return u.String()
}

// Query returns the unescaped query string.
func (r *Request) Query() string {
	q, err := url.QueryUnescape(r.RawQuery)
	if err != nil {
		return r.RawQuery
	}
	return q
}

// RemoteHost returns the client host without its port.
func (r *Request) RemoteHost() string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (r *Request) scheme() string {
	if r.Scheme == "" {
		return "http"
	}
	return strings.ToLower(r.Scheme)
}

// Response is the framework-neutral view of a response.
type Response interface {
	StatusCode() int
	Header() http.Header
}

// Next calls the downstream handler with the request's traced context.
type Next func(ctx context.Context) (Response, error)

type tracerRef struct {
	tracer trace.Tracer
}

// Middleware opens a server span for every request, continuing the caller's trace
// when the request carries one, and injects the span's context into the response.
type Middleware struct {
	cfg       Config
	formatter headers.Formatter
	factory   TracerFactory
	logger    *slog.Logger
	metrics   *metrics
	ip        string

	once   sync.Once
	tracer atomic.Pointer[tracerRef]
}

// New validates cfg and returns a middleware. The tracer is created on the first request.
func New(cfg Config, opts ...Option) (*Middleware, error) {
	o := applyOptions(opts)

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	formatter := o.formatter
	if formatter == nil {
		f, err := cfg.formatter()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		formatter = f
	}

	factory := o.factory
	if factory == nil {
		factory = NewTracer
	}

	m, err := newMetrics(o.registerer)
	if err != nil {
		return nil, err
	}

	return &Middleware{
		cfg:       cfg,
		formatter: formatter,
		factory:   factory,
		logger:    o.logger,
		metrics:   m,
		ip:        localIP(),
	}, nil
}

// Config returns the middleware's configuration.
func (m *Middleware) Config() Config {
	return m.cfg
}

// Formatter returns the header format used for requests and responses.
func (m *Middleware) Formatter() headers.Formatter {
	return m.formatter
}

// Tracer returns the tracer, or nil before the first request.
func (m *Middleware) Tracer() trace.Tracer {
	if ref := m.tracer.Load(); ref != nil {
		return ref.tracer
	}
	return nil
}

// Close flushes and closes the tracer.
func (m *Middleware) Close(ctx context.Context) error {
	t := m.Tracer()
	if t == nil {
		return nil
	}
	if err := t.Close(ctx); err != nil {
		return fmt.Errorf("hoptrace: failed to close tracer: %w", err)
	}
	return nil
}

func (m *Middleware) ensureTracer(ctx context.Context) trace.Tracer {
	m.once.Do(func() {
		t, err := m.factory(m.cfg, m.logger)
		if err != nil {
			m.logger.ErrorContext(ctx, "hoptrace: failed to create tracer, requests are not traced",
				slog.String("error", err.Error()),
			)
			return
		}
		m.tracer.Store(&tracerRef{tracer: t})
		m.logger.InfoContext(ctx, "hoptrace: tracer created",
			slog.String("backend", m.cfg.Backend),
			slog.String("service", m.cfg.ServiceName),
			slog.String("collector", m.cfg.CollectorURL()),
		)
	})
	return m.Tracer()
}

// Dispatch traces one request around next. Errors and panics from next are tagged on
// the span and passed through unchanged.
func (m *Middleware) Dispatch(ctx context.Context, req *Request, next Next) (resp Response, err error) {
	tracer := m.ensureTracer(ctx)
	if tracer == nil {
		return next(ctx)
	}

	start := time.Now()
	span := m.startSpan(ctx, tracer, req)
	defer span.Finish()

	ctx = withRequestScope(ctx, &requestScope{tracer: tracer, root: span, formatter: m.formatter})
	m.tagRequest(span, req)
	endpoint := req.Endpoint

	defer func() {
		if r := recover(); r != nil {
			m.metrics.panics.Inc()
			m.metrics.duration.WithLabelValues("panic").Observe(time.Since(start).Seconds())
			tagError(span, r)
			panic(r)
		}
	}()

	resp, err = next(ctx)

	if endpoint == "" && req.Endpoint != "" {
		span.Tag("transaction", req.Endpoint)
	}

	if err != nil {
		m.metrics.duration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		tagError(span, err)
		return resp, err
	}

	m.metrics.duration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	if resp != nil {
		m.tagResponse(span, resp)
	}
	return resp, nil
}

// startSpan continues the inbound trace when allowed and decodable, otherwise starts a new one.
func (m *Middleware) startSpan(ctx context.Context, tracer trace.Tracer, req *Request) trace.Span {
	opts := []trace.StartOption{
		trace.WithName(m.spanName(req)),
		trace.WithKind(trace.KindServer),
	}

	if !m.cfg.ForceNewTrace {
		if parent, ok := m.formatter.Decode(req.Header); ok {
			m.metrics.requests.WithLabelValues(decisionChild).Inc()
			m.logger.DebugContext(ctx, "hoptrace: continuing trace",
				slog.String("trace_id", parent.TraceID),
				slog.String("parent_id", parent.SpanID),
			)
			return tracer.NewChild(ctx, parent, opts...)
		}
		if m.hasTraceHeaders(req.Header) {
			m.metrics.decodeFailures.Inc()
			m.logger.DebugContext(ctx, "hoptrace: malformed trace headers, starting new trace",
				slog.String("format", m.formatter.Name()),
			)
		}
	}

	m.metrics.requests.WithLabelValues(decisionNew).Inc()
	m.logger.DebugContext(ctx, "hoptrace: starting new trace", slog.Bool("forced", m.cfg.ForceNewTrace))
	if m.cfg.Sampled != nil {
		opts = append(opts, trace.WithSampled(*m.cfg.Sampled))
	}
	return tracer.NewTrace(ctx, opts...)
}

func (m *Middleware) hasTraceHeaders(h http.Header) bool {
	keys := append(m.formatter.Keys(), headers.B3TraceID)
	for _, k := range keys {
		if h.Get(k) != "" {
			return true
		}
	}
	return false
}

func (m *Middleware) spanName(req *Request) string {
	if m.cfg.RootSpanName != "" {
		return m.cfg.RootSpanName
	}
	return fmt.Sprintf("%s %s %s", strings.ToUpper(req.scheme()), req.Method, req.Path)
}

func (m *Middleware) tagRequest(span trace.Span, req *Request) {
	span.Tag("component", "http")
	span.Tag("span.kind", "server")
	span.Tag("ip", m.ip)
	span.Tag("http.method", req.Method)
	span.Tag("http.url", req.URL())
	span.Tag("http.route", req.Path)
	span.Tag("http.headers", encodeHeaders(req.Header))
	if q := req.Query(); q != "" {
		span.Tag("query", q)
	}
	if addr := req.RemoteHost(); addr != "" {
		span.Tag("remote_address", addr)
	}
	if req.Endpoint != "" {
		span.Tag("transaction", req.Endpoint)
	}
}

func (m *Middleware) tagResponse(span trace.Span, resp Response) {
	if m.cfg.InjectResponseHeaders {
		m.formatter.Update(span.Context(), resp.Header())
	}
	status := resp.StatusCode()
	span.Tag("http.status_code", strconv.Itoa(status))
	if status >= http.StatusBadRequest {
		span.Tag("error", "true")
	}
	span.Tag("http.response.headers", encodeHeaders(resp.Header()))
}

// tagError records an error or panic value on span.
func tagError(span trace.Span, v any) {
	span.Tag("error", "true")
	span.Tag("error.object", fmt.Sprintf("%T", v))
	if err, ok := v.(error); ok {
		span.Tag("error.message", err.Error())
	} else {
		span.Tag("error.message", fmt.Sprint(v))
	}
	span.Tag("error.stack", string(debug.Stack()))
}

// encodeHeaders renders h as a JSON object with lowercase keys, joining repeated values with ", ".
func encodeHeaders(h http.Header) string {
	flat := make(map[string]string, len(h))
	for k, vs := range h {
		k = strings.ToLower(k)
		v := strings.Join(vs, ", ")
		if prev, ok := flat[k]; ok {
			v = prev + ", " + v
		}
		flat[k] = v
	}
	out, err := sonic.ConfigStd.MarshalToString(flat)
	if err != nil {
		return "{}"
	}
	return out
}

// localIP returns the first non-loopback IPv4 address of the host.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "127.0.0.1"
}
