// Package zipkin implements trace.Tracer on top of zipkin-go.
//
// Spans are reported in Zipkin v2 JSON to the collector's /api/v2/spans endpoint
// through a batching HTTP reporter backed by a retrying HTTP client.
package zipkin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	zipkingo "github.com/openzipkin/zipkin-go"
	"github.com/openzipkin/zipkin-go/model"
	"github.com/openzipkin/zipkin-go/reporter"
	zipkinhttp "github.com/openzipkin/zipkin-go/reporter/http"

	"github.com/kzs0/hoptrace/internal"
	"github.com/kzs0/hoptrace/trace"
)

// Config configures the zipkin tracer.
type Config struct {
	// ServiceName is the local endpoint's service name.
	ServiceName string
	// HostPort is the optional local endpoint address.
	HostPort string
	// Endpoint is the collector URL, e.g. "http://localhost:9411/api/v2/spans".
	Endpoint string
	// SampleRate is the fraction of new traces that are sampled (0.0 to 1.0).
	SampleRate float64
	// Reporter overrides the HTTP reporter built from Endpoint.
	Reporter reporter.Reporter
	// HTTPClient overrides the retrying client used by the HTTP reporter.
	HTTPClient *http.Client
	// BatchSize and BatchInterval tune the HTTP reporter. Zero keeps zipkin-go's defaults.
	BatchSize     int
	BatchInterval time.Duration
	// Logger receives reporter and transport errors. Defaults to slog.Default().
	Logger *slog.Logger
}

// CollectorURL returns the Zipkin v2 span endpoint for a collector host and port.
func CollectorURL(host string, port int) string {
	return fmt.Sprintf("http://%s:%d/api/v2/spans", host, port)
}

// Tracer adapts a zipkin-go tracer to trace.Tracer.
type Tracer struct {
	tracer   *zipkingo.Tracer
	reporter reporter.Reporter
	logger   *slog.Logger
}

// NewTracer creates a new tracer.
func NewTracer(cfg Config) (*Tracer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rep := cfg.Reporter
	if rep == nil {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("zipkin: endpoint or reporter required")
		}
		rep = newHTTPReporter(cfg, logger)
	}

	endpoint, err := zipkingo.NewEndpoint(cfg.ServiceName, cfg.HostPort)
	if err != nil {
		return nil, fmt.Errorf("zipkin: failed to create local endpoint: %w", err)
	}

	sampler, err := zipkingo.NewBoundarySampler(cfg.SampleRate, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("zipkin: failed to create sampler: %w", err)
	}

	tracer, err := zipkingo.NewTracer(rep,
		zipkingo.WithLocalEndpoint(endpoint),
		zipkingo.WithSampler(sampler),
		zipkingo.WithTraceID128Bit(true),
		// server spans get their own ID so the caller's span is their parent
		zipkingo.WithSharedSpans(false),
	)
	if err != nil {
		return nil, fmt.Errorf("zipkin: failed to create tracer: %w", err)
	}

	return &Tracer{
		tracer:   tracer,
		reporter: rep,
		logger:   logger,
	}, nil
}

func newHTTPReporter(cfg Config, logger *slog.Logger) reporter.Reporter {
	client := cfg.HTTPClient
	if client == nil {
		rc := retryablehttp.NewClient()
		rc.RetryMax = 3
		rc.Logger = logger
		client = rc.StandardClient()
	}

	opts := []zipkinhttp.ReporterOption{
		zipkinhttp.Client(client),
		zipkinhttp.Logger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn)),
	}
	if cfg.BatchSize > 0 {
		opts = append(opts, zipkinhttp.BatchSize(cfg.BatchSize))
	}
	if cfg.BatchInterval > 0 {
		opts = append(opts, zipkinhttp.BatchInterval(cfg.BatchInterval))
	}
	return zipkinhttp.NewReporter(cfg.Endpoint, opts...)
}

// NewTrace starts a root span with a fresh 128-bit trace ID.
func (t *Tracer) NewTrace(_ context.Context, opts ...trace.StartOption) trace.Span {
	o := trace.ApplyStartOptions(opts)

	spanOpts := startOptions(o)
	if o.Sampled != nil {
		sampled := *o.Sampled
		spanOpts = append(spanOpts, zipkingo.Parent(model.SpanContext{Sampled: &sampled}))
	}

	return &span{span: t.tracer.StartSpan(o.Name, spanOpts...), wide: true}
}

// NewChild starts a span whose parent is the span identified by parent.
func (t *Tracer) NewChild(ctx context.Context, parent trace.Context, opts ...trace.StartOption) trace.Span {
	sc, err := toModel(parent)
	if err != nil {
		t.logger.WarnContext(ctx, "zipkin: unusable parent context, starting new trace",
			slog.String("parent", parent.String()),
			slog.String("error", err.Error()),
		)
		return t.NewTrace(ctx, opts...)
	}

	o := trace.ApplyStartOptions(opts)
	spanOpts := append(startOptions(o), zipkingo.Parent(sc))

	return &span{
		span: t.tracer.StartSpan(o.Name, spanOpts...),
		wide: len(parent.TraceID) > internal.ShortTraceIDLen,
	}
}

// Close flushes buffered spans and closes the reporter.
func (t *Tracer) Close(_ context.Context) error {
	if err := t.reporter.Close(); err != nil {
		return fmt.Errorf("zipkin: failed to close reporter: %w", err)
	}
	return nil
}

func startOptions(o trace.StartOptions) []zipkingo.SpanOption {
	opts := []zipkingo.SpanOption{zipkingo.Kind(toKind(o.Kind))}
	if !o.StartTime.IsZero() {
		opts = append(opts, zipkingo.StartTime(o.StartTime))
	}
	return opts
}

// span adapts zipkingo.Span to trace.Span.
type span struct {
	span zipkingo.Span
	// wide renders the trace ID with 32 hex characters even when its high half is zero.
	wide bool
}

func (s *span) Context() trace.Context {
	return fromModel(s.span.Context(), s.wide)
}

func (s *span) SetName(name string) {
	s.span.SetName(name)
}

func (s *span) Tag(key, value string) {
	s.span.Tag(key, value)
}

func (s *span) Annotate(value string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	s.span.Annotate(ts, value)
}

func (s *span) Finish() {
	s.span.Finish()
}

func toKind(k trace.Kind) model.Kind {
	switch k {
	case trace.KindServer:
		return model.Server
	case trace.KindClient:
		return model.Client
	case trace.KindProducer:
		return model.Producer
	case trace.KindConsumer:
		return model.Consumer
	default:
		return model.Undetermined
	}
}

func fromModel(sc model.SpanContext, wide bool) trace.Context {
	traceID := sc.TraceID.String()
	if wide {
		traceID = fmt.Sprintf("%016x%016x", sc.TraceID.High, sc.TraceID.Low)
	}
	c := trace.Context{
		TraceID: traceID,
		SpanID:  sc.ID.String(),
		Debug:   sc.Debug,
	}
	if sc.ParentID != nil {
		c.ParentID = sc.ParentID.String()
	}
	if sc.Sampled != nil {
		c.Sampled = *sc.Sampled
	} else {
		c.Sampled = sc.Debug
	}
	return c
}

func toModel(c trace.Context) (model.SpanContext, error) {
	var sc model.SpanContext

	traceID, err := model.TraceIDFromHex(c.TraceID)
	if err != nil {
		return sc, fmt.Errorf("trace id: %w", err)
	}
	spanID, err := strconv.ParseUint(c.SpanID, 16, 64)
	if err != nil {
		return sc, fmt.Errorf("span id: %w", err)
	}

	sc.TraceID = traceID
	sc.ID = model.ID(spanID)
	sc.Debug = c.Debug

	if c.ParentID != "" {
		parentID, err := strconv.ParseUint(c.ParentID, 16, 64)
		if err != nil {
			return sc, fmt.Errorf("parent id: %w", err)
		}
		id := model.ID(parentID)
		sc.ParentID = &id
	}
	if !c.Deferred {
		sampled := c.Sampled
		sc.Sampled = &sampled
	}
	return sc, nil
}
