// Package otel implements trace.Tracer on top of the OpenTelemetry SDK.
//
// Spans are exported to a Zipkin collector through the OpenTelemetry Zipkin exporter,
// so both tracer backends feed the same collector.
package otel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	zipkinexp "go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/kzs0/hoptrace/internal"
	"github.com/kzs0/hoptrace/trace"
)

const instrumentationName = "github.com/kzs0/hoptrace"

// Config configures the OpenTelemetry tracer.
type Config struct {
	// ServiceName is recorded as the service.name resource attribute.
	ServiceName string
	// Endpoint is the Zipkin collector URL, e.g. "http://localhost:9411/api/v2/spans".
	Endpoint string
	// SampleRate is the fraction of new traces that are sampled (0.0 to 1.0).
	SampleRate float64
	// SpanProcessor overrides the batching Zipkin exporter built from Endpoint.
	SpanProcessor sdktrace.SpanProcessor
	// HTTPClient overrides the retrying client used by the exporter.
	HTTPClient *http.Client
	// Logger receives transport errors. Defaults to slog.Default().
	Logger *slog.Logger
}

// Tracer adapts an OpenTelemetry TracerProvider to trace.Tracer.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewTracer creates a new tracer.
func NewTracer(cfg Config) (*Tracer, error) {
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return nil, fmt.Errorf("otel: sample rate %v out of range [0, 1]", cfg.SampleRate)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	processor := cfg.SpanProcessor
	if processor == nil {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("otel: endpoint or span processor required")
		}
		client := cfg.HTTPClient
		if client == nil {
			rc := retryablehttp.NewClient()
			rc.RetryMax = 3
			rc.Logger = logger
			client = rc.StandardClient()
		}
		exporter, err := zipkinexp.New(cfg.Endpoint, zipkinexp.WithClient(client))
		if err != nil {
			return nil, fmt.Errorf("otel: failed to create zipkin exporter: %w", err)
		}
		processor = sdktrace.NewBatchSpanProcessor(exporter)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(newDecisionSampler(cfg.SampleRate)),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
	}, nil
}

// NewTrace starts a root span with a fresh trace ID.
func (t *Tracer) NewTrace(ctx context.Context, opts ...trace.StartOption) trace.Span {
	o := trace.ApplyStartOptions(opts)
	if o.Sampled != nil {
		d := decisionDrop
		if *o.Sampled {
			d = decisionSample
		}
		ctx = withDecision(ctx, d)
	}

	startOpts := append(startOptions(o), oteltrace.WithNewRoot())
	_, s := t.tracer.Start(ctx, o.Name, startOpts...)
	return &span{span: s}
}

// NewChild starts a span whose parent is the remote span identified by parent.
func (t *Tracer) NewChild(ctx context.Context, parent trace.Context, opts ...trace.StartOption) trace.Span {
	sc, ok := toSpanContext(parent)
	if !ok {
		return t.NewTrace(ctx, opts...)
	}

	switch {
	case parent.Debug:
		ctx = withDecision(ctx, decisionSample)
	case parent.Deferred:
		ctx = withDecision(ctx, decisionDeferred)
	}

	o := trace.ApplyStartOptions(opts)
	ctx = oteltrace.ContextWithRemoteSpanContext(ctx, sc)
	_, s := t.tracer.Start(ctx, o.Name, startOptions(o)...)

	return &span{
		span:     s,
		parentID: sc.SpanID().String(),
		debug:    parent.Debug,
	}
}

// Close flushes pending spans and shuts the provider down.
func (t *Tracer) Close(ctx context.Context) error {
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("otel: failed to shut down provider: %w", err)
	}
	return nil
}

func startOptions(o trace.StartOptions) []oteltrace.SpanStartOption {
	opts := []oteltrace.SpanStartOption{oteltrace.WithSpanKind(toKind(o.Kind))}
	if !o.StartTime.IsZero() {
		opts = append(opts, oteltrace.WithTimestamp(o.StartTime))
	}
	return opts
}

// span adapts oteltrace.Span to trace.Span.
type span struct {
	span     oteltrace.Span
	parentID string
	debug    bool
}

func (s *span) Context() trace.Context {
	sc := s.span.SpanContext()
	return trace.Context{
		TraceID:  sc.TraceID().String(),
		SpanID:   sc.SpanID().String(),
		ParentID: s.parentID,
		Sampled:  sc.IsSampled(),
		Debug:    s.debug,
	}
}

func (s *span) SetName(name string) {
	s.span.SetName(name)
}

func (s *span) Tag(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
	if key == "error" && value == "true" {
		s.span.SetStatus(codes.Error, "")
	}
}

func (s *span) Annotate(value string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	s.span.AddEvent(value, oteltrace.WithTimestamp(ts))
}

func (s *span) Finish() {
	s.span.End()
}

func toKind(k trace.Kind) oteltrace.SpanKind {
	switch k {
	case trace.KindServer:
		return oteltrace.SpanKindServer
	case trace.KindClient:
		return oteltrace.SpanKindClient
	case trace.KindProducer:
		return oteltrace.SpanKindProducer
	case trace.KindConsumer:
		return oteltrace.SpanKindConsumer
	default:
		return oteltrace.SpanKindInternal
	}
}

// toSpanContext converts a wire context to a remote OpenTelemetry span context.
// 64-bit trace IDs are widened to 128 bits.
func toSpanContext(c trace.Context) (oteltrace.SpanContext, bool) {
	if !c.IsValid() {
		return oteltrace.SpanContext{}, false
	}
	traceID, err := oteltrace.TraceIDFromHex(internal.WideTraceID(c.TraceID))
	if err != nil {
		return oteltrace.SpanContext{}, false
	}
	spanID, err := oteltrace.SpanIDFromHex(internal.NormalizeID(c.SpanID, internal.SpanIDLen))
	if err != nil {
		return oteltrace.SpanContext{}, false
	}

	var flags oteltrace.TraceFlags
	if c.Sampled || c.Debug {
		flags = oteltrace.FlagsSampled
	}

	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return sc, sc.IsValid()
}
