package hoptrace

import (
	"fmt"
	"log/slog"

	"github.com/kzs0/hoptrace/trace"
	oteltracer "github.com/kzs0/hoptrace/trace/otel"
	zipkintracer "github.com/kzs0/hoptrace/trace/zipkin"
)

// NewTracer builds the tracer selected by cfg.Backend, reporting to cfg's collector.
// It is the middleware's default TracerFactory.
func NewTracer(cfg Config, logger *slog.Logger) (trace.Tracer, error) {
	switch cfg.Backend {
	case BackendOtel:
		t, err := oteltracer.NewTracer(oteltracer.Config{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.CollectorURL(),
			SampleRate:  cfg.SampleRate,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("hoptrace: failed to create otel tracer: %w", err)
		}
		return t, nil
	case BackendZipkin, "":
		t, err := zipkintracer.NewTracer(zipkintracer.Config{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.CollectorURL(),
			SampleRate:  cfg.SampleRate,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("hoptrace: failed to create zipkin tracer: %w", err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
}
