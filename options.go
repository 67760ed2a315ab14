package hoptrace

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kzs0/hoptrace/headers"
	"github.com/kzs0/hoptrace/trace"
)

// TraceOption configures a nested trace.
type TraceOption func(*traceConfig)

type tag struct {
	key   string
	value string
}

// traceConfig holds configuration for a nested trace.
type traceConfig struct {
	kind trace.Kind
	tags []tag
}

// WithKind sets the span kind (default: SERVER).
func WithKind(kind trace.Kind) TraceOption {
	return func(cfg *traceConfig) {
		cfg.kind = kind
	}
}

// WithTag adds a tag set when the span starts.
func WithTag(key, value string) TraceOption {
	return func(cfg *traceConfig) {
		cfg.tags = append(cfg.tags, tag{key: key, value: value})
	}
}

// WithTags adds tags set when the span starts, in key-value pairs.
// A trailing key without a value is ignored.
func WithTags(kv ...string) TraceOption {
	return func(cfg *traceConfig) {
		for i := 0; i+1 < len(kv); i += 2 {
			cfg.tags = append(cfg.tags, tag{key: kv[i], value: kv[i+1]})
		}
	}
}

func applyTraceOptions(opts []TraceOption) traceConfig {
	cfg := traceConfig{kind: trace.KindServer}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// TracerFactory builds the tracer on the first request.
type TracerFactory func(cfg Config, logger *slog.Logger) (trace.Tracer, error)

// Option configures the middleware.
type Option func(*middlewareConfig)

// middlewareConfig holds middleware configuration that cannot come from the environment.
type middlewareConfig struct {
	logger     *slog.Logger
	factory    TracerFactory
	formatter  headers.Formatter
	registerer prometheus.Registerer
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithTracerFactory replaces the backend selected by Config.Backend.
func WithTracerFactory(factory TracerFactory) Option {
	return func(cfg *middlewareConfig) {
		cfg.factory = factory
	}
}

// WithTracer uses an existing tracer instead of creating one.
func WithTracer(tracer trace.Tracer) Option {
	return WithTracerFactory(func(Config, *slog.Logger) (trace.Tracer, error) {
		return tracer, nil
	})
}

// WithFormatter overrides the header format selected by Config.HeaderFormat.
func WithFormatter(f headers.Formatter) Option {
	return func(cfg *middlewareConfig) {
		cfg.formatter = f
	}
}

// WithRegisterer registers the middleware's Prometheus collectors on r.
// Without it no metrics are registered.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(cfg *middlewareConfig) {
		cfg.registerer = r
	}
}

func applyOptions(opts []Option) middlewareConfig {
	var cfg middlewareConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}
