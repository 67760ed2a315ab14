package hoptrace

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kzs0/hoptrace/config"
	"github.com/kzs0/hoptrace/headers"
)

// EnvPrefix prefixes every configuration environment variable.
const EnvPrefix = "ZIPKIN"

// Tracer backends.
const (
	BackendZipkin = "zipkin"
	BackendOtel   = "otel"
)

// ErrInvalidConfig wraps every configuration error.
var ErrInvalidConfig = errors.New("hoptrace: invalid config")

// Config configures the middleware.
type Config struct {
	// Host is the Zipkin collector host.
	Host string `envconfig:"HOST" default:"localhost" validate:"required"`
	// Port is the Zipkin collector port.
	Port int `envconfig:"PORT" default:"9411" validate:"min=1,max=65535"`
	// ServiceName is the local service name recorded on every span.
	ServiceName string `envconfig:"SERVICE_NAME" default:"service_name" validate:"required"`
	// SampleRate is the fraction of traces the tracer samples (0.0 to 1.0).
	SampleRate float64 `envconfig:"SAMPLE_RATE" default:"1.0" validate:"gte=0,lte=1"`
	// Sampled forces the sampling decision of new traces. When unset the
	// tracer's sampler decides from SampleRate.
	Sampled *bool `envconfig:"SAMPLED"`
	// InjectResponseHeaders writes the server span's context into responses.
	InjectResponseHeaders bool `envconfig:"INJECT_RESPONSE_HEADERS" default:"true"`
	// ForceNewTrace ignores inbound trace headers.
	ForceNewTrace bool `envconfig:"FORCE_NEW_TRACE" default:"false"`
	// HeaderFormat selects the header format ("b3", "b3single", "uber", "traceparent").
	HeaderFormat string `envconfig:"HEADER_FORMAT" default:"b3" validate:"oneof=b3 b3single uber traceparent"`
	// HeaderSeparator joins the fields of the uber header.
	HeaderSeparator string `envconfig:"HEADER_SEPARATOR" default:":"`
	// HeaderKey overrides the uber header key.
	HeaderKey string `envconfig:"HEADER_KEY"`
	// RootSpanName overrides the "{SCHEME} {METHOD} {PATH}" server span name.
	RootSpanName string `envconfig:"ROOT_SPAN_NAME"`
	// Backend selects the tracer implementation ("zipkin" or "otel").
	Backend string `envconfig:"BACKEND" default:"zipkin" validate:"oneof=zipkin otel"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"omitempty,oneof=debug info warn warning error"`
	// LogFormat is "json" or "text".
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"omitempty,oneof=json text"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Host:                  "localhost",
		Port:                  9411,
		ServiceName:           "service_name",
		SampleRate:            1.0,
		InjectResponseHeaders: true,
		HeaderFormat:          headers.NameB3,
		HeaderSeparator:       headers.DefaultSeparator,
		Backend:               BackendZipkin,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// FromEnv loads configuration from ZIPKIN_* environment variables.
func FromEnv() (Config, error) {
	cfg, err := config.Parse[Config](EnvPrefix)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// MustFromEnv loads configuration from environment variables, panicking on error.
func MustFromEnv() Config {
	cfg, err := FromEnv()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Usage writes a table of the ZIPKIN_* environment variables to w.
func Usage(w io.Writer) error {
	return config.Usage[Config](EnvPrefix, w)
}

// Validate checks field ranges and builds the header formatter the config selects.
func (c Config) Validate() error {
	if err := config.Validate(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.formatter(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// CollectorURL returns the Zipkin v2 span endpoint.
func (c Config) CollectorURL() string {
	return fmt.Sprintf("http://%s:%d/api/v2/spans", c.Host, c.Port)
}

func (c Config) formatter() (headers.Formatter, error) {
	return headers.New(c.HeaderFormat, headers.Options{
		Separator: c.HeaderSeparator,
		HeaderKey: c.HeaderKey,
	})
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Level returns the parsed slog.Level of LogLevel.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}
