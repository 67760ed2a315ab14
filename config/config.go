// Package config loads configuration structs from the environment and validates them.
//
// Fields are read with envconfig (`envconfig` and `default` tags) and checked with
// validator (`validate` tags).
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse parses configuration from environment variables named PREFIX_KEY into a struct.
func Parse[T any](prefix string) (T, error) {
	var cfg T
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return cfg, fmt.Errorf("config: failed to parse env: %w", err)
	}
	return From(cfg)
}

// MustParse is Parse that panics on error.
func MustParse[T any](prefix string) T {
	cfg, err := Parse[T](prefix)
	if err != nil {
		panic(err)
	}
	return cfg
}

// From validates an existing configuration struct.
// This is useful when configuration comes from sources other than env vars
// (e.g., config files or flags).
func From[T any](cfg T) (T, error) {
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the `validate` tags of cfg and reports every failing field.
func Validate(cfg any) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("field %s: failed %q", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

// Usage writes a table of the environment variables T reads.
func Usage[T any](prefix string, w io.Writer) error {
	var cfg T
	return envconfig.Usagef(prefix, &cfg, w, envconfig.DefaultTableFormat)
}
