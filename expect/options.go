package expect

import (
	"errors"
	"log/slog"
)

// Option configures a RegoValidator.
type Option func(*RegoValidator) error

// WithPackage sets the Rego package expectations are queried in.
// Defaults to "expectation".
func WithPackage(pkg string) Option {
	return func(v *RegoValidator) error {
		if pkg == "" {
			return errors.New("package name must not be empty")
		}
		v.pkg = pkg
		return nil
	}
}

// WithLogger sets the logger for compilation and evaluation diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(v *RegoValidator) error {
		v.logger = logger
		return nil
	}
}
