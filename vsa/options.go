package vsa

import (
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/secure-systems-lab/go-securesystemslib/dsse"
)

// Option configures Emit.
type Option func(*emitter) error

type emitter struct {
	verifierID      string
	verifierVersion map[string]string
	timeVerified    time.Time
	policy          string
	policyURI       string
	levels          []string
	signer          dsse.SignerVerifier
	logger          *slog.Logger
}

// WithVerifier sets the verifier identity. Defaults to DefaultVerifierID
// with no version information.
func WithVerifier(id string, version map[string]string) Option {
	return func(e *emitter) error {
		if id == "" {
			return errors.New("vsa: verifier id must not be empty")
		}
		e.verifierID = id
		e.verifierVersion = maps.Clone(version)
		return nil
	}
}

// WithTimeVerified sets the verification timestamp. Required.
func WithTimeVerified(t time.Time) Option {
	return func(e *emitter) error {
		e.timeVerified = t
		return nil
	}
}

// WithPolicy sets the policy source recorded in the predicate.
func WithPolicy(content string) Option {
	return func(e *emitter) error {
		e.policy = content
		return nil
	}
}

// WithPolicyURI records where the policy was loaded from.
func WithPolicyURI(uri string) Option {
	return func(e *emitter) error {
		e.policyURI = uri
		return nil
	}
}

// WithVerifiedLevels sets the levels the subjects were verified at.
func WithVerifiedLevels(levels ...string) Option {
	return func(e *emitter) error {
		e.levels = append([]string{}, levels...)
		return nil
	}
}

// WithSigner signs the envelope. If not set, the envelope carries no
// signatures.
func WithSigner(s dsse.SignerVerifier) Option {
	return func(e *emitter) error {
		e.signer = s
		return nil
	}
}

// WithLogger sets the logger for emission diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(e *emitter) error {
		e.logger = logger
		return nil
	}
}

func (e *emitter) log() *slog.Logger {
	if e.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.logger
}
