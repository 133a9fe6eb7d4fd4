package trustpolicy

import (
	"errors"
	"log/slog"

	"github.com/secure-systems-lab/go-securesystemslib/dsse"

	"github.com/meigma/trustpolicy/expect"
	"github.com/meigma/trustpolicy/internal/reportcache"
)

// Option configures an Engine.
type Option func(*Engine) error

// WithMaxIterations caps the number of rounds per stratum.
// Defaults to datalog.DefaultMaxIterations.
func WithMaxIterations(n int) Option {
	return func(e *Engine) error {
		if n < 0 {
			return errors.New("max iterations must be >= 0")
		}
		e.maxIterations = n
		return nil
	}
}

// WithWorkers sets the number of parallel rule workers per stratum.
// Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) error {
		if n < 0 {
			return errors.New("workers must be >= 0")
		}
		e.workers = n
		return nil
	}
}

// WithValidator sets the oracle used for provenance expectations.
// Defaults to an OPA Rego validator. Reports are only cached when v
// implements expect.Identifier.
func WithValidator(v expect.Validator) Option {
	return func(e *Engine) error {
		e.validator = v
		return nil
	}
}

// WithCacheDir caches reports under dir. Reports are keyed by the snapshot,
// the policy text, the prelude, the engine version and the validator. A maxBytes of zero
// leaves the cache unbounded.
func WithCacheDir(dir string, maxBytes int64) Option {
	return func(e *Engine) error {
		c, err := reportcache.New(dir, reportcache.WithMaxBytes(maxBytes), reportcache.WithLogger(e.logger))
		if err != nil {
			return err
		}
		e.cache = c
		return nil
	}
}

// WithVerifierID sets the verifier id recorded in attestations.
func WithVerifierID(id string) Option {
	return func(e *Engine) error {
		if id == "" {
			return errors.New("verifier id must not be empty")
		}
		e.verifierID = id
		return nil
	}
}

// WithSigner signs emitted attestations.
func WithSigner(s dsse.SignerVerifier) Option {
	return func(e *Engine) error {
		e.signer = s
		return nil
	}
}

// WithLogger sets the logger for the engine and its components.
// If not set, logging is disabled. Pass it before WithCacheDir for the
// cache to log through it too.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}
