// Package config reads the optional trustpolicy configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid indicates a configuration file that could not be used.
var ErrInvalid = errors.New("config: invalid configuration")

// Config holds settings that may also be given as command-line flags.
// Zero values mean "not set".
type Config struct {
	// MaxIterations is the per-stratum round cap.
	MaxIterations int `yaml:"max_iterations"`

	// Workers is the number of parallel rule workers per stratum.
	Workers int `yaml:"workers"`

	// VerifierID identifies the verifier in emitted attestations.
	VerifierID string `yaml:"verifier_id"`

	// CacheDir enables the report cache.
	CacheDir string `yaml:"cache_dir"`

	// CacheMaxBytes bounds the report cache size.
	CacheMaxBytes int64 `yaml:"cache_max_bytes"`

	// SigningKey is a PEM encoded ed25519 key used to sign attestations.
	SigningKey string `yaml:"signing_key"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a configuration document. Unknown keys are rejected. An
// empty document yields the zero Config.
func Decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var c Config
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.MaxIterations < 0:
		return fmt.Errorf("%w: max_iterations must be >= 0", ErrInvalid)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalid)
	case c.CacheMaxBytes < 0:
		return fmt.Errorf("%w: cache_max_bytes must be >= 0", ErrInvalid)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level, slog.LevelInfo if unset.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
	}
	return l, nil
}

// Merge returns c with every field that is set in override replaced.
func (c Config) Merge(override Config) Config {
	if override.MaxIterations != 0 {
		c.MaxIterations = override.MaxIterations
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.VerifierID != "" {
		c.VerifierID = override.VerifierID
	}
	if override.CacheDir != "" {
		c.CacheDir = override.CacheDir
	}
	if override.CacheMaxBytes != 0 {
		c.CacheMaxBytes = override.CacheMaxBytes
	}
	if override.SigningKey != "" {
		c.SigningKey = override.SigningKey
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	return c
}
