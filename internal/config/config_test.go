package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trustpolicy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_iterations: 500
workers: 4
verifier_id: https://example.com/verifier
cache_dir: /tmp/tp-cache
signing_key: key.pem
log_level: debug
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{
		MaxIterations: 500,
		Workers:       4,
		VerifierID:    "https://example.com/verifier",
		CacheDir:      "/tmp/tp-cache",
		SigningKey:    "key.pem",
		LogLevel:      "debug",
	}, c)

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown key", doc: "workerz: 3\n"},
		{name: "wrong type", doc: "workers: many\n"},
		{name: "negative workers", doc: "workers: -1\n"},
		{name: "negative iterations", doc: "max_iterations: -5\n"},
		{name: "bad level", doc: "log_level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode(strings.NewReader(tt.doc))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	t.Parallel()

	c, err := Decode(strings.NewReader("\n"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, c)

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	base := Config{MaxIterations: 100, Workers: 2, LogLevel: "info", CacheDir: "/a"}
	got := base.Merge(Config{Workers: 8, CacheDir: "/b"})
	assert.Equal(t, Config{MaxIterations: 100, Workers: 8, LogLevel: "info", CacheDir: "/b"}, got)
}
