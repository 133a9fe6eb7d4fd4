// Package reportcache stores policy reports on disk, keyed by a digest of
// everything that determines them.
package reportcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/trustpolicy/verdict"
	"github.com/meigma/trustpolicy/vsa"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
)

// Entry is a cached evaluation result.
type Entry struct {
	Report   *verdict.Report `json:"report"`
	Subjects vsa.Subjects    `json:"subjects"`
}

// Cache stores entries as JSON files under a directory.
type Cache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64
	logger         *slog.Logger
}

// Option configures a cache.
type Option func(*Cache)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes bounds the cache size. After each Put the oldest entries
// are removed until the cache fits. Zero means unbounded.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithLogger sets the logger for cache diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	return c, nil
}

// Key derives a cache key from the inputs of an evaluation. Each part is
// length-prefixed so that part boundaries are unambiguous.
func Key(parts ...[]byte) digest.Digest {
	d := digest.Canonical.Digester()
	h := d.Hash()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write(p)
	}
	return d.Digest()
}

// Get returns the entry stored under key. Unreadable or corrupt entries
// are treated as misses.
func (c *Cache) Get(key digest.Digest) (*Entry, bool) {
	path, err := c.path(key)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a validated digest
	if err != nil {
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Report == nil {
		c.log().Debug("discarding corrupt cache entry", slog.String("key", key.String()))
		_ = os.Remove(path)
		return nil, false
	}
	return &e, true
}

// Put stores e under key. An existing entry is left untouched.
func (c *Cache) Put(key digest.Digest, e *Entry) error {
	path, err := c.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	content, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "cache-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			_ = os.Remove(tmpPath)
			return nil
		}
		_ = os.Remove(tmpPath)
		return err
	}

	if c.maxBytes > 0 {
		freed, remaining, err := pruneDir(c.dir, c.maxBytes)
		if err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		if freed > 0 {
			c.log().Debug("pruned report cache",
				slog.Int64("freed", freed),
				slog.Int64("remaining", remaining))
		}
	}
	return nil
}

// Size returns the total size of all cached entries in bytes.
func (c *Cache) Size() (int64, error) {
	return dirSize(c.dir)
}

// Prune removes the oldest entries until the cache is at most maxBytes.
func (c *Cache) Prune(maxBytes int64) (int64, error) {
	freed, _, err := pruneDir(c.dir, maxBytes)
	return freed, err
}

func (c *Cache) path(key digest.Digest) (string, error) {
	if err := key.Validate(); err != nil {
		return "", fmt.Errorf("invalid cache key: %w", err)
	}
	hexHash := key.Encoded()
	if c.shardPrefixLen <= 0 {
		return filepath.Join(c.dir, hexHash+".json"), nil
	}
	prefixLen := min(c.shardPrefixLen, len(hexHash))
	return filepath.Join(c.dir, hexHash[:prefixLen], hexHash+".json"), nil
}

func (c *Cache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}
