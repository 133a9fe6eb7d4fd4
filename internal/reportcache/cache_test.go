package reportcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/trustpolicy/verdict"
	"github.com/meigma/trustpolicy/vsa"
)

func testEntry() *Entry {
	return &Entry{
		Report: verdict.Aggregate(&verdict.Classification{
			Satisfied: []verdict.Verdict{{PolicyID: "p", Target: 1, Component: "pkg:npm/a@1", Satisfied: true, Messages: []string{"ok"}}},
			Violated:  []verdict.Verdict{{PolicyID: "q", Target: 1, Component: "pkg:npm/a@1"}},
		}),
		Subjects: vsa.Subjects{1: {PURL: "pkg:npm/a@1"}},
	}
}

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	key := Key([]byte("facts"), []byte("policy"))
	_, ok := c.Get(key)
	assert.False(t, ok)

	want := testEntry()
	require.NoError(t, c.Put(key, want))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, want, got)

	path := filepath.Join(dir, key.Encoded()[:defaultShardPrefixLen], key.Encoded()+".json")
	_, err = os.Stat(path)
	require.NoError(t, err)

	// A second Put for the same key keeps the first entry.
	require.NoError(t, c.Put(key, &Entry{Report: &verdict.Report{}}))
	got, ok = c.Get(key)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestKey(t *testing.T) {
	t.Parallel()

	a := Key([]byte("ab"), []byte("c"))
	b := Key([]byte("a"), []byte("bc"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Key([]byte("ab"), []byte("c")))
	assert.Equal(t, digest.SHA256, a.Algorithm())
	require.NoError(t, a.Validate())
}

func TestCacheCorruptEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithShardPrefixLen(0))
	require.NoError(t, err)

	key := Key([]byte("x"))
	path := filepath.Join(dir, key.Encoded()+".json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, ok := c.Get(key)
	assert.False(t, ok)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCacheInvalidKey(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok := c.Get(digest.Digest("sha256:short"))
	assert.False(t, ok)
	require.Error(t, c.Put(digest.Digest("nope"), testEntry()))
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
	_, err = New(t.TempDir(), WithShardPrefixLen(-1))
	require.Error(t, err)
	_, err = New(t.TempDir(), WithMaxBytes(-1))
	require.Error(t, err)
}

func TestCachePrune(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	old := Key([]byte("old"))
	recent := Key([]byte("recent"))
	require.NoError(t, c.Put(old, testEntry()))
	require.NoError(t, c.Put(recent, testEntry()))

	oldPath, err := c.path(old)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	// Temporary files are not counted.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cache-123"), []byte("partial"), 0o600))

	total, err := c.Size()
	require.NoError(t, err)
	info, err := os.Stat(oldPath)
	require.NoError(t, err)

	freed, err := c.Prune(total - 1)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), freed)

	_, ok := c.Get(old)
	assert.False(t, ok)
	_, ok = c.Get(recent)
	assert.True(t, ok)
}

func TestCacheMaxBytes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithMaxBytes(1))
	require.NoError(t, err)

	require.NoError(t, c.Put(Key([]byte("a")), testEntry()))
	size, err := c.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}
