package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cacheSize int) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), cacheSize)
	require.NoError(t, err)
	return s
}

func TestLocalStore_WriteReadDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 4)

	require.NoError(t, s.WriteFile(ctx, "a", []byte("hello")))

	data, err := s.ReadFile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	size, err := s.StatSize(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	require.NoError(t, s.DeleteFile(ctx, "a"))

	_, err = s.ReadFile(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.StatSize(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteFile(ctx, "a"), ErrNotFound)
}

func TestLocalStore_OverwriteInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 4)

	require.NoError(t, s.WriteFile(ctx, "f", []byte("one")))
	_, err := s.ReadFile(ctx, "f")
	require.NoError(t, err)

	require.NoError(t, s.WriteFile(ctx, "f", []byte("two")))
	data, err := s.ReadFile(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestLocalStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 0)

	require.NoError(t, s.WriteFile(ctx, "b", make([]byte, 20)))
	require.NoError(t, s.WriteFile(ctx, "a", make([]byte, 10)))
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), tempPrefix+"x"), []byte("partial"), 0644))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "a", Size: 10}, {Name: "b", Size: 20}}, entries)
}

func TestLocalStore_CancelledWriteLeavesNoFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestStore(t, 0)

	err := s.WriteFile(ctx, "f", []byte("data"))
	require.ErrorIs(t, err, context.Canceled)

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	dirents, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, dirents, "temp file must be cleaned up")
}

func TestLocalStore_RejectsEscapingNames(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 0)

	for _, name := range []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`, ".hidden", "nul\x00"} {
		t.Run(name, func(t *testing.T) {
			_, err := s.ReadFile(ctx, name)
			assert.ErrorIs(t, err, ErrInvalidName)
			assert.ErrorIs(t, s.WriteFile(ctx, name, nil), ErrInvalidName)
		})
	}
}

func TestLRUCache_Evicts(t *testing.T) {
	c, err := NewLRUCache(2)
	require.NoError(t, err)

	c.Add("a", cachedFile{data: []byte("1")})
	c.Add("b", cachedFile{data: []byte("2")})
	_, _ = c.Get("a")
	c.Add("c", cachedFile{data: []byte("3")})

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)

	c.Remove("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestLocalStore_ReadFileSeesExternalChanges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 4)
	path := filepath.Join(s.Root(), "f")

	require.NoError(t, s.WriteFile(ctx, "f", []byte("v1")))
	data, err := s.ReadFile(ctx, "f")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), data)

	// Rewritten behind the store's back, e.g. by a mirror pull.
	require.NoError(t, os.WriteFile(path, []byte("version2"), 0644))

	size, err := s.StatSize(ctx, "f")
	require.NoError(t, err)
	data, err = s.ReadFile(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("version2"), data)
	assert.EqualValues(t, size, len(data), "listing and contents must agree")

	require.NoError(t, os.Remove(path))
	_, err = s.ReadFile(ctx, "f")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ReadFileSameSizeRewrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 4)
	path := filepath.Join(s.Root(), "f")

	require.NoError(t, s.WriteFile(ctx, "f", []byte("aaaa")))
	_, err := s.ReadFile(ctx, "f")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("bbbb"), 0644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	data, err := s.ReadFile(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("bbbb"), data)
}

func TestLocalStore_ReadFileServesCacheWhileUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 4)

	require.NoError(t, s.WriteFile(ctx, "f", []byte("cached")))
	first, err := s.ReadFile(ctx, "f")
	require.NoError(t, err)

	hit, ok := s.cache.Get("f")
	require.True(t, ok)
	assert.Equal(t, first, hit.data)

	second, err := s.ReadFile(ctx, "f")
	require.NoError(t, err)
	assert.Same(t, &first[0], &second[0], "unchanged file should come from the cache")
}
