package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tempPrefix = ".blefs-"

// LocalStore implements Store using a single local directory.
//
// Storage layout (flat, like the peripheral filesystem it stands in for):
//
//	root/
//	  0cc175b9c0f1b6a831c399e269772661  (file named by hex digest)
//	  .blefs-123456                     (in-flight write, hidden from List)
//
// Writes go to a temp file and are renamed into place, so a cancelled or
// failed upload never leaves a partial file under its final name.
type LocalStore struct {
	root  string
	cache Cache
}

// NewLocalStore opens (and creates if needed) a store rooted at root.
// cacheSize is the number of file contents kept in memory; zero disables
// the cache.
func NewLocalStore(root string, cacheSize int) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", root, err)
	}

	var cache Cache = nopCache{}
	if cacheSize > 0 {
		lru, err := NewLRUCache(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		cache = lru
	}

	return &LocalStore{root: root, cache: cache}, nil
}

// Root returns the storage directory.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) List(ctx context.Context) ([]Entry, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		// A file removed between ReadDir and Info simply drops out.
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: d.Name(), Size: info.Size()})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ReadFile returns the contents of name. Cached contents are served only
// while the file's size and modification time are unchanged, so writes
// from other processes (a mirror pull, an operator) are picked up.
func (s *LocalStore) ReadFile(ctx context.Context, name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		s.cache.Remove(name)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if hit, ok := s.cache.Get(name); ok && hit.matches(info.Size(), info.ModTime()) {
		return hit.data, nil
	}

	f, err := os.Open(path)
	if err != nil {
		s.cache.Remove(name)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	// Stat the open handle so the cached stamp belongs to the bytes read.
	info, err = f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	s.cache.Add(name, cachedFile{data: data, size: info.Size(), modTime: info.ModTime()})
	return data, nil
}

func (s *LocalStore) WriteFile(ctx context.Context, name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.root, tempPrefix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	// Last chance to abandon the write before it becomes visible.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to commit file: %w", err)
	}

	s.cache.Remove(name)
	return nil
}

func (s *LocalStore) DeleteFile(ctx context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.cache.Remove(name)
	return nil
}

func (s *LocalStore) StatSize(ctx context.Context, name string) (int64, error) {
	path, err := s.path(name)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return info.Size(), nil
}

// path returns the filesystem path for a file name inside the root.
func (s *LocalStore) path(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.root, name), nil
}

// ValidName reports whether name is a plain file name that stays inside
// the storage root.
func ValidName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}
