// Package store implements the file store gateway used by the protocol handlers.
//
// The Store interface mirrors what a small peripheral filesystem offers:
// - a single flat storage root
// - whole-file read, write and delete
// - best-effort listing with sizes
//
// Names are plain file names inside the root. Path separators and dot
// names are rejected so a peer cannot escape the root.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("blefs: not found")
	ErrInvalidName = errors.New("blefs: invalid file name")
)

// Entry describes one file in the storage root.
type Entry struct {
	Name string
	Size int64
}

// Store handles file storage for the protocol handlers.
type Store interface {
	// List enumerates the storage root. Entries that cannot be stat-ed
	// are skipped rather than reported.
	List(ctx context.Context) ([]Entry, error)

	// ReadFile returns the full content of a file, or ErrNotFound.
	ReadFile(ctx context.Context, name string) ([]byte, error)

	// WriteFile replaces the content of a file.
	WriteFile(ctx context.Context, name string, data []byte) error

	// DeleteFile removes a file, or returns ErrNotFound.
	DeleteFile(ctx context.Context, name string) error

	// StatSize returns the size of a file in bytes, or ErrNotFound.
	StatSize(ctx context.Context, name string) (int64, error)
}
