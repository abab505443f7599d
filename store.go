package blefs

import (
	"github.com/aweris/blefs/internal/store"
)

// Store is the file store gateway consumed by the handlers.
// Re-exported from internal/store for convenience.
type Store = store.Store

// Entry is a single listed file.
type Entry = store.Entry

// NewLocalStore opens a flat directory store rooted at root, creating it
// if needed. cacheSize bounds the in-memory read cache; zero disables it.
func NewLocalStore(root string, cacheSize int) (Store, error) {
	s, err := store.NewLocalStore(root, cacheSize)
	if err != nil {
		return nil, err
	}
	return s, nil
}
