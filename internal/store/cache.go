package store

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cachedFile is a file's contents together with the stat fields it was
// read under. A hit is only valid while the file on disk still matches.
type cachedFile struct {
	data    []byte
	size    int64
	modTime time.Time
}

func (c cachedFile) matches(size int64, modTime time.Time) bool {
	return c.size == size && c.modTime.Equal(modTime)
}

// Cache provides in-memory caching for file contents.
type Cache interface {
	Get(key string) (cachedFile, bool)
	Add(key string, value cachedFile)
	Remove(key string)
}

// LRUCache is a bounded least-recently-used Cache.
type LRUCache struct {
	items *lru.Cache[string, cachedFile]
}

// NewLRUCache creates a cache holding at most maxEntries files.
func NewLRUCache(maxEntries int) (*LRUCache, error) {
	items, err := lru.New[string, cachedFile](maxEntries)
	if err != nil {
		return nil, err
	}
	return &LRUCache{items: items}, nil
}

func (c *LRUCache) Get(key string) (cachedFile, bool) {
	return c.items.Get(key)
}

func (c *LRUCache) Add(key string, value cachedFile) {
	c.items.Add(key, value)
}

func (c *LRUCache) Remove(key string) {
	c.items.Remove(key)
}

// nopCache is used when caching is disabled.
type nopCache struct{}

func (nopCache) Get(string) (cachedFile, bool) { return cachedFile{}, false }
func (nopCache) Add(string, cachedFile)        {}
func (nopCache) Remove(string)                 {}
