package fileindex

import (
	"strconv"
	"strings"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache keeps recently built indexes for a short time. Concurrent misses
// for the same key may both build; building is pure so either result wins.
type Cache struct {
	lru       *expirable.LRU[string, *Index]
	resolver  paste.PathResolver
	chunkSize int64
}

func NewCache(size int, ttl time.Duration, chunkSize int64, resolver paste.PathResolver) *Cache {
	if size <= 0 {
		size = 32
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		lru:       expirable.NewLRU[string, *Index](size, nil, ttl),
		resolver:  resolver,
		chunkSize: chunkSize,
	}
}

func cacheKey(d *paste.Data) string {
	return strconv.FormatInt(d.ID, 10) + ":" + d.Hash()
}

// Get returns the index of d, building it on a miss.
func (c *Cache) Get(d *paste.Data) *Index {
	key := cacheKey(d)
	if idx, ok := c.lru.Get(key); ok {
		return idx
	}
	idx := Build(d.FileItems(), c.resolver, c.chunkSize)
	c.lru.Add(key, idx)
	return idx
}

// Invalidate drops every cached index of paste id.
func (c *Cache) Invalidate(id int64) {
	prefix := strconv.FormatInt(id, 10) + ":"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

func (c *Cache) Len() int { return c.lru.Len() }
