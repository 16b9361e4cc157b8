package messenger

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ReplayCache records (sender, nonce) pairs with compare-and-insert
// semantics: CheckAndMark returns true if the pair was already present,
// and otherwise marks it atomically. Entries age out after the replay
// window so the cache stays bounded.
type ReplayCache interface {
	CheckAndMark(ctx context.Context, sender, nonce string, ttl time.Duration) (bool, error)
}

// MemoryReplayCache is the in-process replay cache used when Redis is not
// configured. Backed by an expirable LRU so memory stays bounded even
// under a nonce flood.
type MemoryReplayCache struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewMemoryReplayCache creates a cache holding up to size pairs that
// expire after ttl.
func NewMemoryReplayCache(size int, ttl time.Duration) *MemoryReplayCache {
	if size <= 0 {
		size = 65536
	}
	return &MemoryReplayCache{
		cache: expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

// CheckAndMark reports whether the pair was seen before, marking it if not.
func (c *MemoryReplayCache) CheckAndMark(_ context.Context, sender, nonce string, _ time.Duration) (bool, error) {
	key := sender + ":" + nonce

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache.Get(key); ok {
		return true, nil
	}
	c.cache.Add(key, struct{}{})
	return false, nil
}
