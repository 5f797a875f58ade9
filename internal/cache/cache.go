// Package cache implements the bounded TTL+LRU caches in front of the
// hot read paths (sessions, message pages, search results, agent
// memory), built on hashicorp/golang-lru's expirable LRU rather than the
// teacher's ad hoc sync.Map-plus-manual-expiry-check pattern in
// encrypted_store.go, since the library gives capacity eviction for
// free where the teacher's cache had none.
package cache

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Class identifies one of the fixed cache classes with its own
// capacity/TTL pair.
type Class string

const (
	ClassSessions     Class = "session"
	ClassMessagePages Class = "messages"
	ClassSearch       Class = "search"
	ClassAgentMemory  Class = "memory"
)

// Config carries the per-class capacity/TTL pairs, overridable from the
// CACHE_CAPACITY_*/CACHE_TTL_* environment keys.
type Config struct {
	SessionsCapacity int
	SessionsTTL      time.Duration
	MessagesCapacity int
	MessagesTTL      time.Duration
	SearchCapacity   int
	SearchTTL        time.Duration
	MemoryCapacity   int
	MemoryTTL        time.Duration
}

// DefaultConfig matches the capacities/TTLs named in the cache layer spec.
func DefaultConfig() Config {
	return Config{
		SessionsCapacity: 50, SessionsTTL: 60 * time.Second,
		MessagesCapacity: 100, MessagesTTL: 30 * time.Second,
		SearchCapacity: 200, SearchTTL: 120 * time.Second,
		MemoryCapacity: 500, MemoryTTL: 300 * time.Second,
	}
}

// Stats tracks hit/miss counters per class for diagnostics.
type Stats struct {
	mu         sync.Mutex
	hits, miss map[Class]int64
}

func newStats() *Stats {
	return &Stats{hits: make(map[Class]int64), miss: make(map[Class]int64)}
}

func (s *Stats) hit(c Class) {
	s.mu.Lock()
	s.hits[c]++
	s.mu.Unlock()
}

func (s *Stats) missed(c Class) {
	s.mu.Lock()
	s.miss[c]++
	s.mu.Unlock()
}

// Snapshot returns the current hit/miss counts per class.
func (s *Stats) Snapshot() map[Class][2]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Class][2]int64, len(s.hits))
	for c := range s.hits {
		out[c] = [2]int64{s.hits[c], s.miss[c]}
	}
	for c := range s.miss {
		if _, ok := out[c]; !ok {
			out[c] = [2]int64{0, s.miss[c]}
		}
	}
	return out
}

// Cache wraps one expirable LRU per class behind a single handle.
type Cache struct {
	stats    *Stats
	sessions *lru.LRU[string, any]
	messages *lru.LRU[string, any]
	search   *lru.LRU[string, any]
	memory   *lru.LRU[string, any]
}

// New builds the four class caches from cfg.
func New(cfg Config) *Cache {
	return &Cache{
		stats:    newStats(),
		sessions: lru.NewLRU[string, any](cfg.SessionsCapacity, nil, cfg.SessionsTTL),
		messages: lru.NewLRU[string, any](cfg.MessagesCapacity, nil, cfg.MessagesTTL),
		search:   lru.NewLRU[string, any](cfg.SearchCapacity, nil, cfg.SearchTTL),
		memory:   lru.NewLRU[string, any](cfg.MemoryCapacity, nil, cfg.MemoryTTL),
	}
}

func (c *Cache) classCache(class Class) *lru.LRU[string, any] {
	switch class {
	case ClassSessions:
		return c.sessions
	case ClassMessagePages:
		return c.messages
	case ClassSearch:
		return c.search
	case ClassAgentMemory:
		return c.memory
	default:
		return nil
	}
}

// Get looks up key in class, tracking the hit/miss counters.
func (c *Cache) Get(class Class, key string) (any, bool) {
	lc := c.classCache(class)
	if lc == nil {
		return nil, false
	}
	v, ok := lc.Get(key)
	if ok {
		c.stats.hit(class)
	} else {
		c.stats.missed(class)
	}
	return v, ok
}

// Set stores value under key in class.
func (c *Cache) Set(class Class, key string, value any) {
	lc := c.classCache(class)
	if lc == nil {
		return
	}
	lc.Add(key, value)
}

// InvalidatePrefix removes every key in class beginning with prefix,
// implementing the "messages:<session_id>:*" style invalidation the
// spec requires on writes.
func (c *Cache) InvalidatePrefix(class Class, prefix string) {
	lc := c.classCache(class)
	if lc == nil {
		return
	}
	for _, k := range lc.Keys() {
		if strings.HasPrefix(k, prefix) {
			lc.Remove(k)
		}
	}
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(class Class, key string) {
	lc := c.classCache(class)
	if lc == nil {
		return
	}
	lc.Remove(key)
}

// Stats exposes the hit/miss counters for diagnostics.
func (c *Cache) Stats() *Stats {
	return c.stats
}
