// internal/cache/cache.go

// Package cache implements the namespaced TTL/LRU cache used by the
// optimization layer. Entries are spread across independently locked shards
// so that operations on unrelated keys do not contend.
package cache

import (
	"container/list"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/utils"
)

const shardCount = 16

// Entry is a single cached value.
type Entry struct {
	Key       string
	Namespace string
	Value     any
	CreatedAt time.Time
	ExpiresAt time.Time
	Size      int

	lastAccess uint64
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	HitRate     float64 `json:"hit_rate"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Bytes       int64   `json:"bytes"`
}

type shard struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recently accessed
}

// IntelligentCache is a size-bounded cache with per-entry expiry and
// least-recently-used eviction.
type IntelligentCache struct {
	shards     [shardCount]*shard
	defaultTTL time.Duration
	maxSize    int

	// evictMu serializes capacity reservation so the entry count never
	// exceeds maxSize through concurrent inserts.
	evictMu sync.Mutex
	size    atomic.Int64
	seq     atomic.Uint64

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
	bytes       atomic.Int64

	clock  func() time.Time
	logger utils.Logger
}

// New creates a cache from cfg. Non-positive values fall back to five
// minutes and 1000 entries.
func New(cfg config.CacheConfig) *IntelligentCache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}

	c := &IntelligentCache{
		defaultTTL: cfg.DefaultTTL,
		maxSize:    cfg.MaxSize,
		clock:      time.Now,
		logger:     utils.GetLogger("cache"),
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			items: make(map[string]*list.Element),
			order: list.New(),
		}
	}
	return c
}

func (c *IntelligentCache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%shardCount]
}

// Get returns the value stored under (namespace, identifier, params) if it
// exists and has not expired. Expired entries are removed on the spot.
func (c *IntelligentCache) Get(namespace, identifier string, params map[string]any) (any, bool) {
	key := Key(namespace, identifier, params)
	s := c.shardFor(key)
	now := c.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	e := elem.Value.(*Entry)
	if !now.Before(e.ExpiresAt) {
		c.removeLocked(s, elem)
		c.expirations.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	e.lastAccess = c.seq.Add(1)
	s.order.MoveToFront(elem)
	c.hits.Add(1)
	return e.Value, true
}

// Set stores value with an expiry of now plus ttl (the first ttl argument
// when positive, the default TTL otherwise). Inserting a new key into a full
// cache first evicts the least recently accessed entry.
func (c *IntelligentCache) Set(namespace, identifier string, value any, params map[string]any, ttl ...time.Duration) {
	key := Key(namespace, identifier, params)
	s := c.shardFor(key)

	expiry := c.defaultTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		expiry = ttl[0]
	}

	if c.update(s, key, value, expiry) {
		return
	}

	c.reserve()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another writer may have inserted the key while we were reserving.
	if elem, ok := s.items[key]; ok {
		c.size.Add(-1)
		c.refreshLocked(s, elem, value, expiry)
		return
	}

	now := c.clock()
	e := &Entry{
		Key:        key,
		Namespace:  namespace,
		Value:      value,
		CreatedAt:  now,
		ExpiresAt:  now.Add(expiry),
		Size:       estimateSize(value),
		lastAccess: c.seq.Add(1),
	}
	s.items[key] = s.order.PushFront(e)
	c.bytes.Add(int64(e.Size))
}

// update refreshes an existing entry in place and reports whether it did.
func (c *IntelligentCache) update(s *shard, key string, value any, expiry time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return false
	}
	c.refreshLocked(s, elem, value, expiry)
	return true
}

func (c *IntelligentCache) refreshLocked(s *shard, elem *list.Element, value any, expiry time.Duration) {
	e := elem.Value.(*Entry)
	now := c.clock()
	size := estimateSize(value)

	c.bytes.Add(int64(size - e.Size))
	e.Value = value
	e.Size = size
	e.CreatedAt = now
	e.ExpiresAt = now.Add(expiry)
	e.lastAccess = c.seq.Add(1)
	s.order.MoveToFront(elem)
}

// reserve claims room for one new entry, evicting as needed. When the cache
// is full of reservations that are not yet inserted there is nothing to
// evict, so it yields until one of them lands or is given back.
func (c *IntelligentCache) reserve() {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	for c.size.Load() >= int64(c.maxSize) {
		if !c.evictOldest() {
			runtime.Gosched()
		}
	}
	c.size.Add(1)
}

// evictOldest removes the entry with the oldest access across all shards.
// Each shard's list is ordered by access, so only shard tails are compared.
func (c *IntelligentCache) evictOldest() bool {
	var victim *shard
	oldest := uint64(math.MaxUint64)

	for _, s := range c.shards {
		s.mu.Lock()
		if back := s.order.Back(); back != nil {
			if e := back.Value.(*Entry); e.lastAccess < oldest {
				oldest = e.lastAccess
				victim = s
			}
		}
		s.mu.Unlock()
	}
	if victim == nil {
		return false
	}

	victim.mu.Lock()
	defer victim.mu.Unlock()

	back := victim.order.Back()
	if back == nil {
		// Emptied concurrently; the caller re-checks the size.
		return true
	}
	e := back.Value.(*Entry)
	c.removeLocked(victim, back)
	c.evictions.Add(1)
	c.logger.Debugf("evicted %s (namespace=%s)", e.Key, e.Namespace)
	return true
}

func (c *IntelligentCache) removeLocked(s *shard, elem *list.Element) {
	e := s.order.Remove(elem).(*Entry)
	delete(s.items, e.Key)
	c.size.Add(-1)
	c.bytes.Add(-int64(e.Size))
}

// Delete removes a single entry and reports whether it existed.
func (c *IntelligentCache) Delete(namespace, identifier string, params map[string]any) bool {
	key := Key(namespace, identifier, params)
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return false
	}
	c.removeLocked(s, elem)
	return true
}

// InvalidateNamespace drops every entry in namespace and returns how many
// were removed.
func (c *IntelligentCache) InvalidateNamespace(namespace string) int {
	removed := 0
	c.each(func(s *shard, elem *list.Element, e *Entry) {
		if e.Namespace == namespace {
			c.removeLocked(s, elem)
			removed++
		}
	})
	if removed > 0 {
		c.logger.Infof("invalidated %d entries in namespace %s", removed, namespace)
	}
	return removed
}

// PurgeExpired removes expired entries that have not been read since they
// expired. It returns the number removed.
func (c *IntelligentCache) PurgeExpired() int {
	now := c.clock()
	removed := 0
	c.each(func(s *shard, elem *list.Element, e *Entry) {
		if !now.Before(e.ExpiresAt) {
			c.removeLocked(s, elem)
			removed++
		}
	})
	c.expirations.Add(int64(removed))
	return removed
}

// each visits every entry shard by shard while holding that shard's lock.
// fn may remove the visited element.
func (c *IntelligentCache) each(fn func(*shard, *list.Element, *Entry)) {
	for _, s := range c.shards {
		s.mu.Lock()
		for elem := s.order.Front(); elem != nil; {
			next := elem.Next()
			fn(s, elem, elem.Value.(*Entry))
			elem = next
		}
		s.mu.Unlock()
	}
}

// Clear removes all entries. Counters are kept.
func (c *IntelligentCache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		for elem := s.order.Front(); elem != nil; elem = elem.Next() {
			e := elem.Value.(*Entry)
			c.size.Add(-1)
			c.bytes.Add(-int64(e.Size))
		}
		s.items = make(map[string]*list.Element)
		s.order.Init()
		s.mu.Unlock()
	}
}

// Len returns the number of physically stored entries, expired or not.
func (c *IntelligentCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// Stats returns current counters.
func (c *IntelligentCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	st := Stats{
		Size:        c.Len(),
		MaxSize:     c.maxSize,
		Hits:        hits,
		Misses:      misses,
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Bytes:       c.bytes.Load(),
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}
