package messaging

import (
	"container/list"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"skiff/cmd/internal/kv"
)

const cacheKeyPrefix = "skiff/conv/"

// ConversationCache is a bounded, TTL-based store mapping a
// conversation id to its ordered message snapshot.
//
// Eviction: least-recently-used entries are dropped when the tracked
// byte size or entry count would exceed capacity; stale entries are
// dropped lazily on read. An optional kv.Backend provides a durable
// tier that survives restarts; backend failures degrade the operation
// to memory-only and are never raised to the caller.
type ConversationCache struct {
	log     *slog.Logger
	clock   clock.Clock
	backend kv.Backend // nil = memory only

	maxAge     time.Duration
	maxEntries int
	maxBytes   int

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used
	bytes   int
	hits    uint64
	misses  uint64
}

type cacheEntry struct {
	conversationID string
	messages       []Message
	timestamp      time.Time
	size           int
}

// persistedEntry is the durable-tier JSON shape.
type persistedEntry struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	Timestamp      time.Time `json:"timestamp"`
}

// CacheStats is the diagnostics snapshot exposed by Stats.
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
	Bytes   int
}

// CacheOption configures ConversationCache behavior.
type CacheOption func(*ConversationCache)

// WithCacheMaxAge sets the snapshot TTL (default 5m).
func WithCacheMaxAge(d time.Duration) CacheOption {
	return func(c *ConversationCache) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithCacheCapacity bounds the cache by entry count and encoded bytes.
func WithCacheCapacity(maxEntries, maxBytes int) CacheOption {
	return func(c *ConversationCache) {
		if maxEntries > 0 {
			c.maxEntries = maxEntries
		}
		if maxBytes > 0 {
			c.maxBytes = maxBytes
		}
	}
}

// WithCacheBackend attaches a durable key-value tier.
func WithCacheBackend(b kv.Backend) CacheOption {
	return func(c *ConversationCache) { c.backend = b }
}

// WithCacheClock injects the time source (tests use a mock).
func WithCacheClock(clk clock.Clock) CacheOption {
	return func(c *ConversationCache) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// NewConversationCache constructs a cache with defaults suitable for a
// handful of concurrently open conversations.
func NewConversationCache(log *slog.Logger, opts ...CacheOption) *ConversationCache {
	if log == nil {
		log = slog.Default()
	}
	c := &ConversationCache{
		log:        log,
		clock:      clock.New(),
		maxAge:     defaultCacheMaxAge,
		maxEntries: defaultCacheMaxEntries,
		maxBytes:   defaultCacheMaxBytes,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the cached snapshot for conversationID, if present and
// fresh. Stale entries are evicted on the spot. A memory miss falls
// through to the durable tier before counting as a miss.
func (c *ConversationCache) Get(ctx context.Context, conversationID string) ([]Message, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	if elem, ok := c.entries[conversationID]; ok {
		ent := elem.Value.(*cacheEntry)
		if now.Sub(ent.timestamp) > c.maxAge {
			c.evictLocked(elem, "expired")
			c.misses++
			c.mu.Unlock()
			metricCacheMisses.Inc()
			c.removeDurable(ctx, conversationID)
			return nil, false
		}
		c.lru.MoveToFront(elem)
		c.hits++
		snap := append([]Message(nil), ent.messages...)
		c.mu.Unlock()
		metricCacheHits.Inc()
		return snap, true
	}
	c.mu.Unlock()

	if msgs, ok := c.loadDurable(ctx, conversationID, now); ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		metricCacheHits.Inc()
		return msgs, true
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	metricCacheMisses.Inc()
	return nil, false
}

// Set overwrites the full snapshot for conversationID and persists it
// to the durable tier when one is configured.
func (c *ConversationCache) Set(ctx context.Context, conversationID string, msgs []Message) {
	if conversationID == "" {
		return
	}

	now := c.clock.Now()
	snap := append([]Message(nil), msgs...)

	encoded, err := json.Marshal(persistedEntry{
		ConversationID: conversationID,
		Messages:       snap,
		Timestamp:      now,
	})
	if err != nil {
		// Message snapshots are plain data; this should never happen.
		c.log.Error("cache.encode.fail", "conversation_id", conversationID, "err", err)
		return
	}

	c.mu.Lock()
	if elem, ok := c.entries[conversationID]; ok {
		old := elem.Value.(*cacheEntry)
		c.bytes -= old.size
		old.messages = snap
		old.timestamp = now
		old.size = len(encoded)
		c.bytes += old.size
		c.lru.MoveToFront(elem)
	} else {
		ent := &cacheEntry{
			conversationID: conversationID,
			messages:       snap,
			timestamp:      now,
			size:           len(encoded),
		}
		c.entries[conversationID] = c.lru.PushFront(ent)
		c.bytes += ent.size
	}

	for (c.lru.Len() > c.maxEntries || c.bytes > c.maxBytes) && c.lru.Len() > 1 {
		c.evictLocked(c.lru.Back(), "capacity")
	}
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Set(ctx, cacheKeyPrefix+conversationID, string(encoded)); err != nil {
			c.log.Warn("cache.persist.fail", "conversation_id", conversationID, "err", err)
		}
	}
}

// Clear drops the snapshot for conversationID from both tiers.
func (c *ConversationCache) Clear(ctx context.Context, conversationID string) {
	c.mu.Lock()
	if elem, ok := c.entries[conversationID]; ok {
		c.evictLocked(elem, "clear")
	}
	c.mu.Unlock()

	c.removeDurable(ctx, conversationID)
}

// Stats returns hit/miss counters and current occupancy.
func (c *ConversationCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:    c.hits,
		Misses:  c.misses,
		Entries: c.lru.Len(),
		Bytes:   c.bytes,
	}
}

// evictLocked removes elem from the memory tier. Caller holds c.mu.
func (c *ConversationCache) evictLocked(elem *list.Element, reason string) {
	ent := elem.Value.(*cacheEntry)
	c.lru.Remove(elem)
	delete(c.entries, ent.conversationID)
	c.bytes -= ent.size
	metricCacheEvictions.Inc()
	c.log.Debug("cache.evict", "conversation_id", ent.conversationID, "reason", reason)
}

// loadDurable resurrects a snapshot from the kv tier if fresh.
func (c *ConversationCache) loadDurable(ctx context.Context, conversationID string, now time.Time) ([]Message, bool) {
	if c.backend == nil {
		return nil, false
	}

	raw, found, err := c.backend.Get(ctx, cacheKeyPrefix+conversationID)
	if err != nil {
		c.log.Warn("cache.restore.fail", "conversation_id", conversationID, "err", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var ent persistedEntry
	if err := json.Unmarshal([]byte(raw), &ent); err != nil {
		c.log.Warn("cache.restore.decode.fail", "conversation_id", conversationID, "err", err)
		c.removeDurable(ctx, conversationID)
		return nil, false
	}
	if now.Sub(ent.Timestamp) > c.maxAge {
		c.removeDurable(ctx, conversationID)
		return nil, false
	}

	c.mu.Lock()
	if _, ok := c.entries[conversationID]; !ok {
		e := &cacheEntry{
			conversationID: conversationID,
			messages:       append([]Message(nil), ent.Messages...),
			timestamp:      ent.Timestamp,
			size:           len(raw),
		}
		c.entries[conversationID] = c.lru.PushFront(e)
		c.bytes += e.size
	}
	c.mu.Unlock()

	return append([]Message(nil), ent.Messages...), true
}

func (c *ConversationCache) removeDurable(ctx context.Context, conversationID string) {
	if c.backend == nil {
		return
	}
	if err := c.backend.Delete(ctx, cacheKeyPrefix+conversationID); err != nil {
		c.log.Warn("cache.remove.fail", "conversation_id", conversationID, "err", err)
	}
}
