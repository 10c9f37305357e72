// Package dedupe tracks recently seen event ids so import ticks can
// skip duplicates without a store round-trip. The event store's unique
// key stays authoritative; this cache is only a fast path.
package dedupe

import (
	"context"
	"sync"
)

// Deduper records seen event ids.
type Deduper interface {
	// SeenAndRecord atomically checks whether id was seen and records it
	// if not. Returns true if id was already seen.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets an id, so a failed insert can be retried against
	// the store on a later tick.
	Unrecord(ctx context.Context, id string)

	// Size returns the number of ids currently tracked.
	Size() int64
}

// defaultMaxSize bounds the cache; old ids are evicted first.
const defaultMaxSize = 100_000

// cache implements Deduper with a map plus a ring of insertion order.
// When full, the oldest id is evicted; an evicted id seen again simply
// falls through to the store, which still skips it.
type cache struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	ring    []string
	head    int
	maxSize int
}

// Option applies a configuration option to the cache.
type Option func(*cache)

// WithMaxSize bounds the number of ids kept. Values below one keep the
// default.
func WithMaxSize(n int) Option {
	return func(c *cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// New creates a bounded in-memory deduper.
func New(opts ...Option) Deduper {
	c := &cache{maxSize: defaultMaxSize}

	for _, opt := range opts {
		opt(c)
	}

	c.seen = make(map[string]struct{}, c.maxSize)
	c.ring = make([]string, 0, c.maxSize)
	return c
}

func (c *cache) SeenAndRecord(_ context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[id]; ok {
		return true
	}

	if len(c.ring) < c.maxSize {
		c.ring = append(c.ring, id)
	} else {
		// Evict the oldest slot and reuse it.
		delete(c.seen, c.ring[c.head])
		c.ring[c.head] = id
		c.head = (c.head + 1) % c.maxSize
	}
	c.seen[id] = struct{}{}
	return false
}

func (c *cache) Unrecord(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The ring slot keeps its value; a stale ring entry only causes a
	// harmless no-op delete at eviction time.
	delete(c.seen, id)
}

func (c *cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.seen))
}
