package cache

import (
	"container/list"
	"context"
	"hash/maphash"
	"strings"
	"sync"
	"time"
)

// generationStripes is the number of tag generation counters. Tags sharing
// a stripe invalidate each other's in-flight writes, which only costs a
// missed insert.
const generationStripes = 256

// MemoryCache is an in-memory cache implementation.
//
// Expired entries are removed lazily by Get and in bulk by Sweep. Both paths
// delete through removeIfCurrent, so an entry replaced by a concurrent Set is
// never removed by a stale expiry decision.
//
// Ownership model: MemoryCache owns its sweep goroutine once Start or Run is
// called. Call Stop (or cancel the Run context) to end it.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	tags    map[string]map[string]struct{}
	lru     *list.List // nil when unbounded; front is most recently used

	// Generations, guarded by mu. epoch moves on DeleteMatching, a stripe
	// moves when a tag hashing to it is invalidated.
	seed  maphash.Seed
	epoch uint64
	gens  [generationStripes]uint64

	policy   Policy
	observer Observer
	now      func() time.Time

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type cacheEntry struct {
	key        string
	value      []byte
	insertedAt time.Time
	ttl        time.Duration
	tags       []string
	elem       *list.Element
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) >= e.ttl
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithObserver reports cache events to obs.
func WithObserver(obs Observer) Option {
	return func(c *MemoryCache) {
		if obs != nil {
			c.observer = obs
		}
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates a new in-memory cache with the given policy.
func NewMemoryCache(policy Policy, opts ...Option) *MemoryCache {
	c := &MemoryCache{
		entries:  make(map[string]*cacheEntry),
		tags:     make(map[string]map[string]struct{}),
		seed:     maphash.MakeSeed(),
		policy:   policy,
		observer: NoopObserver{},
		now:      time.Now,
	}
	if policy.MaxEntries > 0 {
		c.lru = list.New()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value from the cache. Returns (nil, false) on miss or expiry.
// The returned slice is shared and must not be modified.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.observer.Miss(key)
		return nil, false
	}

	if entry.expired(now) {
		if c.removeIfCurrent(key, entry) {
			c.observer.Evict(key, EvictExpired)
		}
		c.observer.Miss(key)
		return nil, false
	}

	if c.lru != nil {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == entry {
			c.lru.MoveToFront(entry.elem)
		}
		c.mu.Unlock()
	}

	c.observer.Hit(key)
	return entry.value, true
}

// Set stores a value with the given TTL and tags. TTL=0 means no caching.
// Any existing entry for key is replaced as a whole.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	_, err := c.store(key, value, ttl, tags, nil)
	return err
}

// SetIfGeneration stores value like Set, but only if none of tags was
// invalidated since Generation returned gen. A discarded value is reported
// to the observer as an EvictStale eviction.
func (c *MemoryCache) SetIfGeneration(_ context.Context, key string, value []byte, ttl time.Duration, gen uint64, tags ...string) (bool, error) {
	return c.store(key, value, ttl, tags, &gen)
}

// Generation returns the current generation of tags.
func (c *MemoryCache) Generation(tags ...string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generationLocked(tags)
}

func (c *MemoryCache) store(key string, value []byte, ttl time.Duration, tags []string, gen *uint64) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	for _, tag := range tags {
		if err := ValidateTag(tag); err != nil {
			return false, err
		}
	}

	entry := &cacheEntry{
		key:        key,
		value:      cloneBytes(value),
		insertedAt: c.now(),
		ttl:        ttl,
		tags:       append([]string(nil), tags...),
	}

	var evicted []string
	c.mu.Lock()
	if gen != nil && c.generationLocked(entry.tags) != *gen {
		c.mu.Unlock()
		c.observer.Evict(key, EvictStale)
		return false, nil
	}
	if old, ok := c.entries[key]; ok {
		c.removeLocked(key, old)
	}
	c.entries[key] = entry
	for _, tag := range entry.tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	if c.lru != nil {
		entry.elem = c.lru.PushFront(entry)
		evicted = c.evictOverflowLocked()
	}
	c.mu.Unlock()

	c.observer.Insert(key, len(value), ttl)
	for _, k := range evicted {
		c.observer.Evict(k, EvictCapacity)
	}
	return true, nil
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		c.removeLocked(key, entry)
	}
	c.mu.Unlock()

	if ok {
		c.observer.Evict(key, EvictInvalidated)
	}
	return nil
}

// DeleteMatching removes every entry whose key contains pattern, or every
// entry when pattern is empty. It returns the number of entries removed.
func (c *MemoryCache) DeleteMatching(_ context.Context, pattern string) (int, error) {
	var removed []string

	c.mu.Lock()
	c.epoch++
	for key, entry := range c.entries {
		if pattern == "" || strings.Contains(key, pattern) {
			c.removeLocked(key, entry)
			removed = append(removed, key)
		}
	}
	c.mu.Unlock()

	for _, key := range removed {
		c.observer.Evict(key, EvictInvalidated)
	}
	return len(removed), nil
}

// InvalidateTags removes every entry carrying any of tags and returns the
// number of entries removed.
func (c *MemoryCache) InvalidateTags(_ context.Context, tags ...string) (int, error) {
	for _, tag := range tags {
		if err := ValidateTag(tag); err != nil {
			return 0, err
		}
	}

	var removed []string

	c.mu.Lock()
	for _, tag := range tags {
		c.gens[c.stripe(tag)]++
		for key := range c.tags[tag] {
			if entry, ok := c.entries[key]; ok {
				c.removeLocked(key, entry)
				removed = append(removed, key)
			}
		}
	}
	c.mu.Unlock()

	for _, key := range removed {
		c.observer.Evict(key, EvictInvalidated)
	}
	return len(removed), nil
}

// Sweep removes every entry whose age has reached its TTL and returns the
// number removed. Running it twice in a row is equivalent to running it once.
func (c *MemoryCache) Sweep() int {
	now := c.now()
	var removed []string

	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.expired(now) {
			c.removeLocked(key, entry)
			removed = append(removed, key)
		}
	}
	c.mu.Unlock()

	for _, key := range removed {
		c.observer.Evict(key, EvictSwept)
	}
	return len(removed)
}

// Len returns the number of stored entries, including expired entries that
// have not been reclaimed yet.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Policy returns the policy the cache was built with.
func (c *MemoryCache) Policy() Policy {
	return c.policy
}

// Run sweeps on the policy's sweep period until ctx is done. It returns nil
// on cancellation and ErrAlreadyRunning if a sweep loop is already active.
func (c *MemoryCache) Run(ctx context.Context) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.runMu.Unlock()

	defer func() {
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
	}()

	period := c.policy.SweepPeriod()
	if period <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Start launches the sweep loop in the background.
func (c *MemoryCache) Start() error {
	c.runMu.Lock()
	if c.running || c.cancel != nil {
		c.runMu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.runMu.Unlock()

	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	return nil
}

// Stop ends a loop launched by Start and waits for it to exit.
// Stop is safe to call multiple times.
func (c *MemoryCache) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// removeIfCurrent deletes key only if it still maps to entry.
func (c *MemoryCache) removeIfCurrent(key string, entry *cacheEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.entries[key]
	if !ok || cur != entry {
		return false
	}
	c.removeLocked(key, cur)
	return true
}

func (c *MemoryCache) removeLocked(key string, entry *cacheEntry) {
	delete(c.entries, key)
	for _, tag := range entry.tags {
		keys := c.tags[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.tags, tag)
		}
	}
	if c.lru != nil && entry.elem != nil {
		c.lru.Remove(entry.elem)
		entry.elem = nil
	}
}

// evictOverflowLocked drops expired entries first, then least recently used
// ones, until the cache fits MaxEntries.
func (c *MemoryCache) evictOverflowLocked() []string {
	if len(c.entries) <= c.policy.MaxEntries {
		return nil
	}

	var evicted []string
	now := c.now()
	for key, entry := range c.entries {
		if entry.expired(now) {
			c.removeLocked(key, entry)
			evicted = append(evicted, key)
		}
	}
	for len(c.entries) > c.policy.MaxEntries {
		back := c.lru.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*cacheEntry)
		c.removeLocked(entry.key, entry)
		evicted = append(evicted, entry.key)
	}
	return evicted
}

// generationLocked sums the epoch and the stripes of tags. Every term only
// grows, so the sum changes whenever any of them does.
func (c *MemoryCache) generationLocked(tags []string) uint64 {
	gen := c.epoch
	for _, tag := range tags {
		gen += c.gens[c.stripe(tag)]
	}
	return gen
}

func (c *MemoryCache) stripe(tag string) int {
	return int(maphash.String(c.seed, tag) % generationStripes)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Ensure MemoryCache implements GenerationalCache
var _ GenerationalCache = (*MemoryCache)(nil)
