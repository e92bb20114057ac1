package resilience

import (
	"context"
	"slices"
	"sync"
	"time"
)

// KeyedRateLimiter keeps one token bucket per key, typically per client
// address, so one noisy client cannot exhaust another's budget.
//
// Once the number of tracked keys reaches MaxKeys, full buckets are pruned
// first (they are indistinguishable from new ones). If that does not free
// room, the least recently used keys are dropped until a tenth of the
// capacity is free again.
type KeyedRateLimiter struct {
	config  RateLimiterConfig
	maxKeys int

	mu      sync.Mutex
	buckets map[string]*keyedBucket
}

type keyedBucket struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// DefaultMaxKeys bounds the number of tracked keys before pruning.
const DefaultMaxKeys = 10_000

// NewKeyedRateLimiter creates per-key limiters sharing config.
// A non-positive maxKeys uses DefaultMaxKeys.
func NewKeyedRateLimiter(config RateLimiterConfig, maxKeys int) *KeyedRateLimiter {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &KeyedRateLimiter{
		config:  config.withDefaults(),
		maxKeys: maxKeys,
		buckets: make(map[string]*keyedBucket),
	}
}

// Limiter returns the bucket for key, creating it if needed.
func (k *KeyedRateLimiter) Limiter(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.config.Now()
	if b, ok := k.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	if len(k.buckets) >= k.maxKeys {
		k.pruneLocked()
	}
	b := &keyedBucket{limiter: NewRateLimiter(k.config), lastSeen: now}
	k.buckets[key] = b
	return b.limiter
}

// Allow reports whether one operation for key may proceed now.
func (k *KeyedRateLimiter) Allow(key string) bool {
	return k.Limiter(key).Allow()
}

// Execute runs op if key's bucket allows it.
func (k *KeyedRateLimiter) Execute(ctx context.Context, key string, op func(context.Context) error) error {
	return k.Limiter(key).Execute(ctx, op)
}

// Len returns the number of tracked keys.
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *KeyedRateLimiter) pruneLocked() {
	for key, b := range k.buckets {
		b.limiter.mu.Lock()
		idle := b.limiter.idleLocked()
		b.limiter.mu.Unlock()
		if idle {
			delete(k.buckets, key)
		}
	}

	target := k.maxKeys - max(1, k.maxKeys/10)
	if len(k.buckets) <= target {
		return
	}

	type seen struct {
		key string
		at  time.Time
	}
	order := make([]seen, 0, len(k.buckets))
	for key, b := range k.buckets {
		order = append(order, seen{key: key, at: b.lastSeen})
	}
	slices.SortFunc(order, func(a, b seen) int { return a.at.Compare(b.at) })
	for _, s := range order[:len(order)-target] {
		delete(k.buckets, s.key)
	}
}
