package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a fingerprint.
const MaxKeyLength = 2048

// Sentinel errors for cache operations.
var (
	ErrNilCache       = errors.New("cache: cache is nil")
	ErrInvalidKey     = errors.New("cache: key is invalid")
	ErrKeyTooLong     = errors.New("cache: key exceeds max length")
	ErrInvalidTag     = errors.New("cache: tag is invalid")
	ErrAlreadyRunning = errors.New("cache: sweep loop already running")
)

// Eviction reasons reported to an Observer.
const (
	EvictExpired     = "expired"
	EvictSwept       = "swept"
	EvictInvalidated = "invalidated"
	EvictCapacity    = "capacity"

	// EvictStale reports a produced payload that was discarded instead of
	// stored because one of its tags was invalidated while it was produced.
	EvictStale = "stale"
)

// Cache is the interface for storing captured read responses.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: Get never errors; it returns (nil, false) on a miss or expiry.
type Cache interface {
	// Get retrieves a cached payload. Returns (nil, false) on miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set inserts or overwrites a payload with the given TTL and tags.
	// TTL<=0 means no caching.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error

	// Delete removes a cached payload. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error

	// DeleteMatching removes every entry whose key contains pattern.
	// An empty pattern removes every entry.
	DeleteMatching(ctx context.Context, pattern string) (int, error)

	// InvalidateTags removes every entry tagged with any of tags.
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
}

// GenerationalCache is a Cache that can tell whether entries carrying a set
// of tags were invalidated between two points in time.
//
// A reader takes Generation before producing a payload and stores it with
// SetIfGeneration, so a payload read before a write cannot be stored after
// that write's invalidation.
type GenerationalCache interface {
	Cache

	// Generation returns a token that changes whenever an entry carrying
	// any of tags may have been invalidated.
	Generation(tags ...string) uint64

	// SetIfGeneration stores value only if Generation(tags...) still equals
	// gen. It reports whether the value was stored.
	SetIfGeneration(ctx context.Context, key string, value []byte, ttl time.Duration, gen uint64, tags ...string) (bool, error)
}

// Observer receives cache events for diagnostics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Blocking: methods are called on the request path and must return
// immediately; slow sinks must buffer or drop.
type Observer interface {
	Hit(key string)
	Miss(key string)
	Insert(key string, size int, ttl time.Duration)
	Evict(key string, reason string)
}

// NoopObserver discards all cache events.
type NoopObserver struct{}

func (NoopObserver) Hit(string)                        {}
func (NoopObserver) Miss(string)                       {}
func (NoopObserver) Insert(string, int, time.Duration) {}
func (NoopObserver) Evict(string, string)              {}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// ValidateTag checks if a tag is usable for invalidation.
func ValidateTag(tag string) error {
	if strings.TrimSpace(tag) == "" || strings.ContainsAny(tag, "\n\r") {
		return ErrInvalidTag
	}
	return nil
}
