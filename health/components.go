package health

import (
	"context"
	"fmt"
)

// Pinger is implemented by components reachable with a round trip, such as
// the entry store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports the entry store unhealthy when a ping fails.
type StoreChecker struct {
	name  string
	store Pinger
}

// NewStoreChecker creates a checker named "store" over p.
func NewStoreChecker(p Pinger) *StoreChecker {
	return &StoreChecker{name: "store", store: p}
}

// Name returns the name of this checker.
func (s *StoreChecker) Name() string {
	return s.name
}

// Check pings the store.
func (s *StoreChecker) Check(ctx context.Context) Result {
	if s.store == nil {
		return Unhealthy("store not configured", ErrNilComponent)
	}
	if err := s.store.Ping(ctx); err != nil {
		return Unhealthy("store unreachable", fmt.Errorf("%w: %w", ErrCheckFailed, err))
	}
	return Healthy("store reachable")
}

// Sizer is implemented by caches that can report their entry count.
type Sizer interface {
	Len() int
}

// CacheCheckerConfig configures the cache health checker.
type CacheCheckerConfig struct {
	// WarnEntries is the entry count at which the cache reports degraded.
	// Zero never degrades.
	WarnEntries int
}

// CacheChecker reports the response cache's entry count. The cache is never
// unhealthy: reads fall through to the store when it is empty.
type CacheChecker struct {
	config CacheCheckerConfig
	cache  Sizer
}

// NewCacheChecker creates a checker named "cache" over c.
func NewCacheChecker(c Sizer, config CacheCheckerConfig) *CacheChecker {
	if config.WarnEntries < 0 {
		config.WarnEntries = 0
	}
	return &CacheChecker{config: config, cache: c}
}

// Name returns the name of this checker.
func (c *CacheChecker) Name() string {
	return "cache"
}

// Check reads the entry count.
func (c *CacheChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}
	if c.cache == nil {
		return Degraded("cache disabled")
	}

	entries := c.cache.Len()
	details := map[string]any{"entries": entries}
	if c.config.WarnEntries > 0 {
		details["warn_entries"] = c.config.WarnEntries
		if entries >= c.config.WarnEntries {
			return Degraded(fmt.Sprintf("cache holds %d entries", entries)).WithDetails(details)
		}
	}
	return Healthy(fmt.Sprintf("cache holds %d entries", entries)).WithDetails(details)
}
