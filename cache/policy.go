package cache

import "time"

// Class names a TTL class shared by a family of endpoints.
type Class string

// TTL classes used by the recipe endpoints.
const (
	ClassListing   Class = "listing"
	ClassItem      Class = "item"
	ClassSavedIDs  Class = "saved-ids"
	ClassSavedFull Class = "saved-full"
)

// Policy configures caching behavior.
type Policy struct {
	// TTLs maps each class to its time-to-live.
	TTLs map[Class]time.Duration

	// DefaultTTL is used for classes missing from TTLs.
	// If zero, unknown classes are not cached.
	DefaultTTL time.Duration

	// MaxTTL clamps every class TTL. If zero, no maximum is enforced.
	MaxTTL time.Duration

	// SweepInterval is the period of the background sweep.
	// If zero, the longest class TTL is used.
	SweepInterval time.Duration

	// MaxEntries bounds the entry count with LRU eviction.
	// If zero, the cache is unbounded and relies on TTLs alone.
	MaxEntries int
}

// DefaultPolicy returns the caching policy used by the recipe API.
// Listing: 3m, item: 5m, saved ids: 2m, saved full: 2m, unbounded.
func DefaultPolicy() Policy {
	return Policy{
		TTLs: map[Class]time.Duration{
			ClassListing:   3 * time.Minute,
			ClassItem:      5 * time.Minute,
			ClassSavedIDs:  2 * time.Minute,
			ClassSavedFull: 2 * time.Minute,
		},
		DefaultTTL: 0,
		MaxTTL:     1 * time.Hour,
	}
}

// NoCachePolicy returns a policy that disables caching entirely.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache returns true if any class is cacheable under this policy.
func (p Policy) ShouldCache() bool {
	return p.LongestTTL() > 0
}

// TTL returns the effective TTL for class, applying defaults and clamping.
func (p Policy) TTL(class Class) time.Duration {
	ttl, ok := p.TTLs[class]
	if !ok || ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if ttl <= 0 {
		return 0
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}

// LongestTTL returns the largest effective TTL across all classes.
func (p Policy) LongestTTL() time.Duration {
	longest := p.TTL("")
	for class := range p.TTLs {
		if ttl := p.TTL(class); ttl > longest {
			longest = ttl
		}
	}
	return longest
}

// SweepPeriod returns the interval between background sweeps.
func (p Policy) SweepPeriod() time.Duration {
	if p.SweepInterval > 0 {
		return p.SweepInterval
	}
	return p.LongestTTL()
}

// WithTTL returns a copy of p with class set to ttl.
func (p Policy) WithTTL(class Class, ttl time.Duration) Policy {
	ttls := make(map[Class]time.Duration, len(p.TTLs)+1)
	for k, v := range p.TTLs {
		ttls[k] = v
	}
	ttls[class] = ttl
	p.TTLs = ttls
	return p
}
