package cache

import (
	"context"
	"net/http"
)

// ProduceFunc computes the authoritative payload for a read, typically by
// querying the entry store.
type ProduceFunc func(ctx context.Context) ([]byte, error)

// Request describes a cacheable operation.
type Request struct {
	// Method is the HTTP method of the request.
	Method string

	// Fingerprint is the cache key, usually from a Keyer.
	Fingerprint string

	// Class selects the TTL from the policy.
	Class Class

	// Tags are attached to the captured entry for invalidation.
	Tags []string
}

// IsRead reports whether the request cannot mutate state.
func (r Request) IsRead() bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

// SkipRule determines whether to bypass the cache for a request.
// Returns true if caching should be skipped.
type SkipRule func(req Request) bool

// DefaultSkipRule bypasses the cache for every non-read method.
func DefaultSkipRule(req Request) bool {
	return !req.IsRead()
}

// ErrorHandler receives cache write failures that did not affect the
// response, such as a payload rejected for an invalid tag.
type ErrorHandler func(ctx context.Context, key string, err error)

// InterposerOption configures an Interposer.
type InterposerOption func(*Interposer)

// WithErrorHandler reports cache write failures to fn.
func WithErrorHandler(fn ErrorHandler) InterposerOption {
	return func(m *Interposer) {
		if fn != nil {
			m.onError = fn
		}
	}
}

// Interposer wraps read operations with caching.
type Interposer struct {
	cache    Cache
	policy   Policy
	skipRule SkipRule
	onError  ErrorHandler
}

// NewInterposer creates a new cache interposer.
// If skipRule is nil, DefaultSkipRule is used. A nil cache disables caching.
func NewInterposer(cache Cache, policy Policy, skipRule SkipRule, opts ...InterposerOption) *Interposer {
	if skipRule == nil {
		skipRule = DefaultSkipRule
	}
	m := &Interposer{
		cache:    cache,
		policy:   policy,
		skipRule: skipRule,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute runs produce with caching.
// On cache hit, returns the cached payload without calling produce.
// On cache miss, calls produce and caches the result unless one of the
// request's tags was invalidated while produce ran.
// Errors are NOT cached.
func (m *Interposer) Execute(ctx context.Context, req Request, produce ProduceFunc) ([]byte, error) {
	if !m.cacheable(req) {
		return produce(ctx)
	}

	if cached, ok := m.cache.Get(ctx, req.Fingerprint); ok {
		return cached, nil
	}

	gc, generational := m.cache.(GenerationalCache)
	var gen uint64
	if generational {
		gen = gc.Generation(req.Tags...)
	}

	result, err := produce(ctx)
	if err != nil {
		return result, err
	}

	ttl := m.policy.TTL(req.Class)
	if generational {
		_, err = gc.SetIfGeneration(ctx, req.Fingerprint, result, ttl, gen, req.Tags...)
	} else {
		err = m.cache.Set(ctx, req.Fingerprint, result, ttl, req.Tags...)
	}
	if err != nil {
		m.report(ctx, req.Fingerprint, err)
	}

	return result, nil
}

func (m *Interposer) report(ctx context.Context, key string, err error) {
	if m.onError != nil {
		m.onError(ctx, key, err)
	}
}

// cacheable reports whether req may be served from or captured into the cache.
// Validation errors fall back to a plain pass-through.
func (m *Interposer) cacheable(req Request) bool {
	if m == nil || m.cache == nil {
		return false
	}
	if m.skipRule(req) {
		return false
	}
	if m.policy.TTL(req.Class) <= 0 {
		return false
	}
	return ValidateKey(req.Fingerprint) == nil
}
