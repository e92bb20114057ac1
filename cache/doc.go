// Package cache provides the response cache that sits in front of the
// read-heavy recipe endpoints.
//
// It has three parts:
//
//   - MemoryCache, an in-process keyed store of captured payloads with a
//     per-entry TTL, lazy expiry on read, a periodic sweep, tag indexing and
//     an optional LRU bound.
//   - Interposer, which wraps a produce action (or an http.Handler) so that
//     reads are served from the cache when possible and successful misses are
//     captured into it. Non-read methods always pass straight through.
//   - Invalidator, which purges the entries affected by a committed write by
//     exact tag match.
//
// Fingerprints are the literal request path plus the raw query string. The
// cache is a pure optimization: treating every lookup as a miss yields the
// same responses.
package cache
