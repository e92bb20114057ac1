// Package api serves the recipe REST endpoints.
//
// Reads pass through the response cache; writes go straight to the store
// and then purge the cache entries they made stale. Every route is wrapped
// with request telemetry, and store calls run behind a circuit breaker.
package api
