// Package observe provides tracing, metrics and structured logging for the
// recipe server.
//
// An Observer owns the OpenTelemetry providers selected by Config. The
// HTTP Middleware records one span, one set of request metrics and one log
// line per request. CacheRecorder turns cache events into counters and
// debug logs without blocking the request path.
package observe
