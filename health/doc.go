// Package health reports whether the recipe server can do useful work.
//
// A Checker reports one component's Status: Healthy, Degraded or Unhealthy.
// StoreChecker pings the entry store; CacheChecker watches the response
// cache's entry count. An Aggregator runs every registered checker under a
// shared deadline and folds the results into one overall status.
//
// # HTTP Endpoints
//
//	h := health.NewHandlers(agg, health.HandlerConfig{Environment: "production"})
//	h.Register(mux)
//
// registers /healthz (liveness, never consults checkers), /readyz (plain
// text readiness) and /health (JSON with status, timestamp, environment and
// per-check details).
package health
