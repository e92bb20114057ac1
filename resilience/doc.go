// Package resilience guards the recipe server's calls into its entry store
// and its credential endpoints.
//
// The patterns compose through an Executor:
//
//   - Circuit Breaker: after repeated store failures, reads and writes fail
//     fast with ErrCircuitOpen (served as 503) until a probe succeeds.
//   - Retry: transient store errors (a locked database) are retried with
//     backoff. Only reads are retried.
//   - Timeout: each store call gets its own deadline.
//   - Rate Limiter: token buckets, optionally one per client, in front of
//     login and registration.
//   - Bulkhead: bounds concurrent password hashing.
//
// # Usage
//
//	reads := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(breaker),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3})),
//	    resilience.WithTimeout(2*time.Second),
//	)
//
//	page, err := resilience.Do(ctx, reads, func(ctx context.Context) (store.RecipePage, error) {
//	    return st.ListRecipes(ctx, p)
//	})
//
// Reads and writes usually share one CircuitBreaker so that either kind of
// failure trips both.
package resilience
