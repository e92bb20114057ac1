package api

import (
	"context"
	"errors"
	"time"

	"github.com/jonwraymond/recipebox/health"
	"github.com/jonwraymond/recipebox/resilience"
	"github.com/jonwraymond/recipebox/store"
)

// GuardConfig configures GuardedStore.
type GuardConfig struct {
	// Timeout bounds each store call, per attempt.
	Timeout time.Duration

	// ReadAttempts is the number of tries for idempotent reads.
	ReadAttempts int

	// MaxFailures opens the circuit after that many consecutive failures.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open.
	ResetTimeout time.Duration

	// OnStateChange observes circuit transitions.
	OnStateChange func(name string, from, to resilience.State)
}

// GuardedStore runs store calls through resilience guards. Reads get a
// circuit breaker, retries and a per-attempt timeout; writes get the same
// breaker and a timeout but are never retried. Ping and Close bypass the
// guards so health checks see the store itself.
type GuardedStore struct {
	next    store.Store
	breaker *resilience.CircuitBreaker
	reads   *resilience.Executor
	writes  *resilience.Executor
}

// NewGuardedStore wraps next.
func NewGuardedStore(next store.Store, config GuardConfig) *GuardedStore {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "store",
		MaxFailures:   config.MaxFailures,
		ResetTimeout:  config.ResetTimeout,
		OnStateChange: config.OnStateChange,
		IsFailure:     isStoreFailure,
	})
	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: config.ReadAttempts,
		RetryIf:     isStoreFailure,
	})

	return &GuardedStore{
		next:    next,
		breaker: breaker,
		reads: resilience.NewExecutor(
			resilience.WithCircuitBreaker(breaker),
			resilience.WithRetry(retry),
			resilience.WithTimeout(config.Timeout),
		),
		writes: resilience.NewExecutor(
			resilience.WithCircuitBreaker(breaker),
			resilience.WithTimeout(config.Timeout),
		),
	}
}

// isStoreFailure reports whether err says the store is unwell. Answers
// such as "not found" are successful round trips.
func isStoreFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrDuplicateUser),
		errors.Is(err, store.ErrInvalidRecipe):
		return false
	}
	return true
}

// Breaker returns the circuit breaker shared by reads and writes.
func (g *GuardedStore) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}

// Checker reports the circuit state: degraded while open or probing.
func (g *GuardedStore) Checker() health.Checker {
	return health.NewCheckerFunc("store-circuit", func(ctx context.Context) health.Result {
		m := g.breaker.Metrics()
		details := map[string]any{
			"state":    m.State.String(),
			"failures": m.Failures,
			"rejected": m.Rejected,
		}
		if m.State == resilience.StateClosed {
			return health.Healthy("circuit closed").WithDetails(details)
		}
		return health.Degraded("circuit " + m.State.String()).WithDetails(details)
	})
}

func (g *GuardedStore) CreateUser(ctx context.Context, username, passwordHash string) (store.User, error) {
	return resilience.Do(ctx, g.writes, func(ctx context.Context) (store.User, error) {
		return g.next.CreateUser(ctx, username, passwordHash)
	})
}

func (g *GuardedStore) UserByUsername(ctx context.Context, username string) (store.User, error) {
	return resilience.Do(ctx, g.reads, func(ctx context.Context) (store.User, error) {
		return g.next.UserByUsername(ctx, username)
	})
}

func (g *GuardedStore) UserByID(ctx context.Context, id string) (store.User, error) {
	return resilience.Do(ctx, g.reads, func(ctx context.Context) (store.User, error) {
		return g.next.UserByID(ctx, id)
	})
}

func (g *GuardedStore) CreateRecipe(ctx context.Context, in store.RecipeInput) (store.Recipe, error) {
	return resilience.Do(ctx, g.writes, func(ctx context.Context) (store.Recipe, error) {
		return g.next.CreateRecipe(ctx, in)
	})
}

func (g *GuardedStore) ListRecipes(ctx context.Context, page store.Page) (store.RecipePage, error) {
	return resilience.Do(ctx, g.reads, func(ctx context.Context) (store.RecipePage, error) {
		return g.next.ListRecipes(ctx, page)
	})
}

func (g *GuardedStore) RecipeByID(ctx context.Context, id string) (store.Recipe, error) {
	return resilience.Do(ctx, g.reads, func(ctx context.Context) (store.Recipe, error) {
		return g.next.RecipeByID(ctx, id)
	})
}

func (g *GuardedStore) SavedRecipeIDs(ctx context.Context, userID string) ([]string, error) {
	return resilience.Do(ctx, g.reads, func(ctx context.Context) ([]string, error) {
		return g.next.SavedRecipeIDs(ctx, userID)
	})
}

func (g *GuardedStore) SavedRecipes(ctx context.Context, userID string) ([]store.Recipe, error) {
	return resilience.Do(ctx, g.reads, func(ctx context.Context) ([]store.Recipe, error) {
		return g.next.SavedRecipes(ctx, userID)
	})
}

// SaveRecipe is idempotent in the store but still not retried: a timed
// out attempt may have committed.
func (g *GuardedStore) SaveRecipe(ctx context.Context, userID, recipeID string) ([]string, error) {
	return resilience.Do(ctx, g.writes, func(ctx context.Context) ([]string, error) {
		return g.next.SaveRecipe(ctx, userID, recipeID)
	})
}

func (g *GuardedStore) Ping(ctx context.Context) error {
	return g.next.Ping(ctx)
}

func (g *GuardedStore) Close() error {
	return g.next.Close()
}

var _ store.Store = (*GuardedStore)(nil)
