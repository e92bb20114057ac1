package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/jonwraymond/recipebox/auth"
	"github.com/jonwraymond/recipebox/cache"
	"github.com/jonwraymond/recipebox/health"
	"github.com/jonwraymond/recipebox/observe"
	"github.com/jonwraymond/recipebox/resilience"
	"github.com/jonwraymond/recipebox/store"
)

// Tokens issues and verifies bearer tokens.
type Tokens interface {
	auth.Authenticator
	Issue(ctx context.Context, userID string) (string, time.Time, error)
}

// Config wires the server's collaborators. Store and Tokens are required;
// everything else has a working default.
type Config struct {
	Store  store.Store
	Tokens Tokens

	// Cache holds read responses. Nil serves every read from the store.
	Cache       cache.Cache
	CachePolicy cache.Policy
	Keyer       cache.Keyer

	Middleware *observe.Middleware
	Logger     observe.Logger

	// Health mounts /health, /healthz and /readyz when set.
	Health *health.Handlers

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	CORSOrigins []string

	// AuthLimit is the per-client rate limit on /auth endpoints.
	AuthLimit resilience.RateLimiterConfig

	// MaxHashing bounds concurrent password hashing.
	// Default: runtime.NumCPU()
	MaxHashing int

	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
}

// Server serves the recipe API.
//
// Contract:
//   - Concurrency: safe for concurrent use once created.
//   - Ownership: the server does not close the store or stop the cache.
type Server struct {
	store       store.Store
	tokens      Tokens
	owners      auth.Authorizer
	interposer  *cache.Interposer
	invalidator *cache.Invalidator
	keyer       cache.Keyer
	mw          *observe.Middleware
	logger      observe.Logger
	authLimiter *resilience.KeyedRateLimiter
	hashing     *resilience.Bulkhead
	trustProxy  bool

	handler http.Handler
}

// New creates a server and its routes.
func New(config Config) (*Server, error) {
	if config.Store == nil {
		return nil, ErrMissingStore
	}
	if config.Tokens == nil {
		return nil, ErrMissingTokens
	}
	if config.Keyer == nil {
		config.Keyer = cache.NewDefaultKeyer()
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Middleware == nil {
		config.Middleware = observe.NewMiddleware(nil, nil, config.Logger)
	}

	s := &Server{
		store:       config.Store,
		tokens:      config.Tokens,
		owners:      auth.OwnerAuthorizer{},
		interposer:  cache.NewInterposer(config.Cache, config.CachePolicy, nil, cache.WithErrorHandler(cacheErrorLogger(config.Logger))),
		keyer:       config.Keyer,
		mw:          config.Middleware,
		logger:      config.Logger,
		authLimiter: resilience.NewKeyedRateLimiter(config.AuthLimit, 0),
		hashing:     resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: config.MaxHashing, MaxWait: 2 * time.Second}),
		trustProxy:  config.TrustProxy,
	}
	if config.Cache != nil {
		s.invalidator = cache.NewInvalidator(config.Cache)
	}

	mux := http.NewServeMux()
	s.routes(mux)
	if config.Health != nil {
		config.Health.Register(mux)
	}
	if config.Metrics != nil {
		mux.Handle("GET /metrics", config.Metrics)
	}

	s.handler = cors.New(cors.Options{
		AllowedOrigins: config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	}).Handler(mux)

	return s, nil
}

// cacheErrorLogger logs cache writes that failed without affecting the
// response.
func cacheErrorLogger(logger observe.Logger) cache.ErrorHandler {
	return func(ctx context.Context, key string, err error) {
		logger.Warn(ctx, "response not cached",
			observe.Field{Key: "cache.key", Value: key},
			observe.Field{Key: "error", Value: err},
		)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// route describes one endpoint.
type route struct {
	method  string
	pattern string
	handler http.HandlerFunc

	// secured routes require a bearer token.
	secured bool

	// cached routes pass through the response cache.
	cached *cache.Route
}

func (s *Server) routes(mux *http.ServeMux) {
	listing := &cache.Route{
		Class: cache.ClassListing,
		Tags:  func(*http.Request) []string { return []string{cache.TagRecipeListing} },
	}
	item := &cache.Route{
		Class: cache.ClassItem,
		Tags: func(r *http.Request) []string {
			return []string{cache.TagRecipe(r.PathValue("recipeId"))}
		},
	}
	savedTags := func(r *http.Request) []string {
		return []string{cache.TagUserSaved(r.PathValue("userId"))}
	}

	routes := []route{
		{method: http.MethodPost, pattern: "/auth/register", handler: s.handleRegister},
		{method: http.MethodPost, pattern: "/auth/login", handler: s.handleLogin},
		{method: http.MethodGet, pattern: "/recipes", handler: s.handleListRecipes, cached: listing},
		{method: http.MethodPost, pattern: "/recipes", handler: s.handleCreateRecipe, secured: true},
		{method: http.MethodPut, pattern: "/recipes", handler: s.handleSaveRecipe, secured: true},
		{method: http.MethodGet, pattern: "/recipes/{recipeId}", handler: s.handleGetRecipe, cached: item},
		{
			method: http.MethodGet, pattern: "/recipes/savedRecipes/ids/{userId}", handler: s.handleSavedRecipeIDs,
			cached: &cache.Route{Class: cache.ClassSavedIDs, Tags: savedTags},
		},
		{
			method: http.MethodGet, pattern: "/recipes/savedRecipes/{userId}", handler: s.handleSavedRecipes,
			cached: &cache.Route{Class: cache.ClassSavedFull, Tags: savedTags},
		},
	}

	requireToken := auth.RequireToken(s.tokens, s.writeError)
	for _, rt := range routes {
		var h http.Handler = rt.handler
		meta := observe.RouteMeta{Method: rt.method, Pattern: rt.pattern}
		if rt.cached != nil {
			h = s.interposer.Handler(s.keyer, *rt.cached, h)
			meta.CacheClass = string(rt.cached.Class)
		}
		if rt.secured {
			h = requireToken(h)
		}
		mux.Handle(rt.method+" "+rt.pattern, s.mw.Handler(meta, h))
	}
}

// clientIP returns the address used to key per-client rate limits.
func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// invalidate runs purge after a committed write. The purge outlives a
// cancelled request, and its failure is only logged: the write stands and
// staleness is bounded by the entry TTL.
func (s *Server) invalidate(r *http.Request, what string, purge func(context.Context, *cache.Invalidator) (int, error)) {
	if s.invalidator == nil {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	n, err := purge(ctx, s.invalidator)
	if err != nil {
		s.logger.Warn(ctx, "cache invalidation failed",
			observe.Field{Key: "cache.invalidate", Value: what},
			observe.Field{Key: "error", Value: err},
		)
		return
	}
	s.logger.Debug(ctx, "cache invalidated",
		observe.Field{Key: "cache.invalidate", Value: what},
		observe.Field{Key: "cache.removed", Value: n},
	)
}
