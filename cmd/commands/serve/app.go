package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/recipebox/api"
	"github.com/jonwraymond/recipebox/auth"
	"github.com/jonwraymond/recipebox/cache"
	"github.com/jonwraymond/recipebox/config"
	"github.com/jonwraymond/recipebox/health"
	"github.com/jonwraymond/recipebox/observe"
	"github.com/jonwraymond/recipebox/resilience"
	"github.com/jonwraymond/recipebox/store"
)

const tokenIssuer = "recipebox"

// app is one assembled server process.
type app struct {
	cfg      config.Config
	obs      observe.Observer
	logger   observe.Logger
	store    *store.SQLiteStore
	cache    *cache.MemoryCache // nil when caching is disabled
	recorder *observe.CacheRecorder
	handler  http.Handler

	// hangup delivers cache flush requests. Nil disables them.
	hangup <-chan os.Signal
}

// newApp wires every component from cfg. Logs go to logOut. On error
// everything opened so far is released.
func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (_ *app, err error) {
	obs, err := observe.NewObserver(ctx, cfg.ObserveConfig(logOut))
	if err != nil {
		return nil, fmt.Errorf("serve: telemetry: %w", err)
	}
	defer func() {
		if err != nil {
			_ = obs.Shutdown(context.Background())
		}
	}()
	logger := obs.Logger()

	st, err := store.OpenAt(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("serve: %w", err)
	}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	guarded := api.NewGuardedStore(st, api.GuardConfig{
		Timeout:      cfg.Store.Timeout,
		ReadAttempts: cfg.Store.ReadAttempts,
		MaxFailures:  cfg.Store.MaxFailures,
		ResetTimeout: cfg.Store.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn(context.Background(), "circuit state changed",
				observe.Field{Key: "circuit", Value: name},
				observe.Field{Key: "from", Value: from.String()},
				observe.Field{Key: "to", Value: to.String()},
			)
		},
	})

	recorder, err := observe.NewCacheRecorder(obs.Meter(), logger, 0)
	if err != nil {
		return nil, fmt.Errorf("serve: cache metrics: %w", err)
	}

	a := &app{
		cfg:      cfg,
		obs:      obs,
		logger:   logger,
		store:    st,
		recorder: recorder,
	}

	policy := cfg.CachePolicy()
	var responses cache.Cache
	agg := health.NewAggregator()
	agg.Register(health.NewStoreChecker(st))
	agg.Register(guarded.Checker())
	if policy.ShouldCache() {
		a.cache = cache.NewMemoryCache(policy, cache.WithObserver(recorder))
		responses = a.cache
		agg.Register(health.NewCacheChecker(a.cache, health.CacheCheckerConfig{WarnEntries: cfg.Cache.WarnEntries}))
	} else {
		agg.Register(health.NewCacheChecker(nil, health.CacheCheckerConfig{}))
	}

	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, fmt.Errorf("serve: middleware: %w", err)
	}

	tokens := auth.NewJWTAuthenticator(auth.JWTConfig{
		Issuer: tokenIssuer,
		TTL:    cfg.TokenTTL,
	}, auth.NewStaticKeyProvider([]byte(cfg.JWTSecret)))

	srv, err := api.New(api.Config{
		Store:       guarded,
		Tokens:      tokens,
		Cache:       responses,
		CachePolicy: policy,
		Keyer:       cfg.Keyer(),
		Middleware:  mw,
		Logger:      logger,
		Health: health.NewHandlers(agg, health.HandlerConfig{
			Environment: cfg.Environment,
		}),
		Metrics:     obs.MetricsHandler(),
		CORSOrigins: cfg.CORSOrigins,
		AuthLimit: resilience.RateLimiterConfig{
			Rate:  cfg.Login.Rate,
			Burst: cfg.Login.Burst,
		},
		TrustProxy: cfg.TrustProxy,
	})
	if err != nil {
		return nil, fmt.Errorf("serve: %w", err)
	}
	a.handler = srv

	return a, nil
}

// run serves on cfg.Addr until ctx is done, then shuts down gracefully and
// releases the store and telemetry.
func (a *app) run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		a.close()
		return fmt.Errorf("serve: listen: %w", err)
	}
	return a.serve(ctx, ln)
}

func (a *app) serve(ctx context.Context, ln net.Listener) error {
	defer a.close()

	if a.hangup == nil {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		a.hangup = hup
	}

	httpServer := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)

	// The sweep loop and the recorder outlive the HTTP server: they stop
	// only after in-flight requests have finished, sweep first.
	sweepCtx, stopSweep := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSweep()
	recorderCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRecorder()

	g.Go(func() error { return a.recorder.Run(recorderCtx) })
	sweepDone := make(chan struct{})
	if a.cache != nil {
		g.Go(func() error {
			defer close(sweepDone)
			return a.cache.Run(sweepCtx)
		})
	} else {
		close(sweepDone)
	}
	g.Go(func() error {
		a.logger.Info(gctx, "listening",
			observe.Field{Key: "addr", Value: ln.Addr().String()},
			observe.Field{Key: "environment", Value: a.cfg.Environment},
			observe.Field{Key: "cache", Value: a.cache != nil},
		)
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		a.logger.Info(shutdownCtx, "shutting down")
		err := httpServer.Shutdown(shutdownCtx)
		stopSweep()
		<-sweepDone
		stopRecorder()
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-a.hangup:
				a.flush(gctx)
			}
		}
	})

	return g.Wait()
}

// flush empties the response cache.
func (a *app) flush(ctx context.Context) {
	if a.cache == nil {
		return
	}
	n, err := cache.NewInvalidator(a.cache).Flush(ctx)
	if err != nil {
		a.logger.Warn(ctx, "cache flush failed", observe.Field{Key: "error", Value: err.Error()})
		return
	}
	a.logger.Info(ctx, "cache flushed", observe.Field{Key: "entries", Value: n})
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.obs.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", observe.Field{Key: "error", Value: err.Error()})
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn(ctx, "store close failed", observe.Field{Key: "error", Value: err.Error()})
	}
}
