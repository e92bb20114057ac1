// Package config assembles the server configuration.
//
// Values come from Default, then RECIPEBOX_* environment variables
// (ApplyEnv), then command-line flags. Validate checks the result;
// ResolveSecrets expands ${VAR} and secretref: references in secret fields.
package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/recipebox/cache"
	"github.com/jonwraymond/recipebox/observe"
	"github.com/jonwraymond/recipebox/secret"
)

// Environment names with special meaning.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Errors returned by Validate and ApplyEnv.
var (
	ErrInvalidConfig = errors.New("config: invalid")
	ErrInvalidEnv    = errors.New("config: invalid environment variable")
)

// Config holds the server configuration.
type Config struct {
	// Addr is the listen address. Default ":3001".
	Addr string

	// DBPath is the SQLite database file.
	DBPath string

	// Environment is reported by /health and gates production checks.
	Environment string

	// JWTSecret signs and verifies tokens. Required in production.
	// May be a ${VAR} or secretref: reference.
	JWTSecret string

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration

	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// TrustProxy takes the client address from X-Forwarded-For. Enable
	// only behind a proxy that sets it.
	TrustProxy bool

	Cache     CacheConfig
	Store     StoreConfig
	Login     LoginConfig
	Telemetry TelemetryConfig
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled        bool
	NormalizeQuery bool
	MaxEntries     int
	WarnEntries    int
	ListingTTL     time.Duration
	ItemTTL        time.Duration
	SavedIDsTTL    time.Duration
	SavedFullTTL   time.Duration
	SweepInterval  time.Duration
}

// StoreConfig configures guarded store access.
type StoreConfig struct {
	Timeout      time.Duration
	ReadAttempts int
	MaxFailures  int
	ResetTimeout time.Duration
}

// LoginConfig configures per-client rate limits on /auth endpoints.
type LoginConfig struct {
	Rate  float64
	Burst int
}

// TelemetryConfig configures logs, traces and metrics.
type TelemetryConfig struct {
	ServiceName     string
	Version         string
	LogLevel        string
	TracingExporter string
	MetricsExporter string
	SamplePct       float64
}

// Default returns the development configuration.
func Default() Config {
	policy := cache.DefaultPolicy()
	return Config{
		Addr:        ":3001",
		DBPath:      "recipebox.db",
		Environment: EnvDevelopment,
		TokenTTL:    24 * time.Hour,
		CORSOrigins: []string{
			"http://localhost:3000",
			"https://recipe-app-copy.onrender.com",
		},
		ShutdownTimeout: 15 * time.Second,
		Cache: CacheConfig{
			Enabled:      true,
			WarnEntries:  10_000,
			ListingTTL:   policy.TTL(cache.ClassListing),
			ItemTTL:      policy.TTL(cache.ClassItem),
			SavedIDsTTL:  policy.TTL(cache.ClassSavedIDs),
			SavedFullTTL: policy.TTL(cache.ClassSavedFull),
		},
		Store: StoreConfig{
			Timeout:      5 * time.Second,
			ReadAttempts: 3,
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
		Login: LoginConfig{
			Rate:  1,
			Burst: 5,
		},
		Telemetry: TelemetryConfig{
			ServiceName:     "recipebox",
			Version:         "dev",
			LogLevel:        "info",
			TracingExporter: "none",
			MetricsExporter: "prometheus",
			SamplePct:       1.0,
		},
	}
}

// FromEnv returns Default overlaid with the process environment.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays RECIPEBOX_* variables found by lookup. PORT is honoured
// when RECIPEBOX_ADDR is unset.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	if port, ok := lookup("PORT"); ok && port != "" {
		c.Addr = ":" + port
	}
	e.str("RECIPEBOX_ADDR", &c.Addr)
	e.str("RECIPEBOX_DB", &c.DBPath)
	e.str("RECIPEBOX_ENV", &c.Environment)
	e.str("RECIPEBOX_JWT_SECRET", &c.JWTSecret)
	e.duration("RECIPEBOX_TOKEN_TTL", &c.TokenTTL)
	e.list("RECIPEBOX_CORS_ORIGINS", &c.CORSOrigins)
	e.duration("RECIPEBOX_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	e.boolean("RECIPEBOX_TRUST_PROXY", &c.TrustProxy)

	e.boolean("RECIPEBOX_CACHE_ENABLED", &c.Cache.Enabled)
	e.boolean("RECIPEBOX_NORMALIZE_QUERY", &c.Cache.NormalizeQuery)
	e.integer("RECIPEBOX_CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	e.integer("RECIPEBOX_CACHE_WARN_ENTRIES", &c.Cache.WarnEntries)
	e.duration("RECIPEBOX_CACHE_LISTING_TTL", &c.Cache.ListingTTL)
	e.duration("RECIPEBOX_CACHE_ITEM_TTL", &c.Cache.ItemTTL)
	e.duration("RECIPEBOX_CACHE_SAVED_IDS_TTL", &c.Cache.SavedIDsTTL)
	e.duration("RECIPEBOX_CACHE_SAVED_FULL_TTL", &c.Cache.SavedFullTTL)
	e.duration("RECIPEBOX_CACHE_SWEEP_INTERVAL", &c.Cache.SweepInterval)

	e.duration("RECIPEBOX_STORE_TIMEOUT", &c.Store.Timeout)
	e.integer("RECIPEBOX_STORE_READ_ATTEMPTS", &c.Store.ReadAttempts)
	e.integer("RECIPEBOX_STORE_MAX_FAILURES", &c.Store.MaxFailures)
	e.duration("RECIPEBOX_STORE_RESET_TIMEOUT", &c.Store.ResetTimeout)

	e.float("RECIPEBOX_LOGIN_RATE", &c.Login.Rate)
	e.integer("RECIPEBOX_LOGIN_BURST", &c.Login.Burst)

	e.str("RECIPEBOX_SERVICE_NAME", &c.Telemetry.ServiceName)
	e.str("RECIPEBOX_LOG_LEVEL", &c.Telemetry.LogLevel)
	e.str("RECIPEBOX_TRACING_EXPORTER", &c.Telemetry.TracingExporter)
	e.str("RECIPEBOX_METRICS_EXPORTER", &c.Telemetry.MetricsExporter)
	e.float("RECIPEBOX_TRACE_SAMPLE", &c.Telemetry.SamplePct)

	return errors.Join(e.errs...)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if strings.TrimSpace(c.Addr) == "" {
		invalid("addr is required")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		invalid("db path is required")
	}
	if c.Environment == EnvProduction && c.JWTSecret == "" {
		invalid("jwt secret is required in production")
	}
	if c.TokenTTL <= 0 {
		invalid("token ttl must be positive, got %v", c.TokenTTL)
	}
	if c.ShutdownTimeout <= 0 {
		invalid("shutdown timeout must be positive, got %v", c.ShutdownTimeout)
	}
	if c.Cache.MaxEntries < 0 {
		invalid("cache max entries must not be negative, got %d", c.Cache.MaxEntries)
	}
	maxTTL := cache.DefaultPolicy().MaxTTL
	for name, ttl := range map[string]time.Duration{
		"listing":    c.Cache.ListingTTL,
		"item":       c.Cache.ItemTTL,
		"saved-ids":  c.Cache.SavedIDsTTL,
		"saved-full": c.Cache.SavedFullTTL,
	} {
		if ttl < 0 {
			invalid("cache %s ttl must not be negative, got %v", name, ttl)
		}
		if ttl > maxTTL {
			invalid("cache %s ttl must not exceed %v, got %v", name, maxTTL, ttl)
		}
	}
	if c.Store.Timeout <= 0 {
		invalid("store timeout must be positive, got %v", c.Store.Timeout)
	}
	if c.Store.ReadAttempts < 1 {
		invalid("store read attempts must be at least 1, got %d", c.Store.ReadAttempts)
	}
	if c.Login.Rate <= 0 || c.Login.Burst < 1 {
		invalid("login rate limit must be positive, got %v/s burst %d", c.Login.Rate, c.Login.Burst)
	}

	obs := c.ObserveConfig(nil)
	if err := obs.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: telemetry: %w", ErrInvalidConfig, err))
	}

	return errors.Join(errs...)
}

// ResolveSecrets expands references in JWTSecret, DBPath and CORSOrigins
// with r.
// A nil r only expands ${VAR}.
func (c *Config) ResolveSecrets(ctx context.Context, r *secret.Resolver) error {
	var err error
	if c.JWTSecret, err = r.ResolveValue(ctx, c.JWTSecret); err != nil {
		return fmt.Errorf("config: jwt secret: %w", err)
	}
	if c.DBPath, err = r.ResolveValue(ctx, c.DBPath); err != nil {
		return fmt.Errorf("config: db path: %w", err)
	}
	if c.CORSOrigins, err = r.ResolveSlice(ctx, c.CORSOrigins); err != nil {
		return fmt.Errorf("config: cors origins: %w", err)
	}
	return nil
}

// EnsureJWTSecret fills an empty JWTSecret with a random key outside
// production. It reports whether a key was generated; such tokens do not
// survive a restart.
func (c *Config) EnsureJWTSecret() (bool, error) {
	if c.JWTSecret != "" {
		return false, nil
	}
	if c.Environment == EnvProduction {
		return false, fmt.Errorf("%w: jwt secret is required in production", ErrInvalidConfig)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return false, fmt.Errorf("config: generate jwt secret: %w", err)
	}
	c.JWTSecret = hex.EncodeToString(buf)
	return true, nil
}

// CachePolicy builds the cache policy. A disabled cache yields
// cache.NoCachePolicy.
func (c *Config) CachePolicy() cache.Policy {
	if !c.Cache.Enabled {
		return cache.NoCachePolicy()
	}
	p := cache.DefaultPolicy().
		WithTTL(cache.ClassListing, c.Cache.ListingTTL).
		WithTTL(cache.ClassItem, c.Cache.ItemTTL).
		WithTTL(cache.ClassSavedIDs, c.Cache.SavedIDsTTL).
		WithTTL(cache.ClassSavedFull, c.Cache.SavedFullTTL)
	p.SweepInterval = c.Cache.SweepInterval
	p.MaxEntries = c.Cache.MaxEntries
	return p
}

// Keyer builds the cache fingerprint function.
func (c *Config) Keyer() cache.Keyer {
	if c.Cache.NormalizeQuery {
		return cache.NewNormalizingKeyer()
	}
	return cache.NewDefaultKeyer()
}

// ObserveConfig builds the telemetry configuration. Exporters named
// "none" or "" disable their subsystem. A nil w logs to stderr.
func (c *Config) ObserveConfig(w io.Writer) observe.Config {
	t := c.Telemetry
	return observe.Config{
		ServiceName: t.ServiceName,
		Version:     t.Version,
		Environment: c.Environment,
		Tracing: observe.TracingConfig{
			Enabled:   enabled(t.TracingExporter),
			Exporter:  t.TracingExporter,
			SamplePct: t.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  enabled(t.MetricsExporter),
			Exporter: t.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   strings.ToLower(t.LogLevel),
			Writer:  w,
		},
	}
}

func enabled(exporter string) bool {
	return exporter != "" && exporter != "none"
}

// envReader accumulates parse errors while overlaying variables.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%w: %s=%q: %w", ErrInvalidEnv, name, value, err))
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" && !slices.Contains(out, item) {
			out = append(out, item)
		}
	}
	*dst = out
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(name string, dst *float64) {
	if v, ok := e.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = d
	}
}
