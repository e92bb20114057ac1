// Package serve implements the serve command: it assembles the store,
// cache, telemetry and HTTP server from configuration and runs them until
// interrupted.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/recipebox/cmd/commands/version"
	"github.com/jonwraymond/recipebox/config"
	"github.com/jonwraymond/recipebox/secret"
)

// flags holds command-line overrides. Only flags the user set are applied.
type flags struct {
	addr            string
	db              string
	env             string
	logLevel        string
	metricsExporter string
	tracingExporter string
	normalizeQuery  bool
	maxEntries      int
	noCache         bool
	trustProxy      bool
}

// runFunc runs the server with a loaded configuration.
type runFunc func(cmd *cobra.Command, cfg config.Config, generated bool) error

// NewCommand returns the serve command.
func NewCommand() *cobra.Command {
	return newCommand(runServer)
}

func newCommand(run runFunc) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recipe API server",
		Long: `Run the recipe API server.

Configuration comes from RECIPEBOX_* environment variables (and PORT),
overridden by the flags below. RECIPEBOX_JWT_SECRET may be a ${VAR}
reference or a secretref:env:NAME / secretref:file:PATH reference. File
references are confined to RECIPEBOX_SECRETS_DIR when it is set.

Signals:
  SIGINT, SIGTERM   graceful shutdown
  SIGHUP            flush the response cache`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, generated, err := loadConfig(cmd, f, os.LookupEnv)
			if err != nil {
				return err
			}
			return run(cmd, cfg, generated)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.addr, "addr", "", "listen address (default \":3001\", or :$PORT)")
	fs.StringVar(&f.db, "db", "", "SQLite database path (default \"recipebox.db\")")
	fs.StringVar(&f.env, "env", "", "environment: development or production")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&f.metricsExporter, "metrics-exporter", "", "metrics exporter: prometheus, otlp, stdout or none")
	fs.StringVar(&f.tracingExporter, "tracing-exporter", "", "tracing exporter: otlp, stdout or none")
	fs.BoolVar(&f.normalizeQuery, "normalize-query", false, "sort query parameters before fingerprinting requests")
	fs.IntVar(&f.maxEntries, "max-entries", 0, "cap the cache at this many entries, evicting least recently used (0 = unbounded)")
	fs.BoolVar(&f.noCache, "no-cache", false, "serve every read from the store")
	fs.BoolVar(&f.trustProxy, "trust-proxy", false, "take the client address from X-Forwarded-For")

	return cmd
}

// runServer serves until SIGINT or SIGTERM.
func runServer(cmd *cobra.Command, cfg config.Config, generated bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if generated {
		a.logger.Warn(ctx, "no jwt secret configured; using a random key, tokens will not survive a restart")
	}
	return a.run(ctx)
}

// loadConfig builds the configuration: defaults, then the environment
// found by lookup, then the flags set on cmd. It resolves secret references
// and reports whether a throwaway JWT secret was generated.
func loadConfig(cmd *cobra.Command, f flags, lookup func(string) (string, bool)) (config.Config, bool, error) {
	cfg := config.Default()
	cfg.Telemetry.Version = version.Version
	if err := cfg.ApplyEnv(lookup); err != nil {
		return config.Config{}, false, err
	}

	fs := cmd.Flags()
	if fs.Changed("addr") {
		cfg.Addr = f.addr
	}
	if fs.Changed("db") {
		cfg.DBPath = f.db
	}
	if fs.Changed("env") {
		cfg.Environment = f.env
	}
	if fs.Changed("log-level") {
		cfg.Telemetry.LogLevel = f.logLevel
	}
	if fs.Changed("metrics-exporter") {
		cfg.Telemetry.MetricsExporter = f.metricsExporter
	}
	if fs.Changed("tracing-exporter") {
		cfg.Telemetry.TracingExporter = f.tracingExporter
	}
	if fs.Changed("normalize-query") {
		cfg.Cache.NormalizeQuery = f.normalizeQuery
	}
	if fs.Changed("max-entries") {
		cfg.Cache.MaxEntries = f.maxEntries
	}
	if fs.Changed("no-cache") {
		cfg.Cache.Enabled = !f.noCache
	}
	if fs.Changed("trust-proxy") {
		cfg.TrustProxy = f.trustProxy
	}

	var providerCfgs map[string]map[string]any
	if dir, ok := lookup("RECIPEBOX_SECRETS_DIR"); ok && dir != "" {
		providerCfgs = map[string]map[string]any{"file": {"root": dir}}
	}
	resolver, err := secret.DefaultRegistry.Resolver(true, providerCfgs)
	if err != nil {
		return config.Config{}, false, err
	}
	defer resolver.Close()
	if err := cfg.ResolveSecrets(context.Background(), resolver); err != nil {
		return config.Config{}, false, err
	}
	generated, err := cfg.EnsureJWTSecret()
	if err != nil {
		return config.Config{}, false, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, false, fmt.Errorf("serve: %w", err)
	}
	return cfg, generated, nil
}
