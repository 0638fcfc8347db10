// Command starbox serves the restricted snippet sandbox as the MCP tool
// "execute", over stdio (default) or streamable HTTP.
//
// Configuration is read from a YAML file (--config, STARBOX_CONFIG,
// ./starbox.yaml or /etc/starbox/starbox.yaml) with STARBOX_* environment
// overrides. See pkg/config for the full list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"syscall"

	"github.com/rhuss/starbox/pkg/audit"
	"github.com/rhuss/starbox/pkg/audit/memory"
	"github.com/rhuss/starbox/pkg/audit/postgres"
	"github.com/rhuss/starbox/pkg/auth"
	"github.com/rhuss/starbox/pkg/auth/apikey"
	"github.com/rhuss/starbox/pkg/auth/jwt"
	"github.com/rhuss/starbox/pkg/capability"
	"github.com/rhuss/starbox/pkg/config"
	sbdebug "github.com/rhuss/starbox/pkg/debug"
	"github.com/rhuss/starbox/pkg/harness"
	"github.com/rhuss/starbox/pkg/sandbox"
	transporthttp "github.com/rhuss/starbox/pkg/transport/http"
	"github.com/rhuss/starbox/pkg/transport/mcpserver"
)

var version = "dev"

// errIsolationLost is the exit cause after a capture teardown failure.
var errIsolationLost = errors.New("output capture isolation lost")

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if unknown := sbdebug.Init(cfg.Logging.Debug, cfg.Logging.Level); len(unknown) > 0 {
		slog.Warn("ignoring unknown debug categories", "categories", unknown, "known", sbdebug.Known)
	}
	if cfg.Sandbox.MemoryLimitBytes > 0 {
		debug.SetMemoryLimit(cfg.Sandbox.MemoryLimitBytes)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	set, err := capability.Build(capability.Options{})
	if err != nil {
		return fmt.Errorf("building capability set: %w", err)
	}
	runner := harness.New(set, harness.Config{
		Timeout:        cfg.Sandbox.Timeout,
		MaxSteps:       cfg.Sandbox.MaxSteps,
		MaxCallDepth:   cfg.Sandbox.MaxCallDepth,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
	})

	store, err := createStore(ctx, cfg.Audit)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	svc, err := sandbox.New(sandbox.Options{
		Runner:        runner,
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
		Store:         store,
		OnFatal: func(err error) {
			cancel(fmt.Errorf("%w: %v", errIsolationLost, err))
		},
	})
	if err != nil {
		return fmt.Errorf("creating sandbox: %w", err)
	}

	opts := mcpserver.Options{Name: "starbox", Version: version}
	slog.Info("starbox starting",
		"version", version,
		"transport", cfg.Server.Transport,
		"capabilities", set.Len(),
		"timeout", cfg.Sandbox.Timeout,
		"max_concurrent", cfg.Sandbox.MaxConcurrent,
		"audit", cfg.Audit.Type,
	)

	switch cfg.Server.Transport {
	case "http":
		err = serveHTTP(ctx, cfg, svc, opts)
	default:
		err = mcpserver.ServeStdio(ctx, svc, opts)
	}

	if cause := context.Cause(ctx); errors.Is(cause, errIsolationLost) {
		return cause
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("starbox stopped")
	return nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, svc *sandbox.Service, opts mcpserver.Options) error {
	guard, err := createAuth(cfg.Auth)
	if err != nil {
		return err
	}

	httpOpts := mcpserver.HTTPOptions{
		Options: opts,
		Path:    cfg.Server.Path,
		Auth:    guard,
	}
	if cfg.Observability.Metrics.Enabled {
		httpOpts.MetricsPath = cfg.Observability.Metrics.Path
	}

	srv := transporthttp.NewServer(mcpserver.Handler(svc, httpOpts),
		transporthttp.WithAddr(":"+strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
	)
	slog.Info("http transport listening", "port", cfg.Server.Port, "path", cfg.Server.Path, "auth", cfg.Auth.Type)
	return srv.ListenAndServe(ctx)
}

// createStore returns the configured audit store, or nil when auditing is
// disabled.
func createStore(ctx context.Context, cfg config.AuditConfig) (audit.Store, error) {
	switch cfg.Type {
	case "memory":
		slog.Info("audit enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("creating postgres audit store: %w", err)
		}
		slog.Info("audit enabled", "type", "postgres")
		return store, nil
	default:
		slog.Info("audit disabled")
		return nil, nil
	}
}

// createAuth builds the authentication middleware for the HTTP transport.
func createAuth(cfg config.AuthConfig) (func(next http.Handler) http.Handler, error) {
	chain := &auth.Chain{Default: auth.No}
	switch cfg.Type {
	case "apikey":
		keys := make([]apikey.Key, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			keys = append(keys, apikey.Key{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					Tenant:      k.TenantID,
					ServiceTier: k.ServiceTier,
					Scopes:      k.Scopes,
				},
			})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(keys)}
	case "jwt":
		chain.Authenticators = []auth.Authenticator{jwt.New(jwt.Config{
			Issuer:       cfg.JWT.Issuer,
			Audience:     cfg.JWT.Audience,
			JWKSURL:      cfg.JWT.JWKSURL,
			SubjectClaim: cfg.JWT.SubjectClaim,
			TenantClaim:  cfg.JWT.TenantClaim,
			ScopesClaim:  cfg.JWT.ScopesClaim,
			TierClaim:    cfg.JWT.TierClaim,
			CacheTTL:     cfg.JWT.CacheTTL,
		})}
	case "none", "":
		chain.Default = auth.Yes
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	mwOpts := auth.MiddlewareOptions{
		RequiredScope: cfg.RequiredScope,
		Bypass:        auth.DefaultBypassEndpoints,
	}
	if cfg.RateLimit.Enabled {
		tiers := make(map[string]auth.TierConfig, len(cfg.RateLimit.Tiers))
		for name, rpm := range cfg.RateLimit.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		mwOpts.Limiter = auth.NewTierLimiter(tiers, cfg.RateLimit.DefaultRPM)
	}
	return auth.Middleware(chain, mwOpts), nil
}
