// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/config"
	"github.com/holomush/sessionauth/internal/gate"
	"github.com/holomush/sessionauth/internal/httpapi"
	"github.com/holomush/sessionauth/internal/logging"
	"github.com/holomush/sessionauth/internal/observability"
	"github.com/holomush/sessionauth/internal/session"
	"github.com/holomush/sessionauth/pkg/errutil"
)

// shutdownTimeout bounds graceful shutdown of every server.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP auth service",
		Long: `Start the HTTP service: registration, login, logout, password reset
and the routes behind the access gate.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, autoMigrate, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", true, "apply pending migrations on startup when PostgreSQL is used")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, autoMigrate bool, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	strategy, err := cfg.Strategy()
	if err != nil {
		return err
	}

	logger := logging.SetDefault("sessionauth", version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel), cmd.ErrOrStderr())

	var ready atomic.Bool

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, ready.Load, logger)
		metrics = obsServer.Metrics()
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
		defer stopObservability(obsServer, logger)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	b, closeBackends, err := openBackends(ctx, cfg, strategy, autoMigrate, deps, logger)
	if err != nil {
		return err
	}
	defer closeBackends()
	if obsServer != nil {
		addBackendChecks(obsServer, b)
	}

	users, err := buildIdentityStore(cfg, b)
	if err != nil {
		return err
	}
	reg, err := buildRegistry(cfg, strategy, b, metrics)
	if err != nil {
		return err
	}
	if reg.purger != nil {
		opts := []session.SweeperOption{}
		if metrics != nil {
			opts = append(opts, session.WithPurgeRecorder(metrics))
		}
		sweeper := session.NewSweeper(reg.purger, reg.maxAge, cfg.SweepInterval, logger, opts...)
		defer sweeper.Close()
	}

	svcOpts := []auth.Option{auth.WithResetTokenTTL(cfg.ResetTokenTTL)}
	if metrics != nil {
		svcOpts = append(svcOpts, auth.WithRecorder(metrics))
	}
	hasher := auth.NewUpgradingHasher(auth.NewArgon2idHasher(), auth.NewBcryptHasher(bcrypt.DefaultCost))
	svc, err := auth.NewServiceWithLogger(users, reg, hasher, logger, svcOpts...)
	if err != nil {
		return err
	}

	var decisions gate.DecisionRecorder
	if metrics != nil {
		decisions = metrics
	}
	g, err := gate.New(gate.Config{
		Strategy:       strategy,
		ExemptPatterns: cfg.ExemptPaths,
		CookieName:     cfg.SessionName,
	}, svc, logger, decisions)
	if err != nil {
		return err
	}

	limiterCfg := httpapi.LimiterConfig{Burst: cfg.LoginBurst, Rate: cfg.LoginRate}
	var limiter *httpapi.LoginLimiter
	if metrics != nil {
		limiter = httpapi.NewLoginLimiterWithRegistry(limiterCfg, obsServer.Registry())
	} else {
		limiter = httpapi.NewLoginLimiter(limiterCfg)
	}
	defer limiter.Close()

	handler, err := httpapi.NewHandler(httpapi.Config{
		CookieName:   cfg.SessionName,
		CookieMaxAge: reg.maxAge,
		SecureCookie: cfg.SecureCookie,
	}, svc, g, limiter, logger)
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTPAddr)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("addr", cfg.HTTPAddr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	ready.Store(true)
	cmd.Println("sessionauth started")
	logger.Info("sessionauth ready",
		"addr", listener.Addr().String(),
		"strategy", strategy.String(),
		"identity_store", cfg.IdentityStore,
		"session_max_age", reg.maxAge.String(),
		"exempt_paths", g.ExemptPatterns(),
	)
	if reg.sessionFile != "" {
		logger.Info("sessions persisted to file", "path", reg.sessionFile)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case serveErr = <-errChan:
		errutil.LogError(logger, "http server error", serveErr)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}

	if reg.volatile != nil {
		logger.Info("discarding in-memory sessions", "count", reg.volatile.Len())
	}
	logger.Info("shutdown complete")
	if serveErr != nil {
		return oops.Code("SERVE_FAILED").With("operation", "serve http").Wrap(serveErr)
	}
	return nil
}

// openBackends connects to PostgreSQL and Redis when cfg needs them. The
// returned func closes whatever was opened.
func openBackends(
	ctx context.Context,
	cfg config.Config,
	strategy gate.Strategy,
	autoMigrate bool,
	deps *ServeDeps,
	logger *slog.Logger,
) (backends, func(), error) {
	var b backends
	closeAll := func() {
		if b.redis != nil {
			if err := b.redis.Close(); err != nil {
				logger.Warn("error closing redis client", "error", err)
			}
		}
		if b.pool != nil {
			b.pool.Close()
		}
	}

	if cfg.NeedsDatabase() {
		if autoMigrate {
			if err := migrateUp(cfg.DatabaseURL, deps, logger); err != nil {
				return backends{}, nil, err
			}
		}
		pool, err := deps.PoolConnector(ctx, cfg.DatabaseURL)
		if err != nil {
			return backends{}, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
		}
		b.pool = pool
	}

	if strategy.Durable() && cfg.SessionStore == config.SessionStoreRedis {
		rdb, err := deps.RedisDialer(ctx, cfg.RedisURL)
		if err != nil {
			closeAll()
			return backends{}, nil, oops.Code("REDIS_CONNECT_FAILED").With("operation", "connect to redis").Wrap(err)
		}
		b.redis = rdb
	}

	return b, closeAll, nil
}

// addBackendChecks makes readiness depend on the connections in b.
func addBackendChecks(srv ObservabilityServer, b backends) {
	if b.pool != nil {
		srv.AddCheck("postgres", b.pool.Ping)
	}
	if b.redis != nil {
		rdb := b.redis
		srv.AddCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
}

func migrateUp(url string, deps *ServeDeps, logger *slog.Logger) error {
	m, err := deps.MigratorFactory(url)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	pending, err := m.PendingMigrations()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "list pending").Wrap(err)
	}
	if len(pending) == 0 {
		return nil
	}
	logger.Info("applying migrations", "count", len(pending))
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	return nil
}

func stopObservability(srv ObservabilityServer, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when an error arrives, the channel closes, or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
