// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/holomush/sessionauth/internal/observability"
	"github.com/holomush/sessionauth/internal/session/redisstore"
	"github.com/holomush/sessionauth/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolConnector opens a PostgreSQL pool.
	// Default: store.Connect
	PoolConnector func(ctx context.Context, url string) (*pgxpool.Pool, error)

	// MigratorFactory creates a migration runner.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (MigrationRunner, error)

	// RedisDialer connects to Redis.
	// Default: redisstore.Dial
	RedisDialer func(ctx context.Context, url string) (redis.UniversalClient, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// MigrationRunner wraps the methods used from store.Migrator.
type MigrationRunner interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (version uint, dirty bool, err error)
	PendingMigrations() ([]uint, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	AddCheck(name string, check observability.Check)
	Metrics() *observability.Metrics
	Registry() prometheus.Registerer
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolConnector == nil {
		out.PoolConnector = func(ctx context.Context, url string) (*pgxpool.Pool, error) {
			return store.Connect(ctx, url, store.ConnectOptions{})
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = newMigrationRunner
	}
	if out.RedisDialer == nil {
		out.RedisDialer = func(ctx context.Context, url string) (redis.UniversalClient, error) {
			return redisstore.Dial(ctx, url, 5)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return &out
}

func newMigrationRunner(url string) (MigrationRunner, error) {
	return store.NewMigrator(url)
}
