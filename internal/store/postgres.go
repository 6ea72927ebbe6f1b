// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store provides database connection and schema management.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tunes the startup connection attempts.
type ConnectOptions struct {
	// MaxRetries bounds the number of ping retries. Defaults to 5.
	MaxRetries uint64
	// BaseDelay is the first backoff delay. Defaults to 500ms.
	BaseDelay time.Duration
	// MaxDelay caps each backoff delay. Defaults to 5s.
	MaxDelay time.Duration
}

func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.MaxRetries == 0 {
		o.MaxRetries = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Second
	}
	return o
}

// pinger abstracts pool health checks for testing.
type pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pgx pool and waits for the database to answer a ping,
// retrying with exponential backoff. The pool is closed on failure.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("database URL is required")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "parse database URL").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitForPing(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// waitForPing pings p until it succeeds or retries are exhausted.
func waitForPing(ctx context.Context, p pinger, opts ConnectOptions) error {
	opts = opts.withDefaults()

	b := retry.NewExponential(opts.BaseDelay)
	b = retry.WithCappedDuration(opts.MaxDelay, b)
	b = retry.WithMaxRetries(opts.MaxRetries, b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := p.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}
