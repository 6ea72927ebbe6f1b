// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/auth/memory"
	authpg "github.com/holomush/sessionauth/internal/auth/postgres"
	"github.com/holomush/sessionauth/internal/config"
	"github.com/holomush/sessionauth/internal/gate"
	"github.com/holomush/sessionauth/internal/observability"
	"github.com/holomush/sessionauth/internal/session"
	"github.com/holomush/sessionauth/internal/session/redisstore"
)

// backends holds the connections a configuration needs. Fields are nil when
// unused.
type backends struct {
	pool  *pgxpool.Pool
	redis redis.UniversalClient
}

// buildIdentityStore selects the identity store named by cfg.
func buildIdentityStore(cfg config.Config, b backends) (auth.IdentityStore, error) {
	switch cfg.IdentityStore {
	case config.IdentityStoreMemory:
		return memory.NewUserStore(), nil
	case config.IdentityStorePostgres:
		if b.pool == nil {
			return nil, oops.Code("CONFIG_INVALID").Errorf("postgres identity store needs a database connection")
		}
		return authpg.NewUserRepository(b.pool), nil
	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("identity_store", cfg.IdentityStore).
			Errorf("unknown identity store %q", cfg.IdentityStore)
	}
}

// buildRecordStore selects the durable session record store.
func buildRecordStore(cfg config.Config, b backends) (session.RecordStore, error) {
	switch cfg.SessionStore {
	case config.SessionStoreFile:
		return session.NewFileRecordStore(cfg.SessionFile), nil
	case config.SessionStorePostgres:
		if b.pool == nil {
			return nil, oops.Code("CONFIG_INVALID").Errorf("postgres session store needs a database connection")
		}
		return authpg.NewSessionRecordStore(b.pool), nil
	case config.SessionStoreRedis:
		if b.redis == nil {
			return nil, oops.Code("CONFIG_INVALID").Errorf("redis session store needs a redis connection")
		}
		return redisstore.New(b.redis, redisstore.WithTTL(cfg.SessionMaxAge())), nil
	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("session_store", cfg.SessionStore).
			Errorf("unknown session store %q", cfg.SessionStore)
	}
}

// registry is the composed session registry plus the purger a sweeper
// should run against (nil when sessions never expire).
type registry struct {
	session.Registry
	purger session.Purger
	maxAge time.Duration

	volatile    *session.MemoryRegistry // set when sessions live in process memory
	sessionFile string                  // set when the file record store backs sessions
}

// buildRegistry composes the registry for strategy:
//
//	none, basic_auth  volatile (unused by the gate)
//	session_auth      volatile, no expiry
//	session_exp_auth  volatile + expiry
//	session_db_auth   durable + expiry
func buildRegistry(cfg config.Config, strategy gate.Strategy, b backends, metrics *observability.Metrics) (registry, error) {
	var (
		out  registry
		base session.Stamped
	)

	if strategy.Durable() {
		rs, err := buildRecordStore(cfg, b)
		if err != nil {
			return registry{}, err
		}
		if fs, ok := rs.(*session.FileRecordStore); ok {
			out.sessionFile = fs.Path()
		}
		durable := session.NewDurableRegistry(rs)
		base, out.purger = durable, durable
	} else {
		out.volatile = session.NewMemoryRegistry()
		base, out.purger = out.volatile, out.volatile
	}

	out.Registry = base
	if strategy.Expires() {
		expiring := session.NewExpiringRegistry(base, cfg.SessionMaxAge())
		out.Registry, out.maxAge = expiring, expiring.Duration()
	}
	if out.maxAge <= 0 {
		out.purger = nil
	}

	if metrics != nil {
		out.Registry = session.NewInstrumentedRegistry(out.Registry, metrics)
	}
	return out, nil
}
