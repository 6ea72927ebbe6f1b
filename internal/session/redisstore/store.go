// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redisstore provides a Redis-backed session.RecordStore.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/sessionauth/internal/session"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "sessionauth:"

// maxReplaceAttempts bounds Replace retries when the index changes under it.
const maxReplaceAttempts = 5

// Store keeps each record as a JSON value under <prefix>session:<id> and
// indexes ids in the sorted set <prefix>sessions scored by creation time.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration

	beforeReplaceExec func() // test hook, runs between index read and EXEC
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL makes Redis expire record keys after d. Index entries for expired
// keys are skipped on load and removed by PurgeCreatedBefore.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// New creates a Store on rdb.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial parses url, connects and waits for a PONG with backoff.
func Dial(ctx context.Context, url string, maxRetries uint64) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("operation", "parse redis URL").Wrap(err)
	}
	client := redis.NewClient(opt)

	b := retry.WithMaxRetries(maxRetries, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return client, nil
}

func (s *Store) recordKey(id string) string { return s.prefix + "session:" + id }
func (s *Store) indexKey() string          { return s.prefix + "sessions" }

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Append stores rec and indexes it.
func (s *Store) Append(ctx context.Context, rec session.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("operation", "marshal record").Wrap(err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(rec.SessionID), payload, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: score(rec.CreatedAt), Member: rec.SessionID})
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "store record").
			With("user_id", rec.UserID).
			Wrap(err)
	}
	return nil
}

// Load returns every indexed record that still exists, oldest first.
func (s *Store) Load(ctx context.Context) ([]session.Record, error) {
	ids, err := s.rdb.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, oops.Code("SESSION_LOAD_FAILED").With("operation", "read index").Wrap(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, oops.Code("SESSION_LOAD_FAILED").With("operation", "read records").Wrap(err)
	}

	recs := make([]session.Record, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired or deleted behind the index
			continue
		}
		var rec session.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, oops.Code("SESSION_LOAD_FAILED").
				With("operation", "decode record").
				With("key", keys[i]).
				Wrap(err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Replace rewrites the whole set in one MULTI/EXEC block. The index is
// WATCHed from the read until EXEC, so a concurrent writer in another
// process forces a retry instead of leaving records outside the index.
func (s *Store) Replace(ctx context.Context, recs []session.Record) error {
	payloads := make([][]byte, len(recs))
	for i, rec := range recs {
		var err error
		if payloads[i], err = json.Marshal(rec); err != nil {
			return oops.Code("SESSION_REPLACE_FAILED").With("operation", "marshal record").Wrap(err)
		}
	}

	rewrite := func(tx *redis.Tx) error {
		old, err := tx.ZRange(ctx, s.indexKey(), 0, -1).Result()
		if err != nil {
			return oops.Code("SESSION_REPLACE_FAILED").With("operation", "read index").Wrap(err)
		}
		if s.beforeReplaceExec != nil {
			s.beforeReplaceExec()
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range old {
				pipe.Del(ctx, s.recordKey(id))
			}
			pipe.Del(ctx, s.indexKey())
			for i, rec := range recs {
				pipe.Set(ctx, s.recordKey(rec.SessionID), payloads[i], s.ttl)
				pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: score(rec.CreatedAt), Member: rec.SessionID})
			}
			return nil
		})
		return err
	}

	var err error
	for range maxReplaceAttempts {
		err = s.rdb.Watch(ctx, rewrite, s.indexKey())
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return oops.Code("SESSION_REPLACE_FAILED").
			With("operation", "rewrite").
			With("count", len(recs)).
			Wrap(err)
	}
	return nil
}

// Find returns the record for sessionID.
func (s *Store) Find(ctx context.Context, sessionID string) (session.Record, error) {
	data, err := s.rdb.Get(ctx, s.recordKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Record{}, oops.Code("SESSION_NOT_FOUND").Wrap(session.ErrNotFound)
	}
	if err != nil {
		return session.Record{}, oops.Code("SESSION_FIND_FAILED").With("operation", "get record").Wrap(err)
	}

	var rec session.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return session.Record{}, oops.Code("SESSION_FIND_FAILED").With("operation", "decode record").Wrap(err)
	}
	return rec, nil
}

// PurgeCreatedBefore removes records created before cutoff.
func (s *Store) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	upper := "(" + strconv.FormatFloat(score(cutoff), 'f', 0, 64)
	ids, err := s.rdb.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").With("operation", "read index").Wrap(err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.recordKey(id))
		}
		pipe.ZRemRangeByScore(ctx, s.indexKey(), "-inf", upper)
		return nil
	})
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").With("operation", "delete").Wrap(err)
	}
	return int64(len(ids)), nil
}

var (
	_ session.RecordStore  = (*Store)(nil)
	_ session.RecordFinder = (*Store)(nil)
	_ session.Purger       = (*Store)(nil)
)
