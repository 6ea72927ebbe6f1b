// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/oops"
)

// RecordStore persists session records.
type RecordStore interface {
	// Append stores one new record.
	Append(ctx context.Context, rec Record) error

	// Load returns every stored record.
	Load(ctx context.Context) ([]Record, error)

	// Replace atomically rewrites the full record set.
	Replace(ctx context.Context, recs []Record) error
}

// RecordFinder is implemented by stores that can look a record up by
// session id without a full scan. Find returns ErrNotFound when absent.
type RecordFinder interface {
	Find(ctx context.Context, sessionID string) (Record, error)
}

// DurableRegistry is a Registry backed by a RecordStore, so sessions survive
// restarts. Lookups scan the stored set unless the store implements
// RecordFinder. Destroy is a scan, filter and rewrite of the full set and
// runs as a critical section; this bounds it to small session counts.
type DurableRegistry struct {
	mu    sync.Mutex
	store RecordStore
	now   Clock
}

// NewDurableRegistry creates a DurableRegistry over store.
func NewDurableRegistry(store RecordStore) *DurableRegistry {
	return NewDurableRegistryWithClock(store, SystemClock)
}

// NewDurableRegistryWithClock creates a DurableRegistry stamping records
// with the given clock.
func NewDurableRegistryWithClock(store RecordStore, now Clock) *DurableRegistry {
	if now == nil {
		now = SystemClock
	}
	return &DurableRegistry{store: store, now: now}
}

// Create issues a new token bound to userID and persists it.
func (r *DurableRegistry) Create(ctx context.Context, userID string) (string, error) {
	return r.CreateAt(ctx, userID, r.now())
}

// CreateAt issues a new token with an explicit creation time.
func (r *DurableRegistry) CreateAt(ctx context.Context, userID string, at time.Time) (string, error) {
	if userID == "" {
		return "", invalidUser()
	}
	token, err := NewToken()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Append(ctx, Record{SessionID: token, UserID: userID, CreatedAt: at}); err != nil {
		return "", oops.Code("SESSION_STORE_FAILED").
			With("operation", "append").
			Wrap(err)
	}
	return token, nil
}

// Lookup returns the stored record for token.
func (r *DurableRegistry) Lookup(ctx context.Context, token string) (Record, error) {
	if token == "" {
		return Record{}, notFound("lookup")
	}

	if finder, ok := r.store.(RecordFinder); ok {
		rec, err := finder.Find(ctx, token)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Record{}, notFound("lookup")
			}
			return Record{}, oops.Code("SESSION_STORE_FAILED").
				With("operation", "find").
				Wrap(err)
		}
		return rec, nil
	}

	recs, err := r.store.Load(ctx)
	if err != nil {
		return Record{}, oops.Code("SESSION_STORE_FAILED").
			With("operation", "load").
			Wrap(err)
	}
	for _, rec := range recs {
		if rec.SessionID == token {
			return rec, nil
		}
	}
	return Record{}, notFound("lookup")
}

// Resolve returns the user id bound to token.
func (r *DurableRegistry) Resolve(ctx context.Context, token string) (string, error) {
	rec, err := r.Lookup(ctx, token)
	if err != nil {
		return "", err
	}
	return rec.UserID, nil
}

// Destroy removes every record for token and reports whether any existed.
func (r *DurableRegistry) Destroy(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	recs, err := r.store.Load(ctx)
	if err != nil {
		return false, oops.Code("SESSION_STORE_FAILED").
			With("operation", "load").
			Wrap(err)
	}

	kept := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if rec.SessionID != token {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(recs) {
		return false, nil
	}

	if err := r.store.Replace(ctx, kept); err != nil {
		return false, oops.Code("SESSION_STORE_FAILED").
			With("operation", "replace").
			Wrap(err)
	}
	return true, nil
}

// PurgeCreatedBefore drops records created before cutoff. Stores that
// implement Purger do it natively; others are rewritten.
func (r *DurableRegistry) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.store.(Purger); ok {
		return p.PurgeCreatedBefore(ctx, cutoff)
	}

	recs, err := r.store.Load(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_STORE_FAILED").With("operation", "load").Wrap(err)
	}
	kept := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if !rec.CreatedAt.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	removed := int64(len(recs) - len(kept))
	if removed == 0 {
		return 0, nil
	}
	if err := r.store.Replace(ctx, kept); err != nil {
		return 0, oops.Code("SESSION_STORE_FAILED").With("operation", "replace").Wrap(err)
	}
	return removed, nil
}

var (
	_ Stamped = (*DurableRegistry)(nil)
	_ Purger  = (*DurableRegistry)(nil)
)
