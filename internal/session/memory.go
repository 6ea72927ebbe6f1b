// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is a volatile Registry. Sessions are lost on restart.
// It is safe for concurrent use.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Record
	now      Clock
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return NewMemoryRegistryWithClock(SystemClock)
}

// NewMemoryRegistryWithClock creates an empty MemoryRegistry stamping
// sessions with the given clock.
func NewMemoryRegistryWithClock(now Clock) *MemoryRegistry {
	if now == nil {
		now = SystemClock
	}
	return &MemoryRegistry{
		sessions: make(map[string]Record),
		now:      now,
	}
}

// Create issues a new token bound to userID.
func (r *MemoryRegistry) Create(ctx context.Context, userID string) (string, error) {
	return r.CreateAt(ctx, userID, r.now())
}

// CreateAt issues a new token with an explicit creation time.
func (r *MemoryRegistry) CreateAt(_ context.Context, userID string, at time.Time) (string, error) {
	if userID == "" {
		return "", invalidUser()
	}
	token, err := NewToken()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[token] = Record{SessionID: token, UserID: userID, CreatedAt: at}
	return token, nil
}

// Lookup returns the record for token.
func (r *MemoryRegistry) Lookup(_ context.Context, token string) (Record, error) {
	if token == "" {
		return Record{}, notFound("lookup")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[token]
	if !ok {
		return Record{}, notFound("lookup")
	}
	return rec, nil
}

// Resolve returns the user id bound to token.
func (r *MemoryRegistry) Resolve(ctx context.Context, token string) (string, error) {
	rec, err := r.Lookup(ctx, token)
	if err != nil {
		return "", err
	}
	return rec.UserID, nil
}

// Destroy removes the session and reports whether it existed.
func (r *MemoryRegistry) Destroy(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[token]; !ok {
		return false, nil
	}
	delete(r.sessions, token)
	return true, nil
}

// PurgeCreatedBefore drops sessions created before cutoff.
func (r *MemoryRegistry) PurgeCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, rec := range r.sessions {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.sessions, token)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live sessions.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

var (
	_ Stamped = (*MemoryRegistry)(nil)
	_ Purger  = (*MemoryRegistry)(nil)
)
