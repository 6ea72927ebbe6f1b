// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"time"
)

// ExpiringRegistry enforces a maximum session age over a Stamped registry.
// A session created at t is expired once t+duration is strictly before now.
// A duration of zero or less disables expiry. Destroy is passed through.
type ExpiringRegistry struct {
	base     Stamped
	duration time.Duration
	now      Clock
}

// NewExpiringRegistry wraps base with the given maximum session age.
func NewExpiringRegistry(base Stamped, duration time.Duration) *ExpiringRegistry {
	return NewExpiringRegistryWithClock(base, duration, SystemClock)
}

// NewExpiringRegistryWithClock wraps base using the given clock for both
// stamping and expiry checks.
func NewExpiringRegistryWithClock(base Stamped, duration time.Duration, now Clock) *ExpiringRegistry {
	if now == nil {
		now = SystemClock
	}
	return &ExpiringRegistry{base: base, duration: duration, now: now}
}

// Duration returns the configured maximum session age.
func (r *ExpiringRegistry) Duration() time.Duration {
	return r.duration
}

// Create stamps the session with the current time.
func (r *ExpiringRegistry) Create(ctx context.Context, userID string) (string, error) {
	return r.base.CreateAt(ctx, userID, r.now())
}

// CreateAt forwards an explicit creation time.
func (r *ExpiringRegistry) CreateAt(ctx context.Context, userID string, at time.Time) (string, error) {
	return r.base.CreateAt(ctx, userID, at)
}

// Lookup returns the record unless it has expired.
func (r *ExpiringRegistry) Lookup(ctx context.Context, token string) (Record, error) {
	rec, err := r.base.Lookup(ctx, token)
	if err != nil {
		return Record{}, err
	}
	if r.expired(rec) {
		return Record{}, notFound("expired")
	}
	return rec, nil
}

// Resolve returns the user id unless the session has expired.
func (r *ExpiringRegistry) Resolve(ctx context.Context, token string) (string, error) {
	rec, err := r.Lookup(ctx, token)
	if err != nil {
		return "", err
	}
	return rec.UserID, nil
}

// Destroy removes the session regardless of its age.
func (r *ExpiringRegistry) Destroy(ctx context.Context, token string) (bool, error) {
	return r.base.Destroy(ctx, token)
}

func (r *ExpiringRegistry) expired(rec Record) bool {
	if r.duration <= 0 {
		return false
	}
	if rec.CreatedAt.IsZero() {
		return true
	}
	return rec.CreatedAt.Add(r.duration).Before(r.now())
}

var _ Stamped = (*ExpiringRegistry)(nil)
