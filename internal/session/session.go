// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package session issues, resolves and destroys login session tokens.
//
// Registry is the contract shared by every backend. MemoryRegistry keeps
// sessions in process memory; DurableRegistry persists them through a
// RecordStore. ExpiringRegistry wraps either one to enforce a maximum
// session age without changing how sessions are destroyed.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/samber/oops"
)

// TokenBytes is the number of random bytes in a session token (64 hex chars).
const TokenBytes = 32

var (
	// ErrNotFound is returned when a session does not exist or has expired.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidUser is returned when creating a session for an empty user id.
	ErrInvalidUser = errors.New("invalid user id")
)

// Registry maps session tokens to user ids.
type Registry interface {
	// Create issues a new unguessable token bound to userID.
	Create(ctx context.Context, userID string) (string, error)

	// Resolve returns the user id bound to token, or an error wrapping
	// ErrNotFound if the session is unknown or expired.
	Resolve(ctx context.Context, token string) (string, error)

	// Destroy removes the session and reports whether it existed.
	Destroy(ctx context.Context, token string) (bool, error)
}

// Stamped is a Registry that exposes creation timestamps. Decorators use it
// to implement time-based policies.
type Stamped interface {
	Registry

	// CreateAt issues a token whose record carries the given creation time.
	CreateAt(ctx context.Context, userID string, at time.Time) (string, error)

	// Lookup returns the stored record for token.
	Lookup(ctx context.Context, token string) (Record, error)
}

// Record is the persisted form of a session.
type Record struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Clock returns the current time.
type Clock func() time.Time

// SystemClock returns time.Now in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// NewToken generates a random hex-encoded session token.
func NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenBytes).
			Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

func invalidUser() error {
	return oops.Code("SESSION_INVALID_USER").Wrapf(ErrInvalidUser, "user id cannot be empty")
}

func notFound(op string) error {
	return oops.Code("SESSION_NOT_FOUND").With("operation", op).Wrap(ErrNotFound)
}

// Purger is implemented by backends that can drop sessions created before a
// cutoff in one pass.
type Purger interface {
	PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
