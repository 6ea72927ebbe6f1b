// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-process IdentityStore.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

// UserStore implements auth.IdentityStore in memory. Users are kept in
// insertion order so FindBy returns the earliest match. It is safe for
// concurrent use; every operation holds the store lock for its full duration.
type UserStore struct {
	mu    sync.RWMutex
	users []*auth.User
	byID  map[ulid.ULID]*auth.User
}

// NewUserStore creates an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{byID: make(map[ulid.ULID]*auth.User)}
}

// Add inserts a new user.
func (s *UserStore) Add(_ context.Context, email, hashedPassword string) (*auth.User, error) {
	user, err := auth.NewUser(email, hashedPassword)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTaken(user.Email, ulid.ULID{}) {
		return nil, oops.Code("USER_ALREADY_EXISTS").
			With("email", user.Email).
			Wrapf(auth.ErrAlreadyExists, "user %s already exists", user.Email)
	}

	s.users = append(s.users, user)
	s.byID[user.ID] = user
	return user.Clone(), nil
}

// FindBy returns the first user matching query.
func (s *UserStore) FindBy(_ context.Context, query auth.Fields) (*auth.User, error) {
	q, err := auth.ValidateQuery(query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Matches(q) {
			return u.Clone(), nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").With("query", fieldNames(q)).Wrap(auth.ErrNotFound)
}

// Update applies changes to the user with id, all or nothing.
func (s *UserStore) Update(_ context.Context, id ulid.ULID, changes auth.Fields) error {
	c, err := auth.ValidateChanges(changes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if email, ok := c[auth.FieldEmail].(string); ok && s.emailTaken(email, id) {
		return oops.Code("USER_ALREADY_EXISTS").
			With("email", email).
			Wrapf(auth.ErrAlreadyExists, "user %s already exists", email)
	}

	user.Apply(c)
	return nil
}

// Count returns the number of stored users.
func (s *UserStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// emailTaken reports whether another user than except has email.
// Callers must hold the lock.
func (s *UserStore) emailTaken(email string, except ulid.ULID) bool {
	for _, u := range s.users {
		if u.Email == email && u.ID != except {
			return true
		}
	}
	return false
}

func fieldNames(q auth.Fields) []string {
	names := make([]string, 0, len(q))
	for k := range q {
		names = append(names, k)
	}
	return names
}

var (
	_ auth.IdentityStore = (*UserStore)(nil)
	_ auth.UserCounter   = (*UserStore)(nil)
)
