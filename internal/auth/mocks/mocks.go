// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks of the auth and session interfaces.
package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/session"
)

// testingT is the subset of *testing.T the constructors need.
type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockIdentityStore is a mock auth.IdentityStore.
type MockIdentityStore struct {
	mock.Mock
}

// NewMockIdentityStore creates a mock whose expectations are asserted at
// test cleanup.
func NewMockIdentityStore(t testingT) *MockIdentityStore {
	m := &MockIdentityStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Add implements auth.IdentityStore.
func (m *MockIdentityStore) Add(ctx context.Context, email, hashedPassword string) (*auth.User, error) {
	ret := m.Called(ctx, email, hashedPassword)
	var u *auth.User
	if v := ret.Get(0); v != nil {
		u = v.(*auth.User) //nolint:forcetypeassert // mock return
	}
	return u, ret.Error(1)
}

// FindBy implements auth.IdentityStore.
func (m *MockIdentityStore) FindBy(ctx context.Context, query auth.Fields) (*auth.User, error) {
	ret := m.Called(ctx, query)
	var u *auth.User
	if v := ret.Get(0); v != nil {
		u = v.(*auth.User) //nolint:forcetypeassert // mock return
	}
	return u, ret.Error(1)
}

// Update implements auth.IdentityStore.
func (m *MockIdentityStore) Update(ctx context.Context, id ulid.ULID, changes auth.Fields) error {
	ret := m.Called(ctx, id, changes)
	return ret.Error(0)
}

// MockPasswordHasher is a mock auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock whose expectations are asserted at
// test cleanup.
func NewMockPasswordHasher(t testingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash implements auth.PasswordHasher.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	ret := m.Called(password)
	return ret.String(0), ret.Error(1)
}

// Verify implements auth.PasswordHasher.
func (m *MockPasswordHasher) Verify(password, hash string) bool {
	ret := m.Called(password, hash)
	return ret.Bool(0)
}

// NeedsUpgrade implements auth.PasswordHasher.
func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	ret := m.Called(hash)
	return ret.Bool(0)
}

// MockRegistry is a mock session.Registry.
type MockRegistry struct {
	mock.Mock
}

// NewMockRegistry creates a mock whose expectations are asserted at test
// cleanup.
func NewMockRegistry(t testingT) *MockRegistry {
	m := &MockRegistry{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create implements session.Registry.
func (m *MockRegistry) Create(ctx context.Context, userID string) (string, error) {
	ret := m.Called(ctx, userID)
	return ret.String(0), ret.Error(1)
}

// Resolve implements session.Registry.
func (m *MockRegistry) Resolve(ctx context.Context, token string) (string, error) {
	ret := m.Called(ctx, token)
	return ret.String(0), ret.Error(1)
}

// Destroy implements session.Registry.
func (m *MockRegistry) Destroy(ctx context.Context, token string) (bool, error) {
	ret := m.Called(ctx, token)
	return ret.Bool(0), ret.Error(1)
}

var (
	_ auth.IdentityStore  = (*MockIdentityStore)(nil)
	_ auth.PasswordHasher = (*MockPasswordHasher)(nil)
	_ session.Registry    = (*MockRegistry)(nil)
)
