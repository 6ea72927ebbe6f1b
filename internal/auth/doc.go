// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides the credential and identity core of sessionauth.
//
// # Domain Types
//
// A User is created with NewUser, which validates the email and hash.
// Stores receive pre-validated users and are addressed through the
// IdentityStore interface:
//   - Add - insert a user, enforcing email uniqueness
//   - FindBy - look a user up by any recognized field
//   - Update - change recognized fields atomically
//
// # Services
//
// Service coordinates registration, login, logout, current-user resolution
// and the password reset flow on top of an IdentityStore, a session.Registry
// and a PasswordHasher. Create it with NewService or NewServiceWithLogger.
package auth
