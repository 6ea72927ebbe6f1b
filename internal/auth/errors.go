// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// Sentinel errors. Implementations wrap these with oops codes and context;
// callers match them with errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a uniqueness constraint would be violated.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidField is returned when an update names an unknown or immutable field.
	ErrInvalidField = errors.New("invalid field")

	// ErrInvalidQuery is returned when a lookup names an unknown field.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrValidation is returned when a required input is missing or malformed.
	ErrValidation = errors.New("validation failed")

	// ErrAuthenticationFailed is returned when credentials do not authenticate.
	// The cause (unknown email, wrong password) is deliberately not distinguished.
	ErrAuthenticationFailed = errors.New("authentication failed")
)
