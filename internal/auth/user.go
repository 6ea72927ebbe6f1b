// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Recognized user fields, usable in FindBy queries and Update changes.
const (
	FieldID                  = "id"
	FieldEmail               = "email"
	FieldHashedPassword      = "hashed_password"
	FieldSessionID           = "session_id"
	FieldResetToken          = "reset_token"
	FieldResetTokenExpiresAt = "reset_token_expires_at"
)

// Fields maps user field names to values. String fields take a string;
// session_id and reset_token also accept nil or "" to clear them;
// reset_token_expires_at takes a time.Time or nil.
type Fields map[string]any

// User is a registered account.
type User struct {
	ID                  ulid.ULID
	Email               string
	HashedPassword      string
	SessionID           *string    // nil when logged out
	ResetToken          *string    // nil when no reset is pending
	ResetTokenExpiresAt *time.Time // nil means the pending token never expires
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewUser creates a validated User with a fresh identifier.
func NewUser(email, hashedPassword string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, oops.Code("USER_EMAIL_REQUIRED").Wrapf(ErrValidation, "email cannot be empty")
	}
	if hashedPassword == "" {
		return nil, oops.Code("USER_HASH_REQUIRED").Wrapf(ErrValidation, "hashed password cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:             ulid.Make(),
		Email:          email,
		HashedPassword: hashedPassword,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// NormalizeEmail trims surrounding whitespace.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	if u.SessionID != nil {
		s := *u.SessionID
		c.SessionID = &s
	}
	if u.ResetToken != nil {
		s := *u.ResetToken
		c.ResetToken = &s
	}
	if u.ResetTokenExpiresAt != nil {
		t := *u.ResetTokenExpiresAt
		c.ResetTokenExpiresAt = &t
	}
	return &c
}

// Value returns the normalized value of a recognized field.
func (u *User) Value(field string) (any, bool) {
	switch field {
	case FieldID:
		return u.ID.String(), true
	case FieldEmail:
		return u.Email, true
	case FieldHashedPassword:
		return u.HashedPassword, true
	case FieldSessionID:
		return optionalString(u.SessionID), true
	case FieldResetToken:
		return optionalString(u.ResetToken), true
	case FieldResetTokenExpiresAt:
		if u.ResetTokenExpiresAt == nil {
			return nil, true
		}
		return *u.ResetTokenExpiresAt, true
	default:
		return nil, false
	}
}

// Matches reports whether every field in a normalized query equals u's value.
func (u *User) Matches(query Fields) bool {
	for field, want := range query {
		got, ok := u.Value(field)
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// Apply writes normalized changes onto u and bumps UpdatedAt.
func (u *User) Apply(changes Fields) {
	for field, v := range changes {
		switch field {
		case FieldEmail:
			u.Email = v.(string) //nolint:forcetypeassert // normalized by ValidateChanges
		case FieldHashedPassword:
			u.HashedPassword = v.(string) //nolint:forcetypeassert // normalized by ValidateChanges
		case FieldSessionID:
			u.SessionID = stringPtr(v)
		case FieldResetToken:
			u.ResetToken = stringPtr(v)
		case FieldResetTokenExpiresAt:
			if t, ok := v.(time.Time); ok {
				u.ResetTokenExpiresAt = &t
			} else {
				u.ResetTokenExpiresAt = nil
			}
		}
	}
	u.UpdatedAt = time.Now().UTC()
}

// ValidateQuery checks that every key names a recognized field and returns
// the query with normalized values. An empty query is rejected.
func ValidateQuery(query Fields) (Fields, error) {
	if len(query) == 0 {
		return nil, oops.Code("USER_INVALID_QUERY").Wrapf(ErrInvalidQuery, "query must name at least one field")
	}
	out := make(Fields, len(query))
	for field, v := range query {
		nv, err := normalizeValue(field, v)
		if err != nil {
			return nil, oops.Code("USER_INVALID_QUERY").
				With("field", field).
				Wrapf(ErrInvalidQuery, "%s", err.Error())
		}
		out[field] = nv
	}
	return out, nil
}

// ValidateChanges checks that every key names a mutable recognized field and
// returns the changes with normalized values. Nothing is applied on error.
func ValidateChanges(changes Fields) (Fields, error) {
	out := make(Fields, len(changes))
	for field, v := range changes {
		if field == FieldID {
			return nil, oops.Code("USER_INVALID_FIELD").
				With("field", field).
				Wrapf(ErrInvalidField, "field %q is immutable", field)
		}
		nv, err := normalizeValue(field, v)
		if err != nil {
			return nil, oops.Code("USER_INVALID_FIELD").
				With("field", field).
				Wrapf(ErrInvalidField, "%s", err.Error())
		}
		if (field == FieldEmail || field == FieldHashedPassword) && nv == "" {
			return nil, oops.Code("USER_INVALID_FIELD").
				With("field", field).
				Wrapf(ErrInvalidField, "field %q cannot be empty", field)
		}
		out[field] = nv
	}
	return out, nil
}

type fieldError string

func (e fieldError) Error() string { return string(e) }

func normalizeValue(field string, v any) (any, error) {
	switch field {
	case FieldID:
		switch id := v.(type) {
		case ulid.ULID:
			return id.String(), nil
		case string:
			return id, nil
		}
	case FieldEmail:
		if s, ok := v.(string); ok {
			return NormalizeEmail(s), nil
		}
	case FieldHashedPassword:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case FieldSessionID, FieldResetToken:
		switch s := v.(type) {
		case nil:
			return nil, nil
		case string:
			if s == "" {
				return nil, nil
			}
			return s, nil
		case *string:
			return optionalString(s), nil
		}
	case FieldResetTokenExpiresAt:
		switch t := v.(type) {
		case nil:
			return nil, nil
		case time.Time:
			return t.UTC(), nil
		case *time.Time:
			if t == nil {
				return nil, nil
			}
			return t.UTC(), nil
		}
	default:
		return nil, fieldError("unknown field " + field)
	}
	return nil, fieldError("unsupported value type for field " + field)
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	default:
		return false
	}
}

func optionalString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func stringPtr(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// IdentityStore persists users. All operations are atomic with respect to
// concurrent callers.
type IdentityStore interface {
	// Add inserts a new user. Returns an error wrapping ErrAlreadyExists if
	// the email is already registered.
	Add(ctx context.Context, email, hashedPassword string) (*User, error)

	// FindBy returns the first user matching every field in query.
	// Returns ErrNotFound if none match and ErrInvalidQuery for unknown fields.
	FindBy(ctx context.Context, query Fields) (*User, error)

	// Update applies all changes or none. Returns ErrInvalidField for unknown
	// or immutable fields and ErrNotFound if id does not exist.
	Update(ctx context.Context, id ulid.ULID, changes Fields) error
}

// UserCounter is implemented by stores that can report their size.
type UserCounter interface {
	Count(ctx context.Context) (int, error)
}
