// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/session"
)

// Recorder receives auth outcome observations.
type Recorder interface {
	RecordLogin(result string)
	RecordRegistration(result string)
	RecordPasswordReset(stage, result string)
}

type noopRecorder struct{}

func (noopRecorder) RecordLogin(string)                 {}
func (noopRecorder) RecordRegistration(string)          {}
func (noopRecorder) RecordPasswordReset(string, string) {}

// Service provides authentication operations.
type Service struct {
	users    IdentityStore
	sessions session.Registry
	hasher   PasswordHasher
	logger   *slog.Logger
	recorder Recorder
	resetTTL time.Duration
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithResetTokenTTL sets how long issued reset tokens stay valid.
// Zero or less means tokens never expire.
func WithResetTokenTTL(d time.Duration) Option {
	return func(s *Service) { s.resetTTL = d }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new Service using the default logger.
func NewService(users IdentityStore, sessions session.Registry, hasher PasswordHasher, opts ...Option) (*Service, error) {
	return NewServiceWithLogger(users, sessions, hasher, slog.Default(), opts...)
}

// NewServiceWithLogger creates a new Service with an explicit logger.
func NewServiceWithLogger(
	users IdentityStore,
	sessions session.Registry,
	hasher PasswordHasher,
	logger *slog.Logger,
	opts ...Option,
) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("identity store is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("session registry is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("logger is required")
	}

	s := &Service{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		logger:   logger,
		recorder: noopRecorder{},
		resetTTL: DefaultResetTokenTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// dummyPasswordHash is verified against when no user matches, so unknown
// emails take as long as wrong passwords. It never matches any password.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Register creates a user with a hashed password.
// Returns an error wrapping ErrAlreadyExists if the email is taken.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		s.recorder.RecordRegistration("invalid")
		return nil, oops.Code("USER_EMAIL_REQUIRED").Wrapf(ErrValidation, "email cannot be empty")
	}
	if password == "" {
		s.recorder.RecordRegistration("invalid")
		return nil, ErrEmptyPassword
	}

	_, err := s.users.FindBy(ctx, Fields{FieldEmail: email})
	switch {
	case err == nil:
		s.recorder.RecordRegistration("conflict")
		return nil, oops.Code("USER_ALREADY_EXISTS").
			With("email", email).
			Wrapf(ErrAlreadyExists, "user %s already exists", email)
	case !errors.Is(err, ErrNotFound):
		s.recorder.RecordRegistration("error")
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.recorder.RecordRegistration("error")
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := s.users.Add(ctx, email, hash)
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			s.recorder.RecordRegistration("conflict")
			return nil, err
		}
		s.recorder.RecordRegistration("error")
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "add user").
			Wrap(err)
	}

	s.recorder.RecordRegistration("ok")
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String(), "email", user.Email)
	return user, nil
}

// UserByEmail returns the user registered under email.
// Returns an error wrapping ErrNotFound if there is none.
func (s *Service) UserByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, oops.Code("USER_NOT_FOUND").Wrapf(ErrNotFound, "user not found")
	}
	return s.users.FindBy(ctx, Fields{FieldEmail: email})
}

// ValidateCredentials reports whether password is correct for email.
// Unknown emails and store failures yield false.
func (s *Service) ValidateCredentials(ctx context.Context, email, password string) bool {
	user, err := s.authenticate(ctx, email, password)
	if err != nil && !errors.Is(err, ErrAuthenticationFailed) {
		s.logger.WarnContext(ctx, "credential validation failed", "error", err)
	}
	return user != nil
}

// authenticate returns the user when password matches. Unknown email and
// wrong password both return ErrAuthenticationFailed.
func (s *Service) authenticate(ctx context.Context, email, password string) (*User, error) {
	user, lookupErr := s.users.FindBy(ctx, Fields{FieldEmail: NormalizeEmail(email)})

	targetHash := dummyPasswordHash
	switch {
	case lookupErr == nil:
		targetHash = user.HashedPassword
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "find user by email").
			Wrap(lookupErr)
	}

	// Always verify so unknown emails cost the same as known ones.
	valid := s.hasher.Verify(password, targetHash)
	if lookupErr != nil || !valid {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrapf(ErrAuthenticationFailed, "invalid email or password")
	}
	return user, nil
}

// upgradeHash rewrites user's password hash when the hasher considers it
// outdated. password has already been verified. Failures are logged only.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	if !s.hasher.NeedsUpgrade(user.HashedPassword) {
		return
	}
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID.String(), "error", err)
		return
	}
	if err := s.users.Update(ctx, user.ID, Fields{FieldHashedPassword: newHash}); err != nil {
		s.logger.WarnContext(ctx, "password hash upgrade failed", "user_id", user.ID.String(), "error", err)
		return
	}
	user.HashedPassword = newHash
}

// AuthenticateBasic returns the user for a decoded header credential, or
// nil if the credential does not authenticate.
func (s *Service) AuthenticateBasic(ctx context.Context, email, password string) (*User, error) {
	if email == "" || password == "" {
		return nil, nil
	}
	user, err := s.authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// Login checks the credentials and issues a session bound to the user.
// A previously recorded session for the user is destroyed. No session is
// created unless the password verifies.
func (s *Service) Login(ctx context.Context, email, password string) (*User, string, error) {
	user, err := s.authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			s.recorder.RecordLogin("invalid_credentials")
		} else {
			s.recorder.RecordLogin("error")
		}
		return nil, "", err
	}
	s.upgradeHash(ctx, user, password)

	token, err := s.sessions.Create(ctx, user.ID.String())
	if err != nil {
		s.recorder.RecordLogin("error")
		return nil, "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "create session").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	previous := user.SessionID
	if err := s.users.Update(ctx, user.ID, Fields{FieldSessionID: token}); err != nil {
		//nolint:errcheck // best effort rollback; the update error is returned
		s.sessions.Destroy(ctx, token)
		s.recorder.RecordLogin("error")
		return nil, "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "record session on user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if previous != nil && *previous != token {
		if _, err := s.sessions.Destroy(ctx, *previous); err != nil {
			s.logger.WarnContext(ctx, "previous session destroy failed", "user_id", user.ID.String(), "error", err)
		}
	}
	user.SessionID = &token

	s.recorder.RecordLogin("ok")
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String())
	return user, token, nil
}

// ResolveCurrentUser returns the user bound to token. It returns (nil, nil)
// for an empty, unknown or expired token; an error only signals a store
// failure.
func (s *Service) ResolveCurrentUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}

	userID, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("AUTH_RESOLVE_FAILED").
			With("operation", "resolve session").
			Wrap(err)
	}

	user, err := s.users.FindBy(ctx, Fields{FieldID: userID})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("AUTH_RESOLVE_FAILED").
			With("operation", "find user by id").
			With("user_id", userID).
			Wrap(err)
	}
	return user, nil
}

// DestroySession removes the session identified by token and clears it from
// its owner. Reports whether a session existed.
func (s *Service) DestroySession(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	user, err := s.ResolveCurrentUser(ctx, token)
	if err != nil {
		return false, err
	}

	destroyed, err := s.sessions.Destroy(ctx, token)
	if err != nil {
		return false, oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "destroy session").
			Wrap(err)
	}

	if user != nil && user.SessionID != nil && *user.SessionID == token {
		if err := s.users.Update(ctx, user.ID, Fields{FieldSessionID: nil}); err != nil {
			return destroyed, oops.Code("AUTH_LOGOUT_FAILED").
				With("operation", "clear session on user").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
	}
	return destroyed, nil
}

// Logout destroys the user's recorded session. Unknown users and users
// without a session are a no-op.
func (s *Service) Logout(ctx context.Context, userID ulid.ULID) error {
	user, err := s.users.FindBy(ctx, Fields{FieldID: userID})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "find user by id").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if user.SessionID == nil {
		return nil
	}

	if _, err := s.sessions.Destroy(ctx, *user.SessionID); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "destroy session").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if err := s.users.Update(ctx, userID, Fields{FieldSessionID: nil}); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "clear session on user").
			With("user_id", userID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user logged out", "user_id", userID.String())
	return nil
}

// IssueResetToken stores a new reset token for the user with email and
// returns the plaintext token. Only its hash is persisted.
func (s *Service) IssueResetToken(ctx context.Context, email string) (string, error) {
	user, err := s.users.FindBy(ctx, Fields{FieldEmail: NormalizeEmail(email)})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.recorder.RecordPasswordReset("issue", "not_found")
			return "", oops.Code("RESET_USER_NOT_FOUND").Wrap(err)
		}
		s.recorder.RecordPasswordReset("issue", "error")
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		s.recorder.RecordPasswordReset("issue", "error")
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	changes := Fields{FieldResetToken: hash, FieldResetTokenExpiresAt: nil}
	if s.resetTTL > 0 {
		changes[FieldResetTokenExpiresAt] = s.now().Add(s.resetTTL)
	}
	if err := s.users.Update(ctx, user.ID, changes); err != nil {
		s.recorder.RecordPasswordReset("issue", "error")
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "store reset token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.recorder.RecordPasswordReset("issue", "ok")
	s.logger.InfoContext(ctx, "reset token issued", "user_id", user.ID.String())
	return token, nil
}

// ConsumeResetToken sets a new password for the user holding token and
// clears the token so it cannot be reused. The user's current session is
// ended. Returns an error wrapping ErrNotFound if no user holds the token or
// it has expired.
func (s *Service) ConsumeResetToken(ctx context.Context, token, newPassword string) error {
	if newPassword == "" {
		s.recorder.RecordPasswordReset("consume", "invalid")
		return oops.Code("RESET_PASSWORD_EMPTY").Wrapf(ErrValidation, "new password cannot be empty")
	}
	if token == "" {
		s.recorder.RecordPasswordReset("consume", "not_found")
		return oops.Code("RESET_TOKEN_INVALID").Wrapf(ErrNotFound, "reset token not found")
	}

	user, err := s.users.FindBy(ctx, Fields{FieldResetToken: HashResetToken(token)})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.recorder.RecordPasswordReset("consume", "not_found")
			return oops.Code("RESET_TOKEN_INVALID").Wrapf(ErrNotFound, "reset token not found")
		}
		s.recorder.RecordPasswordReset("consume", "error")
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "find user by reset token").
			Wrap(err)
	}
	// The store matched on the hash; confirm it in constant time.
	if user.ResetToken == nil || !VerifyResetToken(token, *user.ResetToken) {
		s.recorder.RecordPasswordReset("consume", "not_found")
		return oops.Code("RESET_TOKEN_INVALID").Wrapf(ErrNotFound, "reset token not found")
	}

	if resetTokenExpired(user, s.now()) {
		//nolint:errcheck // best effort cleanup of a dead token
		s.users.Update(ctx, user.ID, Fields{FieldResetToken: nil, FieldResetTokenExpiresAt: nil})
		s.recorder.RecordPasswordReset("consume", "expired")
		return oops.Code("RESET_TOKEN_EXPIRED").
			With("user_id", user.ID.String()).
			Wrapf(ErrNotFound, "reset token has expired")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.recorder.RecordPasswordReset("consume", "error")
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	err = s.users.Update(ctx, user.ID, Fields{
		FieldHashedPassword:      hash,
		FieldResetToken:          nil,
		FieldResetTokenExpiresAt: nil,
		FieldSessionID:           nil,
	})
	if err != nil {
		s.recorder.RecordPasswordReset("consume", "error")
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if user.SessionID != nil {
		if _, err := s.sessions.Destroy(ctx, *user.SessionID); err != nil {
			s.logger.WarnContext(ctx, "session destroy after password reset failed", "user_id", user.ID.String(), "error", err)
		}
	}

	s.recorder.RecordPasswordReset("consume", "ok")
	s.logger.InfoContext(ctx, "password reset", "user_id", user.ID.String())
	return nil
}

// CountUsers returns the number of registered users if the store supports it.
func (s *Service) CountUsers(ctx context.Context) (int, bool, error) {
	counter, ok := s.users.(UserCounter)
	if !ok {
		return 0, false, nil
	}
	n, err := counter.Count(ctx)
	if err != nil {
		return 0, true, oops.Code("AUTH_COUNT_FAILED").Wrap(err)
	}
	return n, true, nil
}
