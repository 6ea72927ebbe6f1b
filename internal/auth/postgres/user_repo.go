// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

const userColumns = `id, email, hashed_password, session_id, reset_token, reset_token_expires_at, created_at, updated_at`

// UserRepository implements auth.IdentityStore using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Add stores a new user. The users.email unique constraint backs the
// caller-side existence check.
func (r *UserRepository) Add(ctx context.Context, email, hashedPassword string) (*auth.User, error) {
	user, err := auth.NewUser(email, hashedPassword)
	if err != nil {
		return nil, err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO users (id, email, hashed_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		user.ID.String(),
		user.Email,
		user.HashedPassword,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, oops.Code("USER_ALREADY_EXISTS").
				With("email", user.Email).
				Wrapf(auth.ErrAlreadyExists, "user %s already exists", user.Email)
		}
		return nil, oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return user, nil
}

// FindBy returns the earliest created user matching every field in query.
func (r *UserRepository) FindBy(ctx context.Context, query auth.Fields) (*auth.User, error) {
	q, err := auth.ValidateQuery(query)
	if err != nil {
		return nil, err
	}

	where, args := buildWhere(q)
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY created_at, id LIMIT 1`,
		args...,
	)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("query", sortedKeys(q)).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_FIND_FAILED").
			With("operation", "select user").
			With("query", sortedKeys(q)).
			Wrap(err)
	}
	return user, nil
}

// Update applies changes in a single statement, so they land all or nothing.
func (r *UserRepository) Update(ctx context.Context, id ulid.ULID, changes auth.Fields) error {
	c, err := auth.ValidateChanges(changes)
	if err != nil {
		return err
	}

	keys := sortedKeys(c)
	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+2)
	for _, k := range keys {
		args = append(args, c[k])
		sets = append(sets, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id.String())

	result, err := r.pool.Exec(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+fmt.Sprintf(` WHERE id = $%d`, len(args)),
		args...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("USER_ALREADY_EXISTS").
				With("id", id.String()).
				Wrapf(auth.ErrAlreadyExists, "email already registered")
		}
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Count returns the number of users.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

// buildWhere renders a validated query as a conjunction. Column names come
// from the recognized field set, never from caller input.
func buildWhere(q auth.Fields) (string, []any) {
	keys := sortedKeys(q)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		if q[k] == nil {
			clauses = append(clauses, k+" IS NULL")
			continue
		}
		args = append(args, q[k])
		clauses = append(clauses, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func sortedKeys(f auth.Fields) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr     string
		user      auth.User
		sessionID *string
		resetTok  *string
		resetExp  *time.Time
	)
	err := row.Scan(&idStr, &user.Email, &user.HashedPassword, &sessionID, &resetTok, &resetExp, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").Wrap(err)
	}

	user.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_SCAN_FAILED").
			With("id", idStr).
			Wrap(err)
	}
	user.SessionID = sessionID
	user.ResetToken = resetTok
	user.ResetTokenExpiresAt = resetExp
	return &user, nil
}

var (
	_ auth.IdentityStore = (*UserRepository)(nil)
	_ auth.UserCounter   = (*UserRepository)(nil)
)
