// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/session"
)

var sessionColumns = []string{"session_id", "user_id", "created_at"}

// SessionRecordStore implements session.RecordStore on the user_sessions table.
type SessionRecordStore struct {
	pool poolIface
}

// NewSessionRecordStore creates a new SessionRecordStore.
func NewSessionRecordStore(pool poolIface) *SessionRecordStore {
	return &SessionRecordStore{pool: pool}
}

// Append inserts one record.
func (s *SessionRecordStore) Append(ctx context.Context, rec session.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_sessions (session_id, user_id, created_at)
		VALUES ($1, $2, $3)
	`, rec.SessionID, rec.UserID, rec.CreatedAt)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert user_session").
			With("user_id", rec.UserID).
			Wrap(err)
	}
	return nil
}

// Load returns every record ordered by creation time.
func (s *SessionRecordStore) Load(ctx context.Context) ([]session.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, user_id, created_at
		FROM user_sessions
		ORDER BY created_at
	`)
	if err != nil {
		return nil, oops.Code("SESSION_LOAD_FAILED").
			With("operation", "select user_sessions").
			Wrap(err)
	}
	defer rows.Close()

	var recs []session.Record
	for rows.Next() {
		var rec session.Record
		if err := rows.Scan(&rec.SessionID, &rec.UserID, &rec.CreatedAt); err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").
				With("operation", "scan user_session row").
				Wrap(err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").
			With("operation", "iterate user_session rows").
			Wrap(err)
	}
	return recs, nil
}

// Replace rewrites the table inside one transaction holding a table lock,
// so concurrent rewrites from other processes serialize.
func (s *SessionRecordStore) Replace(ctx context.Context, recs []session.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("SESSION_REPLACE_FAILED").With("operation", "begin").Wrap(err)
	}

	if err := replaceIn(ctx, tx, recs); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // rewrite error takes precedence
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("SESSION_REPLACE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

func replaceIn(ctx context.Context, tx pgx.Tx, recs []session.Record) error {
	if _, err := tx.Exec(ctx, `LOCK TABLE user_sessions IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return oops.Code("SESSION_REPLACE_FAILED").With("operation", "lock").Wrap(err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_sessions`); err != nil {
		return oops.Code("SESSION_REPLACE_FAILED").With("operation", "delete").Wrap(err)
	}
	if len(recs) == 0 {
		return nil
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"user_sessions"},
		sessionColumns,
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			return []any{recs[i].SessionID, recs[i].UserID, recs[i].CreatedAt}, nil
		}),
	)
	if err != nil {
		return oops.Code("SESSION_REPLACE_FAILED").
			With("operation", "copy").
			With("count", len(recs)).
			Wrap(err)
	}
	return nil
}

// Find returns the record for sessionID.
func (s *SessionRecordStore) Find(ctx context.Context, sessionID string) (session.Record, error) {
	var rec session.Record
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, created_at
		FROM user_sessions
		WHERE session_id = $1
	`, sessionID).Scan(&rec.SessionID, &rec.UserID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Record{}, oops.Code("SESSION_NOT_FOUND").Wrap(session.ErrNotFound)
	}
	if err != nil {
		return session.Record{}, oops.Code("SESSION_FIND_FAILED").
			With("operation", "select user_session").
			Wrap(err)
	}
	return rec, nil
}

// PurgeCreatedBefore deletes records created before cutoff.
func (s *SessionRecordStore) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM user_sessions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired user_sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var (
	_ session.RecordStore  = (*SessionRecordStore)(nil)
	_ session.RecordFinder = (*SessionRecordStore)(nil)
	_ session.Purger       = (*SessionRecordStore)(nil)
)
