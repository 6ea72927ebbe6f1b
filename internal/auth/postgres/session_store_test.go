// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/sessionauth/internal/session"
	"github.com/holomush/sessionauth/pkg/errutil"
)

func TestSessionRecordStore_Append(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := newMockPool(t)
	mock.ExpectExec(`INSERT INTO user_sessions`).
		WithArgs("tok", "u1", t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := NewSessionRecordStore(mock).Append(context.Background(), session.Record{SessionID: "tok", UserID: "u1", CreatedAt: t0})
	require.NoError(t, err)
}

func TestSessionRecordStore_Load(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("returns rows in order", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`SELECT session_id, user_id, created_at\s+FROM user_sessions\s+ORDER BY created_at`).
			WillReturnRows(pgxmock.NewRows(sessionColumns).
				AddRow("a", "u1", t0).
				AddRow("b", "u2", t0.Add(time.Minute)))

		recs, err := NewSessionRecordStore(mock).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []session.Record{
			{SessionID: "a", UserID: "u1", CreatedAt: t0},
			{SessionID: "b", UserID: "u2", CreatedAt: t0.Add(time.Minute)},
		}, recs)
	})

	t.Run("query error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`FROM user_sessions`).WillReturnError(errors.New("connection refused"))

		_, err := NewSessionRecordStore(mock).Load(context.Background())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_LOAD_FAILED")
	})
}

func TestSessionRecordStore_Find(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`WHERE session_id = \$1`).
			WithArgs("tok").
			WillReturnRows(pgxmock.NewRows(sessionColumns).AddRow("tok", "u1", t0))

		rec, err := NewSessionRecordStore(mock).Find(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, "u1", rec.UserID)
	})

	t.Run("missing", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`WHERE session_id = \$1`).
			WithArgs("tok").
			WillReturnError(pgx.ErrNoRows)

		_, err := NewSessionRecordStore(mock).Find(context.Background(), "tok")
		require.Error(t, err)
		assert.True(t, errors.Is(err, session.ErrNotFound))
	})
}

func TestSessionRecordStore_Replace(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []session.Record{
		{SessionID: "a", UserID: "u1", CreatedAt: t0},
		{SessionID: "b", UserID: "u2", CreatedAt: t0},
	}

	t.Run("rewrites inside a locked transaction", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec(`LOCK TABLE user_sessions`).WillReturnResult(pgxmock.NewResult("LOCK", 0))
		mock.ExpectExec(`DELETE FROM user_sessions`).WillReturnResult(pgxmock.NewResult("DELETE", 5))
		mock.ExpectCopyFrom(pgx.Identifier{"user_sessions"}, sessionColumns).WillReturnResult(2)
		mock.ExpectCommit()

		require.NoError(t, NewSessionRecordStore(mock).Replace(context.Background(), recs))
	})

	t.Run("empty set skips copy", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec(`LOCK TABLE user_sessions`).WillReturnResult(pgxmock.NewResult("LOCK", 0))
		mock.ExpectExec(`DELETE FROM user_sessions`).WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectCommit()

		require.NoError(t, NewSessionRecordStore(mock).Replace(context.Background(), nil))
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec(`LOCK TABLE user_sessions`).WillReturnResult(pgxmock.NewResult("LOCK", 0))
		mock.ExpectExec(`DELETE FROM user_sessions`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := NewSessionRecordStore(mock).Replace(context.Background(), recs)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_REPLACE_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "delete")
	})
}

func TestSessionRecordStore_PurgeCreatedBefore(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := newMockPool(t)
	mock.ExpectExec(`DELETE FROM user_sessions WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := NewSessionRecordStore(mock).PurgeCreatedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestDurableRegistry_OverPostgres(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := newMockPool(t)
	mock.ExpectQuery(`WHERE session_id = \$1`).
		WithArgs("tok").
		WillReturnRows(pgxmock.NewRows(sessionColumns).AddRow("tok", "u1", t0))

	reg := session.NewDurableRegistry(NewSessionRecordStore(mock))
	userID, err := reg.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}
