package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/rolegate/services/audit"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return Wrap(sqlDB, zap.NewNop()), mock
}

func TestDecisionRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDecisionRepository(db, zap.NewNop())

	d := audit.NewDecision(audit.OutcomeDenied, "insufficient_role", 403)
	d.RequestID = "req-1"
	d.Method = "GET"
	d.Path = "/api/v1/demo/hello"
	d.Subject = "user-1"
	d.Requirement = "client_admin"
	d.Roles = []string{"client_user"}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO auth_decisions").
			WithArgs(d.ID, "req-1", "GET", "/api/v1/demo/hello", "user-1", "denied",
				"insufficient_role", 403, "client_admin", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Insert(context.Background(), d))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO auth_decisions").WillReturnError(errors.New("connection reset"))

		err := repo.Insert(context.Background(), d)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert decision")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDecisionRepository_ListRecent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDecisionRepository(db, zap.NewNop())

	columns := []string{"id", "request_id", "method", "path", "subject", "outcome", "reason",
		"status_code", "requirement", "roles", "timestamp"}
	newer := uuid.New()
	older := uuid.New()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns rows in order", func(t *testing.T) {
		rows := sqlmock.NewRows(columns).
			AddRow(newer.String(), "req-2", "GET", "/api/v1/demo", "user-1", "allowed", "", 200,
				"client_user", "{client_user,client_admin}", now).
			AddRow(older.String(), "req-1", "GET", "/api/v1/demo/hello", "", "denied", "missing_token", 401,
				"client_admin", "{}", now.Add(-time.Minute))
		mock.ExpectQuery("SELECT (.+) FROM auth_decisions").WithArgs(10).WillReturnRows(rows)

		got, err := repo.ListRecent(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, newer, got[0].ID)
		assert.Equal(t, audit.OutcomeAllowed, got[0].Outcome)
		assert.Equal(t, []string{"client_user", "client_admin"}, got[0].Roles)
		assert.Equal(t, 200, got[0].Status)

		assert.Equal(t, older, got[1].ID)
		assert.Equal(t, "missing_token", got[1].Reason)
		assert.Empty(t, got[1].Roles)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non positive limit uses default", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM auth_decisions").WithArgs(50).
			WillReturnRows(sqlmock.NewRows(columns))

		got, err := repo.ListRecent(context.Background(), 0)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM auth_decisions").WillReturnError(errors.New("boom"))

		_, err := repo.ListRecent(context.Background(), 5)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDB_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		assert.NoError(t, db.HealthCheck(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectPing().WillReturnError(errors.New("down"))

		err := db.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "health check failed")
	})

	t.Run("query fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("read only"))

		err := db.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query check failed")
	})
}

func TestDB_InitSchema(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS auth_decisions").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
