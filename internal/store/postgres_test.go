package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &SQLStore{db: sqlx.NewDb(db, "postgres"), d: postgresDialect}, mock
}

var stateColumns = []string{
	"is_active", "daily_loss", "consecutive_losses", "bankroll_percent", "bankroll",
	"last_reset_at", "triggered_at", "trigger_reason", "updated_at", "revision",
}

func TestPostgresSchemaInitialisation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range postgresDialect.schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	_, err = newSQLStore(sqlx.NewDb(db, "postgres"), postgresDialect)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMutateLocksStateRow(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hard_stop_state")).
		WithArgs(false, now, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM hard_stop_state WHERE id = 1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(stateColumns).
			AddRow(false, 200.0, 2, 0.02, 10000.0, now, nil, nil, now, int64(7)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE hard_stop_state SET")).
		WithArgs(false, 200.0, 3, 0.02, 10000.0, now, nil, nil, now, int64(8), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hard_stop_audit")).
		WithArgs(now, "outcome", "system", "LOSS", `{}`, `{}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	state, err := s.MutateHardStopState(context.Background(), now, func(st *HardStopState) ([]AuditEntry, error) {
		st.ConsecutiveLosses++
		return []AuditEntry{{OccurredAt: now, EventType: "outcome", ActorID: "system", Reason: "LOSS", PreviousState: `{}`, CurrentState: `{}`}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, state.ConsecutiveLosses)
	assert.Equal(t, int64(8), state.Revision)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMutateRollsBackOnError(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hard_stop_state")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(stateColumns).
			AddRow(true, 0.0, 0, 0.0, 0.0, now, now, "x", now, int64(1)))
	mock.ExpectRollback()

	boom := errors.New("boom")
	_, err := s.MutateHardStopState(context.Background(), now, func(st *HardStopState) ([]AuditEntry, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMutateRejectsStaleRevision(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hard_stop_state")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(stateColumns).
			AddRow(false, 0.0, 0, 0.0, 10000.0, now, nil, nil, now, int64(3)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE hard_stop_state SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.MutateHardStopState(context.Background(), now, func(st *HardStopState) ([]AuditEntry, error) {
		st.ConsecutiveLosses++
		return []AuditEntry{{OccurredAt: now, EventType: "outcome", ActorID: "system", Reason: "LOSS"}}, nil
	})
	require.ErrorIs(t, err, ErrStaleRevision)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendVersionLocksTable(t *testing.T) {
	s, mock := newMockPostgres(t)
	created := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("LOCK TABLE policy_versions IN SHARE ROW EXCLUSIVE MODE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM policy_versions")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(4)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO policy_versions")).
		WithArgs("v5", int64(5), created, "ops", `{}`, "tighten", false, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	snap, err := s.AppendVersion(context.Background(), func(next int64) (VersionSnapshot, error) {
		return VersionSnapshot{ID: "v5", Version: next, CreatedAt: created, CreatedBy: "ops", ConfigJSON: `{}`, ChangeReason: "tighten"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetVersionNotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM policy_versions WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetVersion(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListDecisionsBuildsFilter(t *testing.T) {
	s, mock := newMockPostgres(t)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	args := []driver.Value{from, "NO_BET", "u1", 100, 0}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE executed_at >= $1 AND status = $2 AND user_id = $3 ORDER BY executed_at DESC LIMIT $4 OFFSET $5")).
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"decision_id", "status", "executed_at"}).
			AddRow("d1", "NO_BET", from))

	records, err := s.ListDecisions(context.Background(), DecisionFilter{From: from, Status: "NO_BET", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "d1", records[0].DecisionID)
	require.NoError(t, mock.ExpectationsWereMet())
}
