package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/payops-sentinel/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Load_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT state, version FROM workflow_states WHERE thread_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Load(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	data, err := json.Marshal(pendingState("t1"))
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT state, version FROM workflow_states`).
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"state", "version"}).AddRow(data, int64(4)))

	got, err := s.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, "adyen", got.PendingProposal.TargetGateway)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO workflow_states .* ON CONFLICT \(thread_id\) DO NOTHING`).
		WithArgs("t1", "AWAITING_APPROVAL", pgxmock.AnyArg(), int64(1), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	state := pendingState("t1")
	require.NoError(t, s.Save(context.Background(), state))
	assert.Equal(t, int64(1), state.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE workflow_states SET .* WHERE thread_id = \$5 AND version = \$6`).
		WithArgs("EXECUTING", pgxmock.AnyArg(), int64(3), pgxmock.AnyArg(), "t1", int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	state := pendingState("t1")
	state.Stage = model.StageExecuting
	state.Version = 2
	err := s.Save(context.Background(), state)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, int64(2), state.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM workflow_states`).
		WithArgs("gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.Delete(context.Background(), "gone")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecentActions_OldestFirst(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	cols := []string{"id", "thread_id", "cycle_id", "region", "gateway", "previous_gateway", "result", "executed_at"}
	mock.ExpectQuery(`FROM action_history ORDER BY seq DESC LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("b", "t", "c", "EU", "stripe", "adyen", "ok", t2).
			AddRow("a", "t", "c", "UK", "adyen", "stripe", "ok", t1))

	recs, err := s.RecentActions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS workflow_states`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
