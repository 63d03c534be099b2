package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/dixie/pkg/models"
)

func newMockLedger(t *testing.T, now time.Time) (*SQLLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresDB(db, fixedClock(now)), mock
}

func TestRebind(t *testing.T) {
	got := postgresDialect.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`)
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y = $2`, got)
	assert.Equal(t, `x = ?`, sqliteDialect.rebind(`x = ?`))
}

func TestPostgresRecord(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, mock := newMockLedger(t, now)

	mock.ExpectExec(`INSERT INTO usage_events`).
		WithArgs("2026-03-10", "claude", "", int64(5), int64(0), float64(0), "", now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := l.Record(context.Background(), models.UsageEvent{Service: "claude", Amount: 5})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUsedTodayStorageError(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, mock := newMockLedger(t, now)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(prompt_count\), 0\) FROM usage_events WHERE service = \$1 AND date = \$2`).
		WithArgs("claude", "2026-03-10").
		WillReturnError(errors.New("connection reset"))

	used, err := l.UsedToday(context.Background(), "claude")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Zero(t, used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTryConsumeTakesAdvisoryLock(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, mock := newMockLedger(t, now)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("claude").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(prompt_count\), 0\) FROM usage_events`).
		WithArgs("claude", "2026-03-10").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(90))
	mock.ExpectExec(`INSERT INTO usage_events`).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	used, err := l.TryConsume(context.Background(), models.UsageEvent{Service: "claude", Amount: 10}, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTryConsumeOverLimitRollsBack(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, mock := newMockLedger(t, now)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(prompt_count\), 0\) FROM usage_events`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(95))
	mock.ExpectRollback()

	used, err := l.TryConsume(context.Background(), models.UsageEvent{Service: "claude", Amount: 10}, 100)
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.Equal(t, int64(95), used)
	assert.NoError(t, mock.ExpectationsWereMet())
}
