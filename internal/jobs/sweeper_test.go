package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-gate/vault-gate/internal/db/repositories"
)

func newSweeperFixture(t *testing.T, interval, retention time.Duration) (*Sweeper, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")

	s := NewSweeper(
		repositories.NewAccessKeyRepository(db),
		repositories.NewSessionRepository(db),
		interval, retention, slog.Default())
	return s, mock
}

func TestNewSweeper_Defaults(t *testing.T) {
	s, _ := newSweeperFixture(t, 0, 0)
	assert.Equal(t, time.Hour, s.interval)
	assert.Equal(t, 30*24*time.Hour, s.sessionRetention)
}

func TestRunSweep_ExpiresKeysAndPrunesSessions(t *testing.T) {
	s, mock := newSweeperFixture(t, time.Hour, 24*time.Hour)

	mock.ExpectExec("UPDATE access_keys").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM sessions").
		WillReturnResult(sqlmock.NewResult(0, 5))

	s.runSweep(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSweep_KeyFailureDoesNotSkipSessionPrune(t *testing.T) {
	s, mock := newSweeperFixture(t, time.Hour, 24*time.Hour)

	mock.ExpectExec("UPDATE access_keys").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectExec("DELETE FROM sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.runSweep(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweeper_StartSweepsImmediatelyAndStops(t *testing.T) {
	s, mock := newSweeperFixture(t, time.Hour, 24*time.Hour)

	mock.ExpectExec("UPDATE access_keys").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	// The initial sweep runs before the ticker; stop right after.
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweeper_ContextCancelStops(t *testing.T) {
	s, mock := newSweeperFixture(t, time.Hour, 24*time.Hour)

	mock.ExpectExec("UPDATE access_keys").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}
