package db

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/RezaEskandarii/shotfire/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLockManager struct {
	acquireErr error
	releaseErr error
	acquired   int
	released   int
}

func (m *mockLockManager) Acquire(ctx context.Context, lockID int) error {
	m.acquired++
	return m.acquireErr
}

func (m *mockLockManager) Release(ctx context.Context, lockID int) error {
	m.released++
	return m.releaseErr
}

var _ lock.DistributedLockManager = (*mockLockManager)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadSQLScripts(t *testing.T) {
	scripts, err := readSQLScripts()
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	assert.Equal(t, "001_jobs.sql", scripts[0].name)
	assert.Equal(t, "002_job_retry_audit.sql", scripts[1].name)
	assert.Contains(t, scripts[0].body, "shotfire.jobs")
}

func TestInit_LockAcquireFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lockMgr := &mockLockManager{acquireErr: errors.New("lock busy")}

	err = Init(context.Background(), db, lockMgr, discardLogger())
	assert.Error(t, err)
	assert.Equal(t, 0, lockMgr.released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInit_AppliesScriptsUnderLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS shotfire").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS shotfire.jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS shotfire.job_retry_audit").WillReturnResult(sqlmock.NewResult(0, 0))

	lockMgr := &mockLockManager{}
	require.NoError(t, Init(context.Background(), db, lockMgr, discardLogger()))
	assert.Equal(t, 1, lockMgr.acquired)
	assert.Equal(t, 1, lockMgr.released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInit_MigrationFailureStillReleasesLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE SCHEMA").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("syntax error"))

	lockMgr := &mockLockManager{}
	err = Init(context.Background(), db, lockMgr, discardLogger())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "001_jobs.sql")
	assert.Equal(t, 1, lockMgr.released)
}
