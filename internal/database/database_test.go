package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/casterly/internal/domain"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DB {
	db, err := New(Config{
		Path:    ":memory:",
		Profile: ProfileStandard,
		Name:    "test",
	})
	require.NoError(t, err)

	_, err = db.Conn().Exec(`
		CREATE TABLE IF NOT EXISTS test_table (
			id INTEGER PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	require.NoError(t, err)

	return db
}

func TestNew_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	db, err := New(Config{Path: path, Profile: ProfileStandard, Name: "test"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, ProfileStandard, db.Profile())
	assert.Equal(t, "test", db.Name())
}

func TestNew_DefaultsToStandardProfile(t *testing.T) {
	db, err := New(Config{Path: ":memory:", Name: "test"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, ProfileStandard, db.Profile())
}

func TestBuildConnectionString_Profiles(t *testing.T) {
	tests := []struct {
		profile  DatabaseProfile
		wants    []string
		rejects  []string
	}{
		{
			profile: ProfileLedger,
			wants:   []string{"journal_mode(WAL)", "synchronous(FULL)", "auto_vacuum(NONE)"},
			rejects: []string{"synchronous(OFF)"},
		},
		{
			profile: ProfileCache,
			wants:   []string{"journal_mode(WAL)", "synchronous(OFF)", "temp_store(MEMORY)"},
			rejects: []string{"synchronous(FULL)"},
		},
		{
			profile: ProfileStandard,
			wants:   []string{"journal_mode(WAL)", "synchronous(NORMAL)", "auto_vacuum(INCREMENTAL)"},
			rejects: []string{"synchronous(OFF)"},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			connStr := buildConnectionString("/tmp/test.db", tt.profile)
			for _, want := range tt.wants {
				assert.Contains(t, connStr, want)
			}
			for _, reject := range tt.rejects {
				assert.NotContains(t, connStr, reject)
			}
			// Common PRAGMAs apply to every profile
			assert.Contains(t, connStr, "foreign_keys(1)")
			assert.Contains(t, connStr, "busy_timeout(5000)")
		})
	}
}

func TestWithTransaction_Success(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO test_table (value) VALUES (?)", "committed")
		return err
	})
	require.NoError(t, err)

	var count int
	err = db.Conn().QueryRow("SELECT COUNT(*) FROM test_table WHERE value = ?", "committed").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	testErr := errors.New("test error")

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO test_table (value) VALUES (?)", "rolled-back"); err != nil {
			return err
		}
		return testErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, testErr)

	var count int
	err = db.Conn().QueryRow("SELECT COUNT(*) FROM test_table WHERE value = ?", "rolled-back").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "row should not exist after rollback")
}

func TestWithTransaction_RollbackOnPanic(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO test_table (value) VALUES (?)", "panicked"); err != nil {
			return err
		}
		panic("simulated failure")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	var count int
	err = db.Conn().QueryRow("SELECT COUNT(*) FROM test_table WHERE value = ?", "panicked").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "row should not exist after panic rollback")
}

func TestWithTransaction_NilDB(t *testing.T) {
	err := WithTransaction(nil, func(tx *sql.Tx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestEnsureSourceSchema(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	require.NoError(t, EnsureSourceSchema(db.Conn()))
	// Re-applying must be a no-op
	require.NoError(t, EnsureSourceSchema(db.Conn()))

	for _, table := range []string{"movements", "eod_balances"} {
		assert.True(t, tableExists(t, db.Conn(), table), "missing table %s", table)
	}
}

func TestEnsureResultsSchema(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	require.NoError(t, EnsureResultsSchema(db.Conn()))
	require.NoError(t, EnsureResultsSchema(db.Conn()))

	base := []string{
		"daily_roi", "agent_states", "rotation_log", "rank_changes",
		"client_accounts", "client_accounts_history", "client_accounts_snapshots",
		"simulations", "simulation_status",
	}
	for _, table := range base {
		assert.True(t, tableExists(t, db.Conn(), table), "missing table %s", table)
	}

	for _, w := range domain.SupportedWindows {
		assert.True(t, tableExists(t, db.Conn(), WindowROITable(w)), "missing window table for W=%d", w)
		assert.True(t, tableExists(t, db.Conn(), TopTable(w)), "missing ranked table for W=%d", w)
	}
}

func TestEnsureResultsSchema_SeedsStatusSingleton(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	require.NoError(t, EnsureResultsSchema(db.Conn()))

	var id, isRunning int
	var state string
	err := db.Conn().QueryRow("SELECT id, is_running, state FROM simulation_status").Scan(&id, &isRunning, &state)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, 0, isRunning)
	assert.Equal(t, "IDLE", state)

	// Second apply must not add a second row or reset the first
	_, err = db.Conn().Exec("UPDATE simulation_status SET is_running = 1 WHERE id = 1")
	require.NoError(t, err)
	require.NoError(t, EnsureResultsSchema(db.Conn()))

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM simulation_status").Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, db.Conn().QueryRow("SELECT is_running FROM simulation_status WHERE id = 1").Scan(&isRunning))
	assert.Equal(t, 1, isRunning, "re-applying schema must not clobber the status row")
}

func TestTableNameHelpers(t *testing.T) {
	assert.Equal(t, "agent_roi_7d", WindowROITable(7))
	assert.Equal(t, "agent_roi_30d", WindowROITable(30))
	assert.Equal(t, "top16_7d", TopTable(7))
	assert.Equal(t, "top16_3d", TopTable(3))
}

func TestOpen_Pair(t *testing.T) {
	dir := t.TempDir()

	dbs, err := Open(filepath.Join(dir, "source.db"), filepath.Join(dir, "results.db"))
	require.NoError(t, err)

	assert.Equal(t, "source", dbs.Source.Name())
	assert.Equal(t, "results", dbs.Results.Name())
	assert.True(t, tableExists(t, dbs.Source.Conn(), "movements"))
	assert.True(t, tableExists(t, dbs.Results.Conn(), "simulation_status"))

	require.NoError(t, dbs.Close())
}

func TestRetry_GivesUpOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("UNIQUE constraint failed")

	err := Retry(func() error {
		calls++
		return permanent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestRetry_RetriesTransientError(t *testing.T) {
	calls := 0

	err := Retry(func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0

	err := Retry(func() error {
		calls++
		return errors.New("database is locked")
	})

	require.Error(t, err)
	assert.Equal(t, retryAttempts, calls)
	assert.True(t, strings.Contains(err.Error(), "failed after"))
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}
