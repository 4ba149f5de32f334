package sqlite

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDBOptions(t *testing.T) {
	opts := DefaultDBOptions()

	assert.Equal(t, time.Hour, opts.ConnMaxLifetime)
	assert.Equal(t, 4, opts.MaxOpenConns)
	assert.Equal(t, 1, opts.MaxIdleConns)
	assert.Equal(t, 5*time.Second, opts.PingTimeout)
	assert.True(t, opts.WALMode)
	assert.Equal(t, 5*time.Second, opts.BusyTimeout)
	assert.Equal(t, TxLockImmediate, opts.TxLockMode)
	assert.True(t, opts.EnableWriteQueue)
	assert.Equal(t, 100, opts.WriteQueueSize)
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		opts    DBOptions
		pragmas []string
		txlock  string
	}{
		{
			name:    "default options",
			opts:    DefaultDBOptions(),
			pragmas: []string{"busy_timeout(5000)", "journal_mode(WAL)", "synchronous(NORMAL)"},
			txlock:  "immediate",
		},
		{
			name:    "bare options",
			opts:    DBOptions{},
			pragmas: []string{"synchronous(NORMAL)"},
		},
		{
			name:    "deferred lock is implicit",
			opts:    DBOptions{BusyTimeout: 2 * time.Second, TxLockMode: TxLockDeferred},
			pragmas: []string{"busy_timeout(2000)", "synchronous(NORMAL)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := buildDSN("data/test.db", tt.opts)
			path, query, ok := strings.Cut(dsn, "?")
			require.True(t, ok)
			assert.Equal(t, "file:data/test.db", path)

			params, err := url.ParseQuery(query)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.pragmas, params["_pragma"])
			assert.Equal(t, tt.txlock, params.Get("_txlock"))
		})
	}
}

func TestNewInMemoryDB(t *testing.T) {
	ctx := context.Background()
	db, err := NewInMemoryDB(ctx)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	// Одно соединение: таблица видна следующему запросу.
	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM test").Scan(&count))
	assert.Zero(t, count)
}

func TestNewDB_CreateDirectory(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "journal.db")

	db, err := NewDB(ctx, dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err)
}

func TestNewDB_Pragmas(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var timeout int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestNewDB_InvalidPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := NewDB(context.Background(), filepath.Join(file, "journal.db"))
	assert.Error(t, err)
}
