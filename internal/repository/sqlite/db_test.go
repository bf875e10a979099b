package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewDB_AppliesPragmas(t *testing.T) {
	ctx := context.Background()

	db, err := NewDB(ctx, DefaultConfig(":memory:"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var foreignKeys int
	require.NoError(t, db.db.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)

	var busyTimeout int
	require.NoError(t, db.db.QueryRowContext(ctx, `PRAGMA busy_timeout`).Scan(&busyTimeout))
	require.Equal(t, 5000, busyTimeout)
}

func TestNewDB_AppliesJournalMode(t *testing.T) {
	ctx := context.Background()

	// In-memory databases always report journal_mode=memory, so WAL needs a
	// file-backed database to observe.
	db, err := NewDB(ctx, DefaultConfig(filepath.Join(t.TempDir(), "meridian.db")), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var journalMode string
	require.NoError(t, db.db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&journalMode))
	require.Equal(t, "wal", journalMode)
}
