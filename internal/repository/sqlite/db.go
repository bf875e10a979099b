// Package sqlite provides a SQLite-backed SessionRepository for embedded
// single-node deployments. This package uses modernc.org/sqlite, a pure Go
// SQLite implementation that doesn't require CGO, making it ideal for
// cross-platform single-binary deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds SQLite connection settings.
type Config struct {
	// Path is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	Path string

	// BusyTimeout sets the busy timeout in milliseconds.
	BusyTimeout int

	// JournalMode sets the SQLite journal mode (WAL recommended for concurrency).
	JournalMode string

	// SynchronousMode sets the synchronous mode (NORMAL, FULL, OFF).
	SynchronousMode string
}

// DefaultConfig returns a default SQLite configuration.
func DefaultConfig(dbPath string) Config {
	return Config{
		Path:            dbPath,
		BusyTimeout:     5000,
		JournalMode:     "WAL",
		SynchronousMode: "NORMAL",
	}
}

// DB wraps a sql.DB connection for SQLite.
type DB struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewDB creates a new SQLite database connection and applies migrations.
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	// modernc.org/sqlite applies pragmas through _pragma=name(value) query
	// parameters, once per connection.
	connStr := fmt.Sprintf(
		"%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(%s)&_pragma=synchronous(%s)&_pragma=foreign_keys(1)",
		cfg.Path, cfg.BusyTimeout, cfg.JournalMode, cfg.SynchronousMode,
	)

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	wrapped := &DB{db: db, logger: logger}
	if err := wrapped.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().
		Str("path", cfg.Path).
		Str("journal_mode", cfg.JournalMode).
		Msg("connected to SQLite database")

	return wrapped, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.logger.Info().Msg("closing SQLite connection")
	return db.db.Close()
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// migrate applies the schema.
func (db *DB) migrate(ctx context.Context) error {
	migration, err := migrationsFS.ReadFile("migrations/000001_init.up.sql")
	if err != nil {
		return fmt.Errorf("failed to read migration: %w", err)
	}

	if _, err := db.db.ExecContext(ctx, string(migration)); err != nil {
		return fmt.Errorf("failed to apply migration: %w", err)
	}
	return nil
}
