package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Database owns the history connection. Migrations run on a separate
// connection before the working one is opened, since golang-migrate closes
// the connection it is given.
//
// Usage:
//
//	history, err := db.Open("campaign.db")
//	if err != nil {
//	    return err
//	}
//	defer history.Close()
type Database struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// DatabaseConfig holds configuration for Open.
type DatabaseConfig struct {
	// Path is the database file path
	Path string
	// SkipMigrations opens the file as is (tests of the migrator itself)
	SkipMigrations bool
	// ConnectionConfig allows customizing the SQLite connection
	ConnectionConfig *ConnectionConfig
}

// Open creates the parent directory, applies pending migrations and opens
// the database at path.
func Open(path string) (*Database, error) {
	return OpenWithConfig(DatabaseConfig{Path: path})
}

// OpenWithConfig is Open with explicit configuration.
func OpenWithConfig(config DatabaseConfig) (*Database, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dir := filepath.Dir(config.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	if !config.SkipMigrations {
		if err := MigrateUpFromPath(config.Path); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	connConfig := DefaultConnectionConfig(config.Path)
	if config.ConnectionConfig != nil {
		connConfig = *config.ConnectionConfig
	}
	conn, err := NewSQLiteConnection(connConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return &Database{db: conn, path: config.Path}, nil
}

// DB returns the underlying connection. Do not close it; use Close.
func (d *Database) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Close closes the connection. Further calls are no-ops.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.db = nil
	return nil
}

// Ping verifies the connection is alive.
func (d *Database) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return errClosed
	}
	return d.db.PingContext(ctx)
}

// withConn runs fn with the open connection under the read lock.
func (d *Database) withConn(fn func(conn *sql.DB) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return errClosed
	}
	return fn(d.db)
}
