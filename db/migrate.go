package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationsDir is the directory inside migrationFiles.
const migrationsDir = "migrations"

// MigrationConfig holds configuration for running migrations.
type MigrationConfig struct {
	// DatabaseName is used by golang-migrate for internal tracking (default: "main")
	DatabaseName string
}

// DefaultMigrationConfig returns the default migration configuration.
func DefaultMigrationConfig() MigrationConfig {
	return MigrationConfig{DatabaseName: "main"}
}

// MigrateUp applies all pending migrations. ErrNoChange is not an error.
//
// MigrateUp takes ownership of conn and closes it.
func MigrateUp(conn *sql.DB) error {
	m, err := newMigrator(conn, DefaultMigrationConfig())
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrateUpFromPath applies pending migrations on its own connection to path.
func MigrateUpFromPath(path string) error {
	conn, err := NewSQLiteConnectionWithDefaults(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	return MigrateUp(conn)
}

// MigrateDown rolls back steps migrations, or all of them when steps is -1.
//
// MigrateDown takes ownership of conn and closes it.
func MigrateDown(conn *sql.DB, steps int) error {
	m, err := newMigrator(conn, DefaultMigrationConfig())
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	var migrateErr error
	if steps == -1 {
		migrateErr = m.Down()
	} else {
		migrateErr = m.Steps(-steps)
	}
	if migrateErr != nil && !errors.Is(migrateErr, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", migrateErr)
	}
	return nil
}

// MigrateDownFromPath rolls back migrations on its own connection to path.
func MigrateDownFromPath(path string, steps int) error {
	conn, err := NewSQLiteConnectionWithDefaults(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	return MigrateDown(conn, steps)
}

// MigrationVersion returns the applied version and dirty flag. A database
// without migrations reports version 0.
//
// MigrationVersion takes ownership of conn and closes it.
func MigrationVersion(conn *sql.DB) (uint, bool, error) {
	m, err := newMigrator(conn, DefaultMigrationConfig())
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// MigrationVersionFromPath reads the migration version on its own connection to path.
func MigrationVersionFromPath(path string) (uint, bool, error) {
	conn, err := NewSQLiteConnectionWithDefaults(path)
	if err != nil {
		return 0, false, fmt.Errorf("failed to open database: %w", err)
	}
	return MigrationVersion(conn)
}

// newMigrator wires the embedded migrations to conn. Closing the returned
// migrator closes conn.
func newMigrator(conn *sql.DB, config MigrationConfig) (*migrate.Migrate, error) {
	if conn == nil {
		return nil, errors.New("database connection is required")
	}

	source, err := iofs.New(migrationFiles, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(conn, &sqlite.Config{
		DatabaseName: config.DatabaseName,
	})
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}
