// Package db provides the task repository for agentcheck: a durable
// SQL-backed store (SQLite by default, PostgreSQL via AWE_DATABASE_URL)
// and an equivalent in-memory store for tests.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hangw/agentcheck/internal/db/driver"
)

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFS embed.FS

// embedFSAdapter wraps embed.FS to implement driver.SchemaFS.
type embedFSAdapter struct {
	fs embed.FS
}

func (e *embedFSAdapter) ReadDir(name string) ([]driver.DirEntry, error) {
	entries, err := e.fs.ReadDir(name)
	if err != nil {
		return nil, err
	}
	result := make([]driver.DirEntry, len(entries))
	for i, entry := range entries {
		result[i] = dirEntryAdapter{entry}
	}
	return result, nil
}

func (e *embedFSAdapter) ReadFile(name string) ([]byte, error) {
	return e.fs.ReadFile(name)
}

type dirEntryAdapter struct {
	fs.DirEntry
}

func (d dirEntryAdapter) Name() string {
	return d.DirEntry.Name()
}

func (d dirEntryAdapter) IsDir() bool {
	return d.DirEntry.IsDir()
}

// DB wraps a database connection with driver abstraction.
type DB struct {
	driver driver.Driver
	dsn    string
}

// Open opens a SQLite database at the given path, creating the parent
// directory if needed.
func Open(path string) (*DB, error) {
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenInMemory opens an in-memory SQLite database. Each call creates a
// new isolated database.
func OpenInMemory() (*DB, error) {
	return OpenWithDialect(":memory:", driver.DialectSQLite)
}

// OpenDatabaseURL opens the backend selected by a database URL:
// postgres:// and postgresql:// go to PostgreSQL, sqlite:// (or a bare
// filesystem path) to SQLite. An empty URL is an error.
func OpenDatabaseURL(url string) (*DB, error) {
	dialect, dsn, err := SplitDatabaseURL(url)
	if err != nil {
		return nil, err
	}
	return OpenWithDialect(dsn, dialect)
}

// SplitDatabaseURL resolves a database URL to (dialect, dsn).
func SplitDatabaseURL(url string) (driver.Dialect, string, error) {
	raw := strings.TrimSpace(url)
	if raw == "" {
		return "", "", fmt.Errorf("database url is empty")
	}
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return driver.DialectPostgres, raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		// sqlite:///abs/path keeps its leading slash after the scheme
		// is trimmed; sqlite://rel/path stays relative.
		return driver.DialectSQLite, strings.TrimPrefix(raw, "sqlite://"), nil
	default:
		return driver.DialectSQLite, raw, nil
	}
}

// OpenWithDialect opens a database with a specific dialect.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*DB, error) {
	if dialect == driver.DialectSQLite && !strings.Contains(dsn, ":memory:") {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}

	return &DB{driver: drv, dsn: dsn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.driver.Close()
}

// DSN returns the database DSN or file path.
func (d *DB) DSN() string {
	return d.dsn
}

// DB returns the underlying sql.DB for advanced operations.
func (d *DB) DB() *sql.DB {
	return d.driver.DB()
}

// Driver returns the underlying driver for dialect-specific operations.
func (d *DB) Driver() driver.Driver {
	return d.driver
}

// Dialect returns the database dialect.
func (d *DB) Dialect() driver.Dialect {
	return d.driver.Dialect()
}

// Migrate applies all pending schema migrations.
func (d *DB) Migrate() error {
	adapter := &embedFSAdapter{fs: schemaFS}
	return d.driver.Migrate(context.Background(), adapter)
}
