package db

import (
	"path/filepath"
	"testing"

	"github.com/hangw/agentcheck/internal/db/driver"
)

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agentcheck.db")

	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer database.Close()

	if database.DSN() != dbPath {
		t.Errorf("DSN() = %q, want %q", database.DSN(), dbPath)
	}
	if database.Dialect() != driver.DialectSQLite {
		t.Errorf("Dialect() = %q, want %q", database.Dialect(), driver.DialectSQLite)
	}

	var journalMode string
	if err := database.DB().QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}
}

func TestOpen_CreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "agentcheck.db")

	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	database.Close()
}

func TestOpenInMemory(t *testing.T) {
	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
}

func TestMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agentcheck.db")

	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	// Verify core tables exist
	tables := []string{"tasks", "task_events", "task_event_counters"}
	for _, table := range tables {
		var name string
		err := database.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	// Run again - should be idempotent
	if err := database.Migrate(); err != nil {
		t.Fatalf("Second Migrate failed: %v", err)
	}
}

func TestOpenDatabaseURL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agentcheck.db")

	database, err := OpenDatabaseURL("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("OpenDatabaseURL failed: %v", err)
	}
	defer database.Close()

	if database.DSN() != dbPath {
		t.Errorf("DSN() = %q, want %q", database.DSN(), dbPath)
	}
}

func TestOpenDatabaseURL_Empty(t *testing.T) {
	if _, err := OpenDatabaseURL("  "); err == nil {
		t.Fatal("expected error for empty database url")
	}
}
