package db

import (
	"database/sql"
	"testing"
)

func TestNewSQLiteDBCreatesSchema(t *testing.T) {
	database, err := NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer database.Close()

	for _, table := range []string{"turns", "tasks", "events", "schema_meta"} {
		var name string
		err := database.Conn().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	var version string
	if err := database.Conn().QueryRow(`SELECT value FROM schema_meta WHERE key='schema_version'`).Scan(&version); err != nil {
		t.Fatalf("schema version missing: %v", err)
	}
	if version != "2" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestNewSQLiteDBReopensExistingFile(t *testing.T) {
	dir := t.TempDir()

	first, err := NewSQLiteDB(dir)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if _, err := first.Conn().Exec(`INSERT INTO tasks (id, user_id, title, status, created_at, updated_at) VALUES ('t1','u1','keep','open',1,1)`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	second, err := NewSQLiteDB(dir)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer second.Close()

	var title string
	if err := second.Conn().QueryRow(`SELECT title FROM tasks WHERE id='t1'`).Scan(&title); err != nil {
		t.Fatalf("row lost across reopen: %v", err)
	}
	if title != "keep" {
		t.Fatalf("unexpected title: %s", title)
	}
}

func TestNewSQLiteDBMigratesFromVersionOne(t *testing.T) {
	dir := t.TempDir()

	database, err := NewSQLiteDB(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	// rewind to version 1 and drop the events table to simulate an old file
	if _, err := database.Conn().Exec(`DROP TABLE events`); err != nil {
		t.Fatalf("drop failed: %v", err)
	}
	if _, err := database.Conn().Exec(`UPDATE schema_meta SET value='1' WHERE key='schema_version'`); err != nil {
		t.Fatalf("rewind failed: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	migrated, err := NewSQLiteDB(dir)
	if err != nil {
		t.Fatalf("migration open failed: %v", err)
	}
	defer migrated.Close()

	var name string
	if err := migrated.Conn().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='events'`).Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			t.Fatal("events table not recreated by migration")
		}
		t.Fatalf("query failed: %v", err)
	}
}

func TestNewSQLiteDBRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()

	database, err := NewSQLiteDB(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := database.Conn().Exec(`UPDATE schema_meta SET value='99' WHERE key='schema_version'`); err != nil {
		t.Fatalf("bump failed: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if _, err := NewSQLiteDB(dir); err == nil {
		t.Fatal("expected error for newer schema version")
	}
}
