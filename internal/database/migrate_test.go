package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

func TestMigrateNewDB(t *testing.T) {
	db := openTestDB(t)

	version, err := getSchemaVersion(db.conn, db.dialect)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "idem.db")

	db1, err := Open("sqlite", dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	db1.Close()

	db2, err := Open("sqlite", dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()

	version, err := getSchemaVersion(db2.conn, db2.dialect)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestMigratePartiallyAppliedDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "partial.db")

	// Simulate a database that stopped after the first migration.
	raw, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	tx, err := raw.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := migrations[0].Up(tx, sqliteDialect); err != nil {
		t.Fatalf("first migration: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatalf("stamp version: %v", err)
	}
	raw.Close()

	db, err := Open("sqlite", dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	version, _ := getSchemaVersion(db.conn, db.dialect)
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
	if _, err := db.conn.Exec("SELECT COUNT(*) FROM emails"); err != nil {
		t.Errorf("expected emails table after catch-up migration: %v", err)
	}
}

func TestGetSchemaVersionNewDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	version, err := getSchemaVersion(conn, sqliteDialect)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0 on new db, got %d", version)
	}
}

func TestRebindPostgres(t *testing.T) {
	got := postgresDialect.rebind("SELECT * FROM emails WHERE status IN (?, ?) AND id = ?")
	want := "SELECT * FROM emails WHERE status IN ($1, $2) AND id = $3"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if sqliteDialect.rebind("id = ?") != "id = ?" {
		t.Error("expected sqlite query to be unchanged")
	}
}

func TestDDLPrimaryKey(t *testing.T) {
	if got := postgresDialect.ddl("id {{pk}}"); got != "id BIGSERIAL PRIMARY KEY" {
		t.Errorf("unexpected postgres ddl %q", got)
	}
	if got := sqliteDialect.ddl("id {{pk}}"); got != "id INTEGER PRIMARY KEY AUTOINCREMENT" {
		t.Errorf("unexpected sqlite ddl %q", got)
	}
}

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"", "sqlite", "postgres", "pgx"} {
		if _, err := dialectFor(name); err != nil {
			t.Errorf("expected %q to be supported: %v", name, err)
		}
	}
	if _, err := dialectFor("mysql"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
