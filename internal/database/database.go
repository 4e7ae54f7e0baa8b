package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const timestampLayout = "2006-01-02 15:04:05"

// querier is satisfied by both *sql.DB and *sql.Tx so repository methods
// run unchanged inside WithTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a SQLite or PostgreSQL connection.
type DB struct {
	conn    *sql.DB
	q       querier
	inTx    bool
	dialect dialect
	path    string
	now     func() time.Time
}

// Open opens the database for the given driver ("sqlite" or "postgres")
// and brings the schema up to date.
func Open(driver, dsn string, log zerolog.Logger) (*DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	var conn *sql.DB
	switch d {
	case sqliteDialect:
		conn, err = openSQLite(dsn)
	case postgresDialect:
		conn, err = openPostgres(dsn)
	}
	if err != nil {
		return nil, err
	}

	if err := migrate(conn, d, log); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, q: conn, dialect: d, path: dsn, now: time.Now}, nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	// foreign_keys is per connection.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)
	return conn, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Path returns the database file path or DSN.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the dialect name.
func (db *DB) Driver() string {
	return string(db.dialect)
}

// SetClock replaces the clock used for timestamps and "today".
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// Now returns the current time from the database clock.
func (db *DB) Now() time.Time {
	return db.now()
}

// Today returns the clock's current date as YYYY-MM-DD.
func (db *DB) Today() string {
	return db.now().Format(dateLayout)
}

func (db *DB) timestamp() string {
	return FormatTimestamp(db.now())
}

// FormatTimestamp renders t in the stored timestamp format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// WithTx runs fn inside a transaction. The *DB handed to fn routes every
// repository call through the transaction. Nested calls reuse the outer one.
func (db *DB) WithTx(ctx context.Context, fn func(tx *DB) error) error {
	if db.inTx {
		return fn(db)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txDB := &DB{conn: db.conn, q: tx, inTx: true, dialect: db.dialect, path: db.path, now: db.now}
	if err := fn(txDB); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.q.ExecContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.q.QueryContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.q.QueryRowContext(ctx, db.dialect.rebind(query), args...)
}

// insert runs an INSERT and returns the new row id. Both dialects support
// RETURNING, which pgx needs since it has no LastInsertId.
func (db *DB) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := db.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
