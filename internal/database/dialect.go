package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

type dialect string

const (
	sqliteDialect   dialect = "sqlite"
	postgresDialect dialect = "postgres"
)

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// rebind rewrites ? placeholders to $N for PostgreSQL.
func (d dialect) rebind(query string) string {
	if d != postgresDialect {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ddl substitutes dialect-specific column types into a schema statement.
func (d dialect) ddl(stmt string) string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d == postgresDialect {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(stmt, "{{pk}}", pk)
}

// schemaVersion reads the applied migration version.
func (d dialect) schemaVersion(conn *sql.DB) (int, error) {
	var version int
	if d == sqliteDialect {
		if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
			return 0, fmt.Errorf("reading schema version: %w", err)
		}
		return version, nil
	}

	if _, err := conn.Exec("CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return 0, fmt.Errorf("creating schema_version: %w", err)
	}
	if err := conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func (d dialect) setSchemaVersion(conn *sql.DB, version int) error {
	if d == sqliteDialect {
		// modernc/sqlite requires this outside the migration transaction.
		_, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
		return err
	}
	_, err := conn.Exec("INSERT INTO schema_version (version) VALUES ($1)", version)
	return err
}
