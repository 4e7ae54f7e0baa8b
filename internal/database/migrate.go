package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// getSchemaVersion reads the applied version for the connection's dialect.
func getSchemaVersion(conn *sql.DB, d dialect) (int, error) {
	return d.schemaVersion(conn)
}

// migrate brings the database schema up to the latest version.
func migrate(conn *sql.DB, d dialect, log zerolog.Logger) error {
	current, err := getSchemaVersion(conn, d)
	if err != nil {
		return err
	}

	latest := latestVersion()
	if current >= latest {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		log.Info().Int("version", m.Version).Str("description", m.Description).Msg("applying migration")

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx, d); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// Safe: if we crash here, the idempotent DDL lets the migration re-run.
		if err := d.setSchemaVersion(conn, m.Version); err != nil {
			return fmt.Errorf("setting version %d: %w", m.Version, err)
		}
	}

	return nil
}

// execDDL runs each statement of a schema script separately; pgx does not
// accept several statements in one prepared Exec.
func execDDL(tx *sql.Tx, d dialect, script string) error {
	for _, stmt := range strings.Split(script, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(d.ddl(stmt)); err != nil {
			return fmt.Errorf("%w\n%s", err, stmt)
		}
	}
	return nil
}
