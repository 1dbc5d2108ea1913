package store

import (
	"database/sql"
	"fmt"

	"codeforge/internal/logging"
)

// Schema versions:
// v1: initial schema (projects, sessions, snapshots, chunks, knowledge,
//     git_commits, execution_log, cache)
// v2: chunks.degraded column for hash-fallback embeddings
const CurrentSchemaVersion = 2

// Migration adds a column to an existing table when upgrading a
// database created before the column existed.
type Migration struct {
	Version int
	Table   string
	Column  string
	Def     string
}

var pendingMigrations = []Migration{
	{2, "chunks", "degraded", "INTEGER DEFAULT 0"},
}

// RunMigrations applies schema migrations and records the resulting
// version in schema_version.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current := 0
	_ = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current)

	applied := 0
	for _, m := range pendingMigrations {
		if m.Version <= current {
			continue
		}
		if !columnExists(db, m.Table, m.Column) {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("migration v%d (%s.%s) failed: %w", m.Version, m.Table, m.Column, err)
			}
		}
		applied++
	}

	if current < CurrentSchemaVersion {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", CurrentSchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}

	logging.StoreDebug("migrations complete: from=v%d to=v%d applied=%d", current, CurrentSchemaVersion, applied)
	return nil
}

// columnExists checks whether a table already has a column.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
