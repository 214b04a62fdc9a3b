package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// historyDepth is how many past snapshots are retained.
const historyDepth = 20

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS access_state (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		body       TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS access_history (
		seq      INTEGER PRIMARY KEY AUTOINCREMENT,
		body     TEXT NOT NULL,
		saved_at TEXT NOT NULL
	)`,
}

// migrate creates the schema. All DDL uses IF NOT EXISTS.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}
	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}
	return nil
}
