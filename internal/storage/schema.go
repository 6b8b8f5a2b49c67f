package storage

import (
	"fmt"
	"time"
)

// currentSchemaVersion is the newest migration. Bump it and add a migration
// step when the schema changes.
const currentSchemaVersion = 2

// migrations run in order; migrations[i] upgrades to version i+1.
var migrations = []struct {
	name string
	ddl  string
}{
	{
		name: "file_audit",
		ddl: `
			CREATE TABLE IF NOT EXISTS file_audit (
				id TEXT PRIMARY KEY,
				request_id TEXT NOT NULL DEFAULT '',
				action TEXT NOT NULL,
				path TEXT NOT NULL,
				ok INTEGER NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_file_audit_at ON file_audit(at);
		`,
	},
	{
		name: "panel_tokens",
		ddl: `
			CREATE TABLE IF NOT EXISTS panel_tokens (
				id TEXT PRIMARY KEY,
				token_hash TEXT NOT NULL,
				player_uuid TEXT NOT NULL,
				player_name TEXT NOT NULL DEFAULT '',
				issued_at TEXT NOT NULL,
				expires_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_panel_tokens_expires ON panel_tokens(expires_at);
		`,
	},
}

// initSchema creates the version table and applies pending migrations. It is
// idempotent.
func (s *SQLiteStore) initSchema() error {
	const versionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(versionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		if err := s.migrate(i+1, migrations[i].ddl); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", i+1, migrations[i].name, err)
		}
	}
	return nil
}

// migrate applies ddl and records the version in one transaction.
func (s *SQLiteStore) migrate(version int, ddl string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(ddl); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("check schema version: %w", err)
	}
	return version, nil
}
