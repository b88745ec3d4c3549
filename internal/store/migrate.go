package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 3

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order, each exactly once, tracked in the
// schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: routing, payments, user_payments",
		SQL: `
		CREATE TABLE IF NOT EXISTS routing (
			id          TEXT PRIMARY KEY,
			destination TEXT,
			status      TEXT NOT NULL DEFAULT 'available',
			intent_at   DATETIME,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_routing_destination ON routing(destination);
		CREATE INDEX IF NOT EXISTS idx_routing_status ON routing(status);

		CREATE TABLE IF NOT EXISTS payments (
			transaction_log_id    TEXT PRIMARY KEY,
			account_id            TEXT NOT NULL,
			value_pmob            INTEGER NOT NULL,
			finalized_block_index INTEGER NOT NULL DEFAULT 0,
			created_at            DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_payments_value ON payments(value_pmob);

		CREATE TABLE IF NOT EXISTS user_payments (
			user               TEXT PRIMARY KEY,
			transaction_log_id TEXT NOT NULL UNIQUE,
			paid_at            DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		`,
	},
	{
		Version:     2,
		Description: "v2: group_routes",
		SQL: `
		CREATE TABLE IF NOT EXISTS group_routes (
			group_id   TEXT PRIMARY KEY,
			their      TEXT NOT NULL,
			our        TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_group_routes_pair ON group_routes(their, our);
		`,
	},
	{
		Version:     3,
		Description: "v3: accounts",
		SQL: `
		CREATE TABLE IF NOT EXISTS accounts (
			identity   TEXT PRIMARY KEY,
			datastore  BLOB,
			checksum   TEXT NOT NULL DEFAULT '',
			in_use     INTEGER NOT NULL DEFAULT 0,
			owner      TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, or 0 for a fresh
// database.
func SchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
