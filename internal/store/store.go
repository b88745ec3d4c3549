// Package store persists number routing, group routes, payments and daemon
// account state in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"contactbot/internal/domain"

	_ "modernc.org/sqlite"
)

// DefaultIntentTTL is how long a purchase intent holds a number before
// SweepExpired returns it to the available pool.
const DefaultIntentTTL = 15 * time.Minute

// Store implements domain.RoutingStore, domain.GroupRouteStore,
// domain.PaymentStore and domain.AccountStore on one SQLite database.
type Store struct {
	db        *sql.DB
	logger    *slog.Logger
	intentTTL time.Duration
	now       func() time.Time
}

var (
	_ domain.RoutingStore    = (*Store)(nil)
	_ domain.GroupRouteStore = (*Store)(nil)
	_ domain.PaymentStore    = (*Store)(nil)
	_ domain.AccountStore    = (*Store)(nil)
)

// Open opens (creating if needed) the database at dbPath and applies
// pending migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &Store{db: db, logger: logger, intentTTL: DefaultIntentTTL, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetIntentTTL changes how long purchase intents survive before
// SweepExpired returns them to the pool.
func (s *Store) SetIntentTTL(d time.Duration) {
	if d > 0 {
		s.intentTTL = d
	}
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion() (int, error) {
	return SchemaVersion(s.db)
}
