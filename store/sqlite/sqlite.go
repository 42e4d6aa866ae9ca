/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  One relational store for everything the engine persists: stock nodes,
  the append-only allocation log, suggestions and the geography the fact
  assembler reads.

INTERFACES IMPLEMENTED:
  stock.Store:          Nodes, allocation records, transactional writes
  suggestion.Store:     Suggestion lifecycle with guarded transitions
  reasoning.Geography:  Provinces, districts, flood history

KEY TABLES:
  stock_nodes:   One row per (resource_type, tier, owner_id), version-checked
  allocations:   Immutable movement log, unique idempotency_key
  suggestions:   Pending/approved/rejected proposals
  provinces, districts, shelters, flood_events: Reference geography

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement touches the allocations table outside Reset.

CONCURRENCY:
  SQLite has a single writer, so the pool is capped at one connection and
  writes additionally go through the store mutex. Node updates carry
  "WHERE version = ?" so a stale read can never overwrite a newer row.
  Suggestion decisions use "WHERE status = 'pending'".

WAL MODE:
  Opened with WAL (Write-Ahead Logging) and foreign keys on.

USAGE:
  store, err := sqlite.New("./data/relief.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := stock.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - stock.go: stock.Store
  - suggestions.go: suggestion.Store
  - regions.go: reasoning.Geography and geography writes
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" is
	// per-connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Stock nodes (mutated only by the ledger, never deleted)
	CREATE TABLE IF NOT EXISTS stock_nodes (
		id TEXT PRIMARY KEY,
		resource_type TEXT NOT NULL,
		tier TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		unit TEXT NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		allocated TEXT NOT NULL,
		status TEXT NOT NULL,
		supply_level INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(resource_type, tier, owner_id)
	);

	CREATE INDEX IF NOT EXISTS idx_stock_nodes_tier_owner
		ON stock_nodes(tier, owner_id);

	-- Allocation records (append-only)
	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		source_tier TEXT,
		source_owner_id TEXT,
		destination_tier TEXT NOT NULL,
		destination_owner_id TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		note TEXT,
		actor_id TEXT,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_reference
		ON allocations(reference_id) WHERE reference_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_allocations_resource
		ON allocations(resource_type);

	-- Suggestions (approval workflow)
	CREATE TABLE IF NOT EXISTS suggestions (
		id TEXT PRIMARY KEY,
		resource_type TEXT NOT NULL,
		province_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		reasoning TEXT NOT NULL,
		matched_rules_json TEXT NOT NULL,
		confidence REAL NOT NULL,
		prediction_json TEXT NOT NULL,
		flags_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		execution_status TEXT NOT NULL DEFAULT '',
		execution_error TEXT NOT NULL DEFAULT '',
		allocation_id TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		decided_by TEXT NOT NULL DEFAULT '',
		decided_at TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_suggestions_status
		ON suggestions(status);
	CREATE INDEX IF NOT EXISTS idx_suggestions_province
		ON suggestions(province_id);

	-- Geography (reference data)
	CREATE TABLE IF NOT EXISTS provinces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS districts (
		id TEXT PRIMARY KEY,
		province_id TEXT NOT NULL REFERENCES provinces(id),
		name TEXT NOT NULL,
		population INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_districts_province
		ON districts(province_id);

	CREATE TABLE IF NOT EXISTS shelters (
		id TEXT PRIMARY KEY,
		district_id TEXT NOT NULL REFERENCES districts(id),
		name TEXT NOT NULL,
		capacity INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS flood_events (
		id TEXT PRIMARY KEY,
		province_id TEXT NOT NULL REFERENCES provinces(id),
		occurred_at TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_flood_events_province_date
		ON flood_events(province_id, occurred_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Children before parents for foreign keys.
	tables := []string{"allocations", "suggestions", "stock_nodes", "shelters", "flood_events", "districts", "provinces"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is fixed width so that stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt decimal %q: %w", s, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
