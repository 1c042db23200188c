/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements leads.Store (and through it credit.Store) using SQLite via
  database/sql. The same statements work on PostgreSQL with minor dialect
  changes.

INTERFACES IMPLEMENTED:
  credit.Store:          Append-only ledger + cached balance
  leads.CandidateSource: Service-area lookup
  leads.Store:           Leads, contractors, assignments, reviews

CONDITIONAL UPDATES:
  Every transition is one UPDATE whose WHERE clause names the expected
  prior state. RowsAffected() == 0 means another caller won the race (or
  the row is in some other state); the method reports false and nothing
  changes.

APPEND-ONLY ENFORCEMENT:
  ledger_entries has triggers that abort any UPDATE or DELETE. The cached
  contractors.credit_balance is only moved by ApplyEntry, inside the same
  transaction as the entry insert, and a CHECK keeps it non-negative.

KEY TABLES:
  leads:                    Immutable customer requests
  lead_flags:               Monitoring flags, one row per (lead, flag)
  contractors:              Providers with cached balance and rating
  contractor_service_areas: state + city and/or county per contractor
  assignments:              UNIQUE(lead_id, contractor_id)
  ledger_entries:           UNIQUE(idempotency_key)
  reviews:                  UNIQUE(assignment_id)

TRANSACTIONS:
  WithTx binds a Store to one *sql.Tx. WithTx on a bound Store opens a
  SAVEPOINT, so a failed inner unit (one debit, one assignment) rolls back
  alone while the outer transaction carries on.

CONCURRENCY:
  The pool is limited to one connection. SQLite serializes writers anyway,
  and a single connection keeps ":memory:" databases shared across calls.

TIMESTAMPS:
  Stored as fixed-width UTC RFC 3339 text so that string comparison in SQL
  matches time order.

USAGE:
  store, err := sqlite.New("./data/leads.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := leads.NewEngine(store, dispatcher)

SEE ALSO:
  - leads/store.go: Interface definitions
  - credit/store.go: Ledger persistence contract
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/leadflow/lead-engine/leads"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements leads.Store using SQLite.
type Store struct {
	db    *sql.DB
	q     querier
	tx    *sql.Tx // set when bound to a transaction
	depth int     // savepoint nesting
}

var _ leads.Store = (*Store)(nil)

// New opens (and migrates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		customer_name TEXT NOT NULL,
		customer_email TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL COLLATE NOCASE,
		city TEXT NOT NULL COLLATE NOCASE,
		county TEXT NOT NULL DEFAULT '' COLLATE NOCASE,
		postal_code TEXT NOT NULL DEFAULT '',
		project_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		budget TEXT NOT NULL DEFAULT '',
		timeline TEXT NOT NULL DEFAULT '',
		quote_preference TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lead_flags (
		lead_id TEXT NOT NULL REFERENCES leads(id),
		flag TEXT NOT NULL,
		flagged_at TEXT NOT NULL,
		PRIMARY KEY (lead_id, flag)
	);

	CREATE TABLE IF NOT EXISTS contractors (
		id TEXT PRIMARY KEY,
		business_name TEXT NOT NULL,
		contact_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		approval TEXT NOT NULL,
		credit_balance INTEGER NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
		delivery TEXT NOT NULL,
		rating TEXT NOT NULL DEFAULT '0',
		review_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contractor_service_areas (
		contractor_id TEXT NOT NULL REFERENCES contractors(id),
		state TEXT NOT NULL COLLATE NOCASE,
		city TEXT NOT NULL DEFAULT '' COLLATE NOCASE,
		county TEXT NOT NULL DEFAULT '' COLLATE NOCASE,
		UNIQUE (contractor_id, state, city, county)
	);

	CREATE INDEX IF NOT EXISTS idx_service_areas_city
		ON contractor_service_areas(state, city);
	CREATE INDEX IF NOT EXISTS idx_service_areas_county
		ON contractor_service_areas(state, county);

	-- CRITICAL: one assignment per (lead, contractor), ever
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		lead_id TEXT NOT NULL REFERENCES leads(id),
		contractor_id TEXT NOT NULL REFERENCES contractors(id),
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		responded_at TEXT,
		quote_amount TEXT,
		quote_notes TEXT NOT NULL DEFAULT '',
		project_completed_at TEXT,
		reminder_sent_at TEXT,
		followup_sent_at TEXT,
		review_requested_at TEXT,
		UNIQUE (lead_id, contractor_id)
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_status_created
		ON assignments(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_assignments_status_responded
		ON assignments(status, responded_at);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		contractor_id TEXT NOT NULL REFERENCES contractors(id),
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL,
		reference_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_contractor
		ON ledger_entries(contractor_id);

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
		BEFORE UPDATE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END;

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
		BEFORE DELETE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END;

	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		contractor_id TEXT NOT NULL REFERENCES contractors(id),
		assignment_id TEXT NOT NULL UNIQUE REFERENCES assignments(id),
		rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
		verified INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_contractor
		ON reviews(contractor_id);
	`
	_, err := s.q.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a Store bound to one transaction. Nested calls use
// savepoints.
func (s *Store) WithTx(ctx context.Context, fn func(leads.Store) error) error {
	if s.tx != nil {
		return s.withSavepoint(ctx, fn)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) withSavepoint(ctx context.Context, fn func(leads.Store) error) error {
	name := fmt.Sprintf("sp_%d", s.depth+1)
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	inner := &Store{db: s.db, q: s.tx, tx: s.tx, depth: s.depth + 1}
	if err := fn(inner); err != nil {
		if _, rbErr := s.tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		s.tx.ExecContext(ctx, "RELEASE "+name)
		return err
	}
	_, err := s.tx.ExecContext(ctx, "RELEASE "+name)
	return err
}

// atomic runs fn in a transaction (or savepoint) and returns the bound store.
func (s *Store) atomic(ctx context.Context, fn func(*Store) error) error {
	return s.WithTx(ctx, func(ls leads.Store) error {
		return fn(ls.(*Store))
	})
}

// Reset deletes all data. Used by demo scenarios and tests. The ledger
// triggers are dropped and recreated around the wipe.
func (s *Store) Reset(ctx context.Context) error {
	return s.atomic(ctx, func(tx *Store) error {
		stmts := []string{
			"DROP TRIGGER IF EXISTS ledger_entries_no_delete",
			"DELETE FROM reviews",
			"DELETE FROM ledger_entries",
			"DELETE FROM assignments",
			"DELETE FROM lead_flags",
			"DELETE FROM leads",
			"DELETE FROM contractor_service_areas",
			"DELETE FROM contractors",
		}
		for _, stmt := range stmts {
			if _, err := tx.q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
		}
		return tx.migrate(ctx)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// changed reports whether an UPDATE touched a row.
func changed(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
