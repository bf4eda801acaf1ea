// Package store persists normalized uplinks and meter readings in SQLite.
//
// Two tables back the store. uplinks holds one row per logical delivery,
// keyed by (dev_eui, deduplication_id). readings holds one row per parsed
// meter observation, keyed by (dev_eui, at). Both writes are atomic upserts
// where the newest delivery wins, so redelivered documents never produce
// duplicate rows and never raise errors.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
)

var (
	// ErrNotFound is returned when a latest-row lookup finds nothing.
	ErrNotFound = errors.New("not found")
	// ErrNoDeviceIdentity is returned for uplinks without a Dev EUI.
	ErrNoDeviceIdentity = errors.New("no device identity")
	// ErrInvalidScope is returned for a deletion scope other than readings, uplinks or both.
	ErrInvalidScope = errors.New("invalid scope")
)

const busyTimeoutMillis = 5000

// Store is the SQLite-backed ingestion store. It is safe for concurrent use;
// SQLite's native upsert serializes writes to the same key.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema. Use ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// dsn applies per-connection pragmas through modernc's _pragma parameters so
// every pooled connection gets them, not just the first.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMillis))
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
		// Writers take the lock at BEGIN so concurrent transactions queue on
		// busy_timeout instead of failing on a read-to-write upgrade.
		q.Set("_txlock", "immediate")
	}
	return path + "?" + q.Encode()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness reports whether the database answers.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	return nil
}

// DB exposes the handle for maintenance tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Range is a closed interval of canonical timestamps. An empty bound is open.
type Range struct {
	From string
	To   string
}

// where appends the bound conditions for column to a query.
func (r Range) where(column string, args []any) (string, []any) {
	var b strings.Builder
	if r.From != "" {
		b.WriteString(" AND " + column + " >= ?")
		args = append(args, domain.CanonicalTime(r.From))
	}
	if r.To != "" {
		b.WriteString(" AND " + column + " <= ?")
		args = append(args, domain.CanonicalTime(r.To))
	}
	return b.String(), args
}

// Scope selects which tables a deletion touches.
type Scope string

const (
	ScopeReadings Scope = "readings"
	ScopeUplinks  Scope = "uplinks"
	ScopeBoth     Scope = "both"
)

// ParseScope validates a scope name. An empty name means ScopeBoth.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeBoth:
		return ScopeBoth, nil
	case ScopeReadings:
		return ScopeReadings, nil
	case ScopeUplinks:
		return ScopeUplinks, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

func (s Scope) tables() []string {
	switch s {
	case ScopeReadings:
		return []string{"readings"}
	case ScopeUplinks:
		return []string{"uplinks"}
	default:
		return []string{"readings", "uplinks"}
	}
}

// querier is the subset of *sql.DB and *sql.Tx the write paths need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
