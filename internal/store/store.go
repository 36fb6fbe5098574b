package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// connPragmas configure the connection before the schema is applied.
// foreign_keys must be on for pairing_changes to reject unknown ids.
const connPragmas = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 5000;
PRAGMA foreign_keys = ON;
`

// migrations[i] upgrades a database at user_version i to i+1. schema.sql
// only ever creates the version 0 layout.
var migrations = []string{
	// 1: per-taggable history lookups.
	`CREATE INDEX IF NOT EXISTS idx_pairing_changes_taggable ON pairing_changes(taggable_id)`,
}

// ErrAttached is returned when Handle is called more than once.
var ErrAttached = errors.New("store: connection already attached to a handle")

// Store owns the SQLite database and its single dedicated connection.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	conn *sql.Conn
}

// Open opens or creates the database at path and brings its schema up to
// date. path may be ":memory:".
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// The Handle pins the only connection; the pool never opens a second one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := setup(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

func setup(db *sql.DB) error {
	if _, err := db.Exec(connPragmas); err != nil {
		return fmt.Errorf("pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for ; version < len(migrations); version++ {
		if _, err := db.Exec(migrations[version]); err != nil {
			return fmt.Errorf("migrate to v%d: %w", version+1, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version+1)); err != nil {
			return fmt.Errorf("set user_version %d: %w", version+1, err)
		}
	}
	return nil
}

// Handle pins the store's connection and returns the root Handle bundling
// it with fresh mutexes and engine. It may be called once per Store; every
// caller must derive from the returned Handle. A nil engine yields a
// relational-only Handle.
func (s *Store) Handle(ctx context.Context, engine TagEngine) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return Handle{}, ErrAttached
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return Handle{}, fmt.Errorf("pin connection: %w", err)
	}
	s.conn = conn
	return NewHandle(conn, engine), nil
}

// Close releases the pinned connection and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	var connErr error
	if conn != nil {
		connErr = conn.Close()
	}
	return errors.Join(connErr, s.db.Close())
}
