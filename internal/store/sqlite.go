// Package store implements core.FilesCache, core.ObjectCache, and
// core.SnapshotRegistry against a local SQLite database, following the
// teacher's database/sql-plus-mattn/go-sqlite3 idiom. Query methods are
// hand-written rather than sqlc-generated: this exercise never invokes a
// code generator, so the typed row/params shape sqlc would have produced is
// written out directly instead.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"dagback/internal/core"
	"dagback/internal/store/migrations"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting query methods run
// unchanged whether or not they are inside a WithTx block.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store bundles the three cache interfaces over one SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and brings
// its schema up to date. path may be ":memory:" for an ephemeral store used
// in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enabling foreign keys: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// FilesCache returns the core.FilesCache view over this store.
func (s *Store) FilesCache() core.FilesCache {
	return &filesCache{q: s.db}
}

// ObjectCache returns the core.ObjectCache view over this store.
func (s *Store) ObjectCache() core.ObjectCache {
	return &objectCache{q: s.db}
}

// SnapshotRegistry returns the core.SnapshotRegistry view over this store.
func (s *Store) SnapshotRegistry() core.SnapshotRegistry {
	return &snapshotRegistry{q: s.db}
}

func oidBytes(oid core.OID) []byte {
	b := make([]byte, len(oid))
	copy(b, oid[:])
	return b
}

func oidFromBytes(b []byte) (core.OID, error) {
	var oid core.OID
	if len(b) != len(oid) {
		return oid, fmt.Errorf("store: malformed oid of length %d", len(b))
	}
	copy(oid[:], b)
	return oid, nil
}
