package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ledgerVersion is stamped into PRAGMA user_version. Bump it with any
// schema.sql change older binaries cannot read.
const ledgerVersion = 1

// ErrLedgerTooNew is returned when a ledger was written by a newer srcrecover.
var ErrLedgerTooNew = errors.New("store: ledger written by a newer version")

// Store is the run ledger.
type Store struct {
	db *sql.DB
}

// ledgerPragmas are applied on every open.
var ledgerPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Open creates or opens the ledger at path. Opening an existing ledger is
// a no-op apart from the pragmas.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger %s: %w", path, err)
	}

	// Runs are written in a single transaction; one connection is enough
	// and keeps SQLite from returning SQLITE_BUSY to ourselves.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func prepare(db *sql.DB) error {
	for _, pragma := range ledgerPragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read ledger version: %w", err)
	}
	if version > ledgerVersion {
		return fmt.Errorf("%w: version %d, this build reads %d", ErrLedgerTooNew, version, ledgerVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	if version < ledgerVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", ledgerVersion)); err != nil {
			return fmt.Errorf("stamp ledger version: %w", err)
		}
	}
	return nil
}
