package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"runs", "units", "attempts", "fetches"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/ledger.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"}, // ON
	}
	for _, tt := range tests {
		var got string
		if err := s.db.QueryRow("PRAGMA " + tt.name).Scan(&got); err != nil {
			t.Fatalf("query %s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// Schema tests

func TestSchema_Columns(t *testing.T) {
	s := createTestStore(t)

	want := map[string][]string{
		"runs":     {"id", "seq", "archive", "dest", "status", "total", "succeeded", "failed", "started_at", "finished_at", "report"},
		"units":    {"run_id", "idx", "name", "size", "digest", "outcome", "winner", "reason", "header_valid", "header_version"},
		"attempts": {"run_id", "unit_idx", "seq", "strategy", "outcome", "evidence", "duration_ms"},
		"fetches":  {"run_id", "seq", "capability", "url", "succeeded", "status_code", "error", "duration_ms", "at"},
	}
	for table, columns := range want {
		got := getTableColumns(t, s.db, table)
		for _, col := range columns {
			if !contains(got, col) {
				t.Errorf("%s missing column %q (have %v)", table, col, got)
			}
		}
	}
}

func TestConstraint_RunStatus(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO runs (id, seq, archive, status, total, succeeded, failed, started_at, finished_at, report)
		VALUES ('r1', 1, 'app.apk', 'exploded', 0, 0, 0, '', '', '{}')
	`)
	if err == nil {
		t.Error("expected CHECK constraint failure for unknown status")
	}
}

func TestConstraint_UnitRequiresRun(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO units (run_id, idx, name, size, digest, outcome)
		VALUES ('missing', 0, 'classes.dex', 1, 'd', 'success')
	`)
	if err == nil {
		t.Error("expected foreign key failure for unit without run")
	}
}

// Version tests

func TestOpen_StampsLedgerVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != ledgerVersion {
		t.Errorf("user_version = %d, want %d", version, ledgerVersion)
	}
}

func TestOpen_RejectsNewerLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", ledgerVersion+1)); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	_, err = Open(path)
	if !errors.Is(err, ErrLedgerTooNew) {
		t.Fatalf("Open() err = %v, want ErrLedgerTooNew", err)
	}
}

func TestSchema_DigestIndex(t *testing.T) {
	s := createTestStore(t)

	if indexes := getTableIndexes(t, s.db, "units"); !contains(indexes, "idx_units_digest") {
		t.Errorf("expected idx_units_digest, got %v", indexes)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
