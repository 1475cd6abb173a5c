package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a run id is not in the ledger.
var ErrRunNotFound = errors.New("store: run not found")

// ListRuns returns up to limit runs, most recent (highest seq) first.
// A limit of zero or less returns every run.
//
// The Report field is left empty; use RunReport for it.
// Returns an empty slice (not nil) if the ledger is empty.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, archive, dest, status, total, succeeded, failed, started_at, finished_at
		FROM runs
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var r RunRecord
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Seq, &r.Archive, &r.Dest, &r.Status,
			&r.Total, &r.Succeeded, &r.Failed, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("run %s: started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("run %s: finished_at: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// RunReport returns the stored JSON report of a run.
func (s *Store) RunReport(ctx context.Context, runID string) ([]byte, error) {
	var report string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, runID).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	return []byte(report), nil
}

// RunUnits returns the units of a run in unit order.
func (s *Store) RunUnits(ctx context.Context, runID string) ([]UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, idx, name, size, digest, outcome, winner, reason, header_valid, header_version
		FROM units
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	units := []UnitRecord{}
	for rows.Next() {
		var u UnitRecord
		var valid int
		if err := rows.Scan(&u.RunID, &u.Index, &u.Name, &u.Size, &u.Digest, &u.Outcome,
			&u.Winner, &u.Reason, &valid, &u.HeaderVersion); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		u.HeaderValid = valid != 0
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return units, nil
}

// RunAttempts returns every attempt of a run ordered by unit, then try order.
func (s *Store) RunAttempts(ctx context.Context, runID string) ([]AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, unit_idx, seq, strategy, outcome, evidence, duration_ms
		FROM attempts
		WHERE run_id = ?
		ORDER BY unit_idx ASC, seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []AttemptRecord{}
	for rows.Next() {
		var a AttemptRecord
		var ms int64
		if err := rows.Scan(&a.RunID, &a.UnitIndex, &a.Seq, &a.Strategy, &a.Outcome, &a.Evidence, &ms); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Duration = time.Duration(ms) * time.Millisecond
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// RunFetches returns the mirror requests of a run in request order.
func (s *Store) RunFetches(ctx context.Context, runID string) ([]FetchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, capability, url, succeeded, status_code, error, duration_ms, at
		FROM fetches
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query fetches: %w", err)
	}
	defer rows.Close()

	fetches := []FetchRecord{}
	for rows.Next() {
		var f FetchRecord
		var ok int
		var ms int64
		var at string
		if err := rows.Scan(&f.RunID, &f.Seq, &f.Capability, &f.URL, &ok, &f.StatusCode, &f.Error, &ms, &at); err != nil {
			return nil, fmt.Errorf("scan fetch: %w", err)
		}
		f.Succeeded = ok != 0
		f.Duration = time.Duration(ms) * time.Millisecond
		if f.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("fetch %d: at: %w", f.Seq, err)
		}
		fetches = append(fetches, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetches: %w", err)
	}
	return fetches, nil
}

// UnitHistory returns every recorded unit with the given digest, oldest run
// first.
func (s *Store) UnitHistory(ctx context.Context, digest string) ([]UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.run_id, u.idx, u.name, u.size, u.digest, u.outcome, u.winner, u.reason, u.header_valid, u.header_version
		FROM units u
		JOIN runs r ON r.id = u.run_id
		WHERE u.digest = ?
		ORDER BY r.seq ASC, u.idx ASC
	`, digest)
	if err != nil {
		return nil, fmt.Errorf("query unit history: %w", err)
	}
	defer rows.Close()

	units := []UnitRecord{}
	for rows.Next() {
		var u UnitRecord
		var valid int
		if err := rows.Scan(&u.RunID, &u.Index, &u.Name, &u.Size, &u.Digest, &u.Outcome,
			&u.Winner, &u.Reason, &valid, &u.HeaderVersion); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		u.HeaderValid = valid != 0
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit history: %w", err)
	}
	return units, nil
}
