// Package store is the SQLite run ledger for srcrecover.
//
// Each recovery run is recorded once, in one transaction:
//   - runs: one row per run with its summary and the full JSON report
//   - units: terminal outcome per binary unit
//   - attempts: every strategy attempt per unit, in try order
//   - fetches: every mirror request the tool resolver made
//
// # Ordering
//
// Runs carry a logical seq assigned at write time; children are keyed by
// their index within the run. Queries order by those keys, never by
// timestamps, so listings are identical across machines and clock skew.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The store holds plain record types and does not import the packages that
// produce them; callers map their results onto records.
package store
