// Package archive opens a compiled distribution (a zip container) and
// yields the bytecode units inside it.
//
// A distribution is read-only input owned by the run. Units matching the
// configured patterns (default "classes*.dex" at the archive root) are
// materialized under a caller-owned scratch directory so external tools can
// read them from disk. Units are always returned ordered by name.
//
// Errors:
//   - ErrNotFound: the archive path does not exist
//   - ErrCorruptArchive: the file is not a readable zip, or an entry fails
//     its checksum while extracting
//   - ErrNoUnits: the archive is valid but holds no matching units
//
// All three are fatal for a recovery run; there is nothing to process.
package archive
