// Package storage provides the persistence layer behind the recurrence and
// reminder engine.
//
// It currently supports:
//   - SQLite (modernc.org/sqlite, WAL) for normal operation
//   - An in-memory store for tests and throwaway runs
//
// The sqlite schema enforces UNIQUE(series_id, date) on instances; the
// expander's "skip if already exists" check is best-effort only, so the
// constraint is what makes overlapping expansion runs safe.
package storage
