// Package storage persists scheduled directives and per-guild settings.
//
// Drivers:
//   - "memory": in-process only (tests, dry runs)
//   - "file": JSON snapshot + JSON Lines journal, compacted periodically
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "redis": Redis hash + sorted set keyed by next fire time
package storage
