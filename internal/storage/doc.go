// Package storage persists run history: one record per finished task.
//
// Drivers:
//   - "file": append-only JSON Lines, compacted to the retention limit
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Schedules themselves are never stored; chains are rebuilt from config on
// every start.
package storage
