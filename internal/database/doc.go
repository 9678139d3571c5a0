// Package database provides SQLite-based storage for instaapi.
//
// SnapshotDB stores:
//   - Session snapshots, one row per account, overwritten on save
//   - Attempt history: one row per transport attempt the executor made
//
// The driver is modernc.org/sqlite, so no cgo is required.
package database
