package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mpython77/instaapi-sub001/internal/session"
)

// FileName is the database file created inside the data directory.
const FileName = "instaapi.db"

// SnapshotDB provides SQLite-based storage for session snapshots and the
// attempt history.
type SnapshotDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures SnapshotDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a SnapshotDB in dbDir.
func Open(dbDir string, opts Options) (*SnapshotDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	sdb := &SnapshotDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := sdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return sdb, nil
}

// Path returns the database file path.
func (sdb *SnapshotDB) Path() string {
	return sdb.dbPath
}

// Close closes the database connection.
func (sdb *SnapshotDB) Close() error {
	return sdb.db.Close()
}

func (sdb *SnapshotDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_snapshots (
		account_id TEXT PRIMARY KEY,
		snapshot_json TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		category TEXT NOT NULL,
		account_id TEXT,
		proxy TEXT,
		attempt INTEGER NOT NULL,
		status_code INTEGER,
		kind TEXT,
		latency_ms INTEGER,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON attempts(timestamp);
	CREATE INDEX IF NOT EXISTS idx_attempts_category ON attempts(category);
	`
	_, err := sdb.db.ExecContext(context.Background(), schema)
	return err
}

// Save implements session.SnapshotStore. An existing snapshot for the
// account is overwritten.
func (sdb *SnapshotDB) Save(ctx context.Context, snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	query := `
	INSERT INTO session_snapshots (account_id, snapshot_json, saved_at)
	VALUES (?, ?, ?)
	ON CONFLICT(account_id) DO UPDATE SET
		snapshot_json = excluded.snapshot_json,
		saved_at = excluded.saved_at
	`
	if _, err := sdb.db.ExecContext(ctx, query, snap.AccountID, string(data), snap.SavedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load implements session.SnapshotStore.
func (sdb *SnapshotDB) Load(ctx context.Context, accountID string) (session.Snapshot, error) {
	var data string
	err := sdb.db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM session_snapshots WHERE account_id = ?`, accountID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Snapshot{}, session.ErrSnapshotNotFound
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return snap, nil
}

// Attempt is one recorded transport attempt.
type Attempt struct {
	ID         int64
	RequestID  string
	Category   string
	AccountID  string
	Proxy      string
	Attempt    int
	StatusCode int
	// Kind is the classified failure kind, empty on success.
	Kind      string
	Latency   time.Duration
	Timestamp time.Time
}

// RecordAttempt appends one attempt to the history.
func (sdb *SnapshotDB) RecordAttempt(ctx context.Context, a *Attempt) error {
	query := `
	INSERT INTO attempts (request_id, category, account_id, proxy, attempt, status_code, kind, latency_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := sdb.db.ExecContext(ctx, query,
		a.RequestID,
		a.Category,
		a.AccountID,
		a.Proxy,
		a.Attempt,
		a.StatusCode,
		a.Kind,
		a.Latency.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// RecentAttempts returns attempts made within the given duration, newest
// first, at most limit rows (no limit when limit <= 0).
func (sdb *SnapshotDB) RecentAttempts(ctx context.Context, within time.Duration, limit int) ([]Attempt, error) {
	query := `
	SELECT id, request_id, category, COALESCE(account_id, ''), COALESCE(proxy, ''),
		attempt, COALESCE(status_code, 0), COALESCE(kind, ''), COALESCE(latency_ms, 0), timestamp
	FROM attempts
	WHERE timestamp > datetime('now', ?)
	ORDER BY id DESC
	`
	args := []any{fmt.Sprintf("-%d seconds", int(within.Seconds()))}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := sdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var results []Attempt
	for rows.Next() {
		var a Attempt
		var latencyMS int64
		var timestamp string
		if err := rows.Scan(
			&a.ID,
			&a.RequestID,
			&a.Category,
			&a.AccountID,
			&a.Proxy,
			&a.Attempt,
			&a.StatusCode,
			&a.Kind,
			&latencyMS,
			&timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Latency = time.Duration(latencyMS) * time.Millisecond
		a.Timestamp = parseTimestamp(timestamp)
		results = append(results, a)
	}
	return results, rows.Err()
}

// KindCounts summarizes recent attempts by failure kind ("ok" for
// successes).
func (sdb *SnapshotDB) KindCounts(ctx context.Context, within time.Duration) (map[string]int, error) {
	query := `
	SELECT CASE WHEN COALESCE(kind, '') = '' THEN 'ok' ELSE kind END AS k, COUNT(*)
	FROM attempts
	WHERE timestamp > datetime('now', ?)
	GROUP BY k
	`
	rows, err := sdb.db.QueryContext(ctx, query, fmt.Sprintf("-%d seconds", int(within.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan attempt count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999",
}

// parseTimestamp tries each known format and returns the zero time when
// none match.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
