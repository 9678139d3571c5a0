package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshot is the persisted form of a session. The password is never part
// of a snapshot.
type Snapshot struct {
	AccountID     string    `json:"account_id"`
	Username      string    `json:"username,omitempty"`
	Authorization string    `json:"authorization,omitempty"`
	WWWClaim      string    `json:"www_claim,omitempty"`
	DeviceID      string    `json:"device_id,omitempty"`
	UUID          string    `json:"uuid,omitempty"`
	Cookies       []Cookie  `json:"cookies"`
	SavedAt       time.Time `json:"saved_at"`
}

// Snapshot captures the session's current material.
func (s *Session) Snapshot() Snapshot {
	snap, _ := s.snapshotDirty()
	return snap
}

// snapshotDirty returns a snapshot together with the number of unsaved
// changes it covers.
func (s *Session) snapshotDirty() (Snapshot, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		AccountID:     s.id,
		Username:      s.username,
		Authorization: s.authorization,
		WWWClaim:      s.wwwClaim,
		DeviceID:      s.deviceID,
		UUID:          s.uuid,
		Cookies:       slices.Clone(s.cookies),
		SavedAt:       time.Now().UTC(),
	}, s.dirty
}

// markPersisted subtracts n saved changes from the dirty count. Changes
// made after the snapshot was taken stay counted.
func (s *Session) markPersisted(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = max(0, s.dirty-n)
}

// Restore replaces the session's material with snap. Counters and the
// stored password are kept.
func (s *Session) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Authorization != "" {
		s.authorization = snap.Authorization
	}
	if snap.WWWClaim != "" {
		s.wwwClaim = snap.WWWClaim
	}
	if snap.DeviceID != "" {
		s.deviceID = snap.DeviceID
	}
	if snap.UUID != "" {
		s.uuid = snap.UUID
	}
	if snap.Username != "" {
		s.username = snap.Username
	}
	for _, c := range snap.Cookies {
		if c.Value != "" {
			s.setCookieLocked(c.Name, c.Value)
		}
	}
	s.updatedAt = time.Now()
	s.dirty = 0
}

// SnapshotStore persists session snapshots by account id.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns ErrSnapshotNotFound when nothing is stored.
	Load(ctx context.Context, accountID string) (Snapshot, error)
}

// FileSnapshotStore keeps one JSON file per account in a directory.
type FileSnapshotStore struct {
	dir string
}

// NewFileSnapshotStore creates the directory if needed.
func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileSnapshotStore{dir: dir}, nil
}

func (f *FileSnapshotStore) path(accountID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, accountID)
	return filepath.Join(f.dir, "session_"+safe+".json")
}

// Save writes the snapshot atomically (temp file + rename).
func (f *FileSnapshotStore) Save(_ context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path(snap.AccountID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads the account's snapshot.
func (f *FileSnapshotStore) Load(_ context.Context, accountID string) (Snapshot, error) {
	data, err := os.ReadFile(f.path(accountID))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// RedisSnapshotStore shares snapshots between processes through Redis.
type RedisSnapshotStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSnapshotStore stores snapshots under prefix+accountID. A zero
// ttl keeps keys forever.
func NewRedisSnapshotStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisSnapshotStore {
	if prefix == "" {
		prefix = "instaapi:session:"
	}
	return &RedisSnapshotStore{client: client, prefix: prefix, ttl: ttl}
}

// Save stores the snapshot as JSON.
func (r *RedisSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+snap.AccountID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// Load fetches the snapshot.
func (r *RedisSnapshotStore) Load(ctx context.Context, accountID string) (Snapshot, error) {
	data, err := r.client.Get(ctx, r.prefix+accountID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}
