package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mpython77/instaapi-sub001/internal/chain"
)

// Store defaults.
const (
	DefaultMaxConsecutiveErrors = 5
	DefaultReactivationBudget   = 3
	DefaultPersistThreshold     = 10
	DefaultCooldown             = 5 * time.Minute
)

// Refresh step names, reported by Refresh.
const (
	StepReauthenticate = "reauthenticate"
	StepSnapshot       = "snapshot"
	StepRelogin        = "relogin"
)

// RefreshFunc is one credential-based refresh step. It updates s in place
// and returns nil on success.
type RefreshFunc func(ctx context.Context, s *Session) error

// Store owns the account sessions.
type Store struct {
	mu            sync.Mutex
	sessions      []*Session
	next          int
	reactivations int

	snapshots            SnapshotStore
	maxConsecutiveErrors int
	reactivationBudget   int
	persistThreshold     int
	cooldown             time.Duration
	reauth               RefreshFunc
	relogin              RefreshFunc
	logger               *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSnapshotStore sets where snapshots are persisted.
func WithSnapshotStore(ss SnapshotStore) StoreOption {
	return func(s *Store) { s.snapshots = ss }
}

// WithMaxConsecutiveErrors sets how many ordinary errors in a row
// deactivate a session.
func WithMaxConsecutiveErrors(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxConsecutiveErrors = n
		}
	}
}

// WithReactivationBudget bounds how many times Get may reactivate every
// still-valid session when none is active.
func WithReactivationBudget(n int) StoreOption {
	return func(s *Store) {
		if n >= 0 {
			s.reactivationBudget = n
		}
	}
}

// WithPersistThreshold sets how many token changes trigger a snapshot.
func WithPersistThreshold(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.persistThreshold = n
		}
	}
}

// WithCooldown sets how long a deactivated session rests before Get
// revives it. Zero disables automatic revival.
func WithCooldown(d time.Duration) StoreOption {
	return func(s *Store) {
		if d >= 0 {
			s.cooldown = d
		}
	}
}

// WithRefreshers sets the lightweight reauthentication and full re-login
// steps of the refresh cascade. Either may be nil.
func WithRefreshers(reauth, relogin RefreshFunc) StoreOption {
	return func(s *Store) {
		s.reauth = reauth
		s.relogin = relogin
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		maxConsecutiveErrors: DefaultMaxConsecutiveErrors,
		reactivationBudget:   DefaultReactivationBudget,
		persistThreshold:     DefaultPersistThreshold,
		cooldown:             DefaultCooldown,
		logger:               slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends sessions to the rotation.
func (st *Store) Add(sessions ...*Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions = append(st.sessions, sessions...)
}

// Len returns the number of sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// All returns every session in insertion order.
func (st *Store) All() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Session, len(st.sessions))
	copy(out, st.sessions)
	return out
}

// ByID returns the session with the given account id.
func (st *Store) ByID(id string) (*Session, bool) {
	for _, s := range st.All() {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// Get returns the next active and valid session, round robin. When none
// is active it reactivates every still-valid session, at most the
// configured number of times over the store's life. It returns false when
// nothing is usable; it never blocks.
func (st *Store) Get() (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s := st.pickLocked(time.Now()); s != nil {
		return s, true
	}
	if st.reactivations >= st.reactivationBudget {
		return nil, false
	}

	revived := 0
	for _, s := range st.sessions {
		s.mu.Lock()
		if s.valid {
			s.active = true
			s.consecutiveErrors = 0
			s.cooldownUntil = time.Time{}
			revived++
		}
		s.mu.Unlock()
	}
	if revived == 0 {
		return nil, false
	}
	st.reactivations++
	st.logger.Warn("no active session, reactivated valid sessions",
		"revived", revived,
		"budget_left", st.reactivationBudget-st.reactivations)

	if s := st.pickLocked(time.Now()); s != nil {
		return s, true
	}
	return nil, false
}

func (st *Store) pickLocked(now time.Time) *Session {
	n := len(st.sessions)
	for i := range n {
		idx := (st.next + i) % n
		s := st.sessions[idx]
		s.mu.Lock()
		ok := s.usableLocked(now)
		s.mu.Unlock()
		if ok {
			st.next = (idx + 1) % n
			return s
		}
	}
	return nil
}

// ReactivationsLeft returns the remaining reactivation budget.
func (st *Store) ReactivationsLeft() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.reactivationBudget - st.reactivations
}

// ReportError records a failed call. An auth error invalidates the
// session; otherwise the session is deactivated after the configured
// number of consecutive errors. eventID makes the call idempotent: a
// second report for the same event is ignored.
func (st *Store) ReportError(s *Session, eventID string, isAuth bool) {
	if s == nil {
		return
	}
	if eventID != "" && !s.MarkEvent("error:"+eventID) {
		return
	}

	s.mu.Lock()
	s.requests++
	s.errors++
	s.consecutiveErrors++
	switch {
	case isAuth:
		s.valid = false
		s.active = false
	case s.consecutiveErrors >= st.maxConsecutiveErrors && s.active:
		s.active = false
		if st.cooldown > 0 {
			s.cooldownUntil = time.Now().Add(st.cooldown)
		}
	}
	id, consecutive, valid, active := s.id, s.consecutiveErrors, s.valid, s.active
	s.mu.Unlock()

	if !active {
		st.logger.Warn("session deactivated",
			"account", id,
			"consecutive_errors", consecutive,
			"valid", valid)
	}
}

// ReportSuccess records a successful call and decays the error counters.
func (st *Store) ReportSuccess(s *Session) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	s.consecutiveErrors = 0
	if s.errors > 0 {
		s.errors--
	}
}

// UpdateFromResponse applies rotated tokens from response headers and
// persists a snapshot once enough changes have accumulated.
func (st *Store) UpdateFromResponse(ctx context.Context, s *Session, h http.Header) error {
	if s == nil || !s.ApplyResponseHeaders(h) {
		return nil
	}
	if s.Stats().Dirty < st.persistThreshold {
		return nil
	}
	return st.Persist(ctx, s)
}

// Persist saves a snapshot of s. It is a no-op without a snapshot store.
func (st *Store) Persist(ctx context.Context, s *Session) error {
	if st.snapshots == nil {
		return nil
	}
	snap, saved := s.snapshotDirty()
	if err := st.snapshots.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", snap.AccountID, err)
	}
	s.markPersisted(saved)
	st.logger.Debug("session snapshot persisted", "account", snap.AccountID)
	return nil
}

// Reload restores s from its persisted snapshot. It reports whether the
// snapshot carried authentication material different from what s holds.
func (st *Store) Reload(ctx context.Context, s *Session) (bool, error) {
	if st.snapshots == nil {
		return false, ErrSnapshotNotFound
	}
	snap, err := st.snapshots.Load(ctx, s.ID())
	if err != nil {
		return false, err
	}
	before := s.fingerprint()
	s.Restore(snap)
	return s.fingerprint() != before, nil
}

// Refresh runs the refresh cascade for s: lightweight reauthentication,
// then snapshot reload, then full re-login. It stops at the first step
// that succeeds, revives the session and returns the step name.
func (st *Store) Refresh(ctx context.Context, s *Session) (string, error) {
	if !s.beginRefresh() {
		return "", ErrRefreshInProgress
	}
	defer s.endRefresh()

	steps := []chain.Step[*Session, struct{}]{
		{Name: StepReauthenticate, Attempt: st.stepFunc(st.reauth)},
		{Name: StepSnapshot, Attempt: func(ctx context.Context, s *Session) (struct{}, bool, error) {
			changed, err := st.Reload(ctx, s)
			if errors.Is(err, ErrSnapshotNotFound) {
				return struct{}{}, false, nil
			}
			return struct{}{}, changed, err
		}},
		{Name: StepRelogin, Attempt: func(ctx context.Context, s *Session) (struct{}, bool, error) {
			if s.Password() == "" {
				return struct{}{}, false, nil
			}
			return st.stepFunc(st.relogin)(ctx, s)
		}},
	}

	_, step, ok := chain.First(ctx, steps, s, func(name string, err error) {
		st.logger.Debug("refresh step skipped", "account", s.ID(), "step", name, "error", err)
	})
	if !ok {
		st.logger.Warn("session refresh failed", "account", s.ID())
		return "", ErrRefreshFailed
	}

	s.revive()
	if err := st.Persist(ctx, s); err != nil {
		st.logger.Warn("failed to persist refreshed session", "account", s.ID(), "error", err)
	}
	st.logger.Info("session refreshed", "account", s.ID(), "step", step)
	return step, nil
}

func (st *Store) stepFunc(fn RefreshFunc) func(context.Context, *Session) (struct{}, bool, error) {
	return func(ctx context.Context, s *Session) (struct{}, bool, error) {
		if fn == nil {
			return struct{}{}, false, nil
		}
		if err := fn(ctx, s); err != nil {
			return struct{}{}, false, err
		}
		return struct{}{}, true, nil
	}
}
