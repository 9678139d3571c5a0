package identity

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
)

// Default rotator settings.
const (
	DefaultMaxLevel        = 5
	DefaultEscalateAfter   = 2
	DefaultDeescalateAfter = 10
	DefaultBaseDelay       = 1500 * time.Millisecond
	DefaultMaxDelay        = 2 * time.Minute
)

// Identity is the fingerprint handed to one request attempt.
type Identity struct {
	Profile

	// Level is the escalation level at the time the identity was taken.
	Level int
}

// Rotator hands out identities and tracks the escalation level.
// It is safe for concurrent use.
type Rotator struct {
	mu sync.Mutex

	profiles []Profile
	current  int

	level           int
	maxLevel        int
	failures        int
	successes       int
	escalateAfter   int
	deescalateAfter int

	baseDelay time.Duration
	maxDelay  time.Duration

	// mobileOnly restricts selection to mobile profiles when set and at
	// least one mobile profile exists.
	mobileOnly bool

	rnd    *rand.Rand
	logger *slog.Logger
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithMaxLevel sets the highest escalation level.
func WithMaxLevel(n int) Option {
	return func(r *Rotator) {
		if n >= 0 {
			r.maxLevel = n
		}
	}
}

// WithEscalation sets how many consecutive failures raise the level and how
// many consecutive successes lower it.
func WithEscalation(escalateAfter, deescalateAfter int) Option {
	return func(r *Rotator) {
		if escalateAfter > 0 {
			r.escalateAfter = escalateAfter
		}
		if deescalateAfter > 0 {
			r.deescalateAfter = deescalateAfter
		}
	}
}

// WithDelays sets the base pacing delay and the ceiling for Delay.
func WithDelays(base, maxDelay time.Duration) Option {
	return func(r *Rotator) {
		if base >= 0 {
			r.baseDelay = base
		}
		if maxDelay > 0 {
			r.maxDelay = maxDelay
		}
	}
}

// WithSeed makes profile choice and jitter deterministic.
func WithSeed(seed uint64) Option {
	return func(r *Rotator) {
		r.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithMobileOnly restricts rotation to mobile profiles.
func WithMobileOnly() Option {
	return func(r *Rotator) {
		r.mobileOnly = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rotator) {
		r.logger = logger
	}
}

// NewRotator creates a Rotator over profiles. DefaultProfiles is used when
// profiles is empty.
func NewRotator(profiles []Profile, opts ...Option) *Rotator {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	r := &Rotator{
		profiles:        append([]Profile(nil), profiles...),
		maxLevel:        DefaultMaxLevel,
		escalateAfter:   DefaultEscalateAfter,
		deescalateAfter: DefaultDeescalateAfter,
		baseDelay:       DefaultBaseDelay,
		maxDelay:        DefaultMaxDelay,
		rnd:             rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.mobileOnly {
		var mobile []Profile
		for _, p := range r.profiles {
			if p.Mobile {
				mobile = append(mobile, p)
			}
		}
		if len(mobile) > 0 {
			r.profiles = mobile
		}
	}
	return r
}

// Get returns the current identity, or rotates first when forceNew is set.
func (r *Rotator) Get(forceNew bool) Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if forceNew {
		r.rotateLocked()
	}
	return Identity{Profile: r.profiles[r.current], Level: r.level}
}

// Current returns the current identity without rotating.
func (r *Rotator) Current() Identity {
	return r.Get(false)
}

// Rotate switches to a different profile (when more than one exists) and
// returns it.
func (r *Rotator) Rotate() Identity {
	return r.Get(true)
}

func (r *Rotator) rotateLocked() {
	if len(r.profiles) < 2 {
		return
	}
	next := r.rnd.IntN(len(r.profiles) - 1)
	if next >= r.current {
		next++
	}
	r.current = next
}

// Level returns the escalation level.
func (r *Rotator) Level() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// ReportFailure records a failed attempt. Consecutive failures raise the
// escalation level.
func (r *Rotator) ReportFailure(kind apierr.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.successes = 0
	r.failures++
	if r.failures >= r.escalateAfter && r.level < r.maxLevel {
		r.level++
		r.failures = 0
		r.logger.Debug("identity escalation raised", "level", r.level, "kind", kind.String())
	}
}

// ReportSuccess records a successful attempt. Sustained success lowers the
// escalation level one step at a time.
func (r *Rotator) ReportSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures = 0
	r.successes++
	if r.successes >= r.deescalateAfter && r.level > 0 {
		r.level--
		r.successes = 0
		r.logger.Debug("identity escalation lowered", "level", r.level)
	}
}

// Delay returns a randomized wait scaled by the escalation level and by the
// failure kind: uniform in [base, 2*base) times (1+level) times the kind
// multiplier, capped at the configured maximum. KindNone gives plain
// human-like pacing.
func (r *Rotator) Delay(kind apierr.Kind) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.baseDelay <= 0 {
		return 0
	}
	jittered := r.baseDelay + time.Duration(r.rnd.Int64N(int64(r.baseDelay)))
	d := jittered * time.Duration(1+r.level) * time.Duration(kindMultiplier(kind))
	if d > r.maxDelay {
		d = r.maxDelay
	}
	return d
}

func kindMultiplier(kind apierr.Kind) int {
	switch kind {
	case apierr.KindRateLimited:
		return 4
	case apierr.KindChallengeRequired, apierr.KindCheckpointRequired, apierr.KindConsentRequired:
		return 2
	default:
		return 1
	}
}
