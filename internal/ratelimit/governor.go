package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
)

// Default governor settings.
const (
	DefaultCalls         = 60
	DefaultPeriod        = time.Minute
	DefaultMaxInFlight   = 4
	DefaultPauseDuration = 30 * time.Second
	DefaultCooldown      = 5 * time.Minute
	DefaultShrinkFactor  = 0.5

	// minFactor bounds how far repeated rate limiting can shrink capacity.
	minFactor = 0.05
)

// Configuration errors.
var (
	// ErrInvalidLimit is returned for a limit with non-positive calls or period.
	ErrInvalidLimit = errors.New("invalid rate limit: calls and period must be positive")

	// ErrInvalidMaxInFlight is returned when MaxInFlight is not positive.
	ErrInvalidMaxInFlight = errors.New("invalid max in-flight: must be positive")

	// ErrInvalidShrinkFactor is returned when ShrinkFactor is outside (0, 1].
	ErrInvalidShrinkFactor = errors.New("invalid shrink factor: must be in (0, 1]")
)

// Limit allows Calls calls per Period.
type Limit struct {
	Calls  int           `yaml:"calls"`
	Period time.Duration `yaml:"period"`
}

// Valid reports whether both fields are positive.
func (l Limit) Valid() bool {
	return l.Calls > 0 && l.Period > 0
}

// Config configures a governor.
type Config struct {
	// Default applies to categories absent from Categories.
	Default Limit

	// Categories holds per-category limits.
	Categories map[string]Limit

	// MaxInFlight caps simultaneous permits across all categories.
	MaxInFlight int64

	// PauseDuration is the global pause after a rate-limit signal.
	PauseDuration time.Duration

	// Cooldown is how long shrunken capacity lasts after the last
	// rate-limit signal.
	Cooldown time.Duration

	// ShrinkFactor multiplies capacity on every rate-limit signal.
	ShrinkFactor float64
}

// DefaultConfig returns the default governor configuration.
func DefaultConfig() Config {
	return Config{
		Default:       Limit{Calls: DefaultCalls, Period: DefaultPeriod},
		Categories:    map[string]Limit{},
		MaxInFlight:   DefaultMaxInFlight,
		PauseDuration: DefaultPauseDuration,
		Cooldown:      DefaultCooldown,
		ShrinkFactor:  DefaultShrinkFactor,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Default.Valid() {
		return fmt.Errorf("default: %w", ErrInvalidLimit)
	}
	for name, l := range c.Categories {
		if !l.Valid() {
			return fmt.Errorf("category %q: %w", name, ErrInvalidLimit)
		}
	}
	if c.MaxInFlight <= 0 {
		return ErrInvalidMaxInFlight
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor > 1 {
		return ErrInvalidShrinkFactor
	}
	return nil
}

// limitFor returns the configured limit for category.
func (c Config) limitFor(category string) Limit {
	if l, ok := c.Categories[category]; ok {
		return l
	}
	return c.Default
}

// Governor is the rate governor contract.
type Governor interface {
	// Acquire blocks until a slot for category exists, reserves it and
	// takes one global in-flight permit. It fails only when ctx ends.
	Acquire(ctx context.Context, category string) (*Permit, error)

	// OnError reacts to a classified failure.
	OnError(kind apierr.Kind)

	// Remaining reports how many calls category could start now. It never
	// changes state.
	Remaining(category string) int

	// Paused reports how long the global pause still lasts.
	Paused() time.Duration
}

// Permit is a reserved slot. Release returns the in-flight permit; calling
// it more than once is harmless. The rate-window entry itself is not
// returned: a started call counts against its window until it expires.
type Permit struct {
	Category string

	once    sync.Once
	release func()
}

func newPermit(category string, release func()) *Permit {
	return &Permit{Category: category, release: release}
}

// Release returns the in-flight permit.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

// throttle holds the adaptive state shared by both governors. It is not
// self-locking: the owning governor guards it with its own mutex.
type throttle struct {
	factor      float64
	pausedUntil time.Time
	restore     *time.Timer
}

func newThrottle() throttle {
	return throttle{factor: 1}
}

// scale applies the current capacity factor, never going below one call.
func (t *throttle) scale(calls int) int {
	n := int(float64(calls) * t.factor)
	if n < 1 {
		return 1
	}
	return n
}

// pausedFor returns the remaining pause at now.
func (t *throttle) pausedFor(now time.Time) time.Duration {
	if d := t.pausedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

// trip shrinks capacity, starts the global pause and (re)arms the restore
// timer, which calls onRestore after cooldown.
func (t *throttle) trip(now time.Time, cfg Config, onRestore func()) {
	t.factor *= cfg.ShrinkFactor
	if t.factor < minFactor {
		t.factor = minFactor
	}
	if until := now.Add(cfg.PauseDuration); until.After(t.pausedUntil) {
		t.pausedUntil = until
	}
	if t.restore != nil {
		t.restore.Stop()
	}
	t.restore = time.AfterFunc(cfg.Cooldown, onRestore)
}

// waitFor sleeps for d (d < 0 means "until signalled"), returning early
// when signal is closed. It returns ctx.Err() if ctx ends first.
func waitFor(ctx context.Context, d time.Duration, signal <-chan struct{}) error {
	if d < 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signal:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-signal:
		return nil
	case <-timer.C:
		return nil
	}
}
