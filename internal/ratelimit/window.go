package ratelimit

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
)

// Window is the sliding-window governor.
type Window struct {
	cfg    Config
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu       sync.Mutex
	windows  map[string]*window
	throttle throttle

	// changed is closed and replaced whenever a queue head moves or the
	// pause/capacity changes, waking every waiter to re-check.
	changed chan struct{}
}

// window is one category's state.
type window struct {
	stamps []time.Time
	queue  []*ticket
}

type ticket struct{}

// evict drops entries that are at least period old.
func (w *window) evict(now time.Time, period time.Duration) {
	i := 0
	for i < len(w.stamps) && now.Sub(w.stamps[i]) >= period {
		i++
	}
	w.stamps = w.stamps[i:]
}

// active counts entries younger than period without evicting.
func (w *window) active(now time.Time, period time.Duration) int {
	n := 0
	for _, s := range w.stamps {
		if now.Sub(s) < period {
			n++
		}
	}
	return n
}

func (w *window) remove(t *ticket) {
	if i := slices.Index(w.queue, t); i >= 0 {
		w.queue = slices.Delete(w.queue, i, i+1)
	}
}

// Option configures a governor.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// NewWindow creates a sliding-window governor.
func NewWindow(cfg Config, opts ...Option) (*Window, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Window{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
		logger:   o.logger,
		windows:  make(map[string]*window),
		throttle: newThrottle(),
		changed:  make(chan struct{}),
	}, nil
}

func (g *Window) windowLocked(category string) *window {
	w, ok := g.windows[category]
	if !ok {
		w = &window{}
		g.windows[category] = w
	}
	return w
}

func (g *Window) broadcastLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// Acquire implements Governor.
func (g *Window) Acquire(ctx context.Context, category string) (*Permit, error) {
	t := &ticket{}

	g.mu.Lock()
	w := g.windowLocked(category)
	w.queue = append(w.queue, t)
	g.mu.Unlock()

	for {
		reserved, wait, changed := g.tryReserve(w, t, category)
		if reserved {
			break
		}
		if err := waitFor(ctx, wait, changed); err != nil {
			g.mu.Lock()
			w.remove(t)
			g.broadcastLocked()
			g.mu.Unlock()
			return nil, err
		}
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return newPermit(category, func() { g.sem.Release(1) }), nil
}

// tryReserve is the atomic check-and-reserve step. When it cannot reserve
// it returns how long to wait (-1: until the next broadcast) and the
// broadcast channel to wait on.
func (g *Window) tryReserve(w *window, t *ticket, category string) (bool, time.Duration, <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	limit := g.cfg.limitFor(category)
	w.evict(now, limit.Period)

	if d := g.throttle.pausedFor(now); d > 0 {
		return false, d, g.changed
	}
	if w.queue[0] != t {
		return false, -1, g.changed
	}
	if len(w.stamps) < g.throttle.scale(limit.Calls) {
		w.stamps = append(w.stamps, now)
		w.queue = w.queue[1:]
		g.broadcastLocked()
		return true, 0, nil
	}

	// Full: sleep exactly until enough of the oldest entries expire.
	excess := len(w.stamps) - g.throttle.scale(limit.Calls)
	wait := w.stamps[excess].Add(limit.Period).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait, g.changed
}

// OnError implements Governor.
func (g *Window) OnError(kind apierr.Kind) {
	if kind != apierr.KindRateLimited {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.throttle.trip(time.Now(), g.cfg, g.restore)
	g.broadcastLocked()
	g.logger.Warn("rate limited: pausing all categories",
		"pause", g.cfg.PauseDuration,
		"capacity_factor", g.throttle.factor,
	)
}

func (g *Window) restore() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.throttle.factor = 1
	g.broadcastLocked()
	g.logger.Info("rate limit cooldown over: capacity restored")
}

// Remaining implements Governor. It reports 0 while paused.
func (g *Window) Remaining(category string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if g.throttle.pausedFor(now) > 0 {
		return 0
	}
	limit := g.cfg.limitFor(category)
	used := 0
	if w, ok := g.windows[category]; ok {
		used = w.active(now, limit.Period)
	}
	if r := g.throttle.scale(limit.Calls) - used; r > 0 {
		return r
	}
	return 0
}

// Paused implements Governor.
func (g *Window) Paused() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.throttle.pausedFor(time.Now())
}
