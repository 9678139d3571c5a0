package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
)

// Bucket is the token-bucket governor. Each category refills at
// Calls/Period with a burst of Calls.
type Bucket struct {
	cfg    Config
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	throttle throttle
	changed  chan struct{}
}

// NewBucket creates a token-bucket governor.
func NewBucket(cfg Config, opts ...Option) (*Bucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Bucket{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
		logger:   o.logger,
		limiters: make(map[string]*rate.Limiter),
		throttle: newThrottle(),
		changed:  make(chan struct{}),
	}, nil
}

func refillRate(l Limit, factor float64) rate.Limit {
	return rate.Limit(float64(l.Calls) / l.Period.Seconds() * factor)
}

func (g *Bucket) limiterLocked(category string) *rate.Limiter {
	lim, ok := g.limiters[category]
	if !ok {
		l := g.cfg.limitFor(category)
		lim = rate.NewLimiter(refillRate(l, g.throttle.factor), l.Calls)
		g.limiters[category] = lim
	}
	return lim
}

// Acquire implements Governor.
func (g *Bucket) Acquire(ctx context.Context, category string) (*Permit, error) {
	for {
		g.mu.Lock()
		wait := g.throttle.pausedFor(time.Now())
		changed := g.changed
		lim := g.limiterLocked(category)
		g.mu.Unlock()

		if wait <= 0 {
			if err := lim.Wait(ctx); err != nil {
				return nil, err
			}
			break
		}
		if err := waitFor(ctx, wait, changed); err != nil {
			return nil, err
		}
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return newPermit(category, func() { g.sem.Release(1) }), nil
}

// OnError implements Governor.
func (g *Bucket) OnError(kind apierr.Kind) {
	if kind != apierr.KindRateLimited {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.throttle.trip(time.Now(), g.cfg, g.restore)
	g.applyFactorLocked()
	close(g.changed)
	g.changed = make(chan struct{})
	g.logger.Warn("rate limited: pausing all categories",
		"pause", g.cfg.PauseDuration,
		"capacity_factor", g.throttle.factor,
	)
}

func (g *Bucket) restore() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.throttle.factor = 1
	g.applyFactorLocked()
	g.logger.Info("rate limit cooldown over: capacity restored")
}

func (g *Bucket) applyFactorLocked() {
	for category, lim := range g.limiters {
		l := g.cfg.limitFor(category)
		lim.SetLimit(refillRate(l, g.throttle.factor))
		lim.SetBurst(g.throttle.scale(l.Calls))
	}
}

// Remaining implements Governor. It reports 0 while paused.
func (g *Bucket) Remaining(category string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if g.throttle.pausedFor(now) > 0 {
		return 0
	}
	lim, ok := g.limiters[category]
	if !ok {
		return g.throttle.scale(g.cfg.limitFor(category).Calls)
	}
	tokens := int(lim.TokensAt(now))
	if tokens < 0 {
		return 0
	}
	return tokens
}

// Paused implements Governor.
func (g *Bucket) Paused() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.throttle.pausedFor(time.Now())
}
