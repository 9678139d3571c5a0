package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Strategy selects how Get picks among active proxies.
type Strategy int

const (
	// RoundRobin cycles through active proxies in insertion order.
	RoundRobin Strategy = iota
	// Random picks uniformly among active proxies.
	Random
	// Weighted picks randomly with probability proportional to Score.
	Weighted
)

// ErrUnknownStrategy is returned by ParseStrategy.
var ErrUnknownStrategy = errors.New("unknown proxy strategy")

// ParseStrategy parses "round_robin", "random" or "weighted".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "round_robin", "roundrobin", "":
		return RoundRobin, nil
	case "random":
		return Random, nil
	case "weighted":
		return Weighted, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

func (s Strategy) String() string {
	switch s {
	case RoundRobin:
		return "round_robin"
	case Random:
		return "random"
	case Weighted:
		return "weighted"
	default:
		return "unknown"
	}
}

// Default pool settings.
const (
	DefaultMaxConsecutiveFailures = 3
	DefaultScoreFloor             = 0.2
	DefaultMinSamples             = 5

	// latencyAlpha is the EWMA weight of the newest latency sample.
	latencyAlpha = 0.3
)

// Proxy is a snapshot of one egress endpoint's state.
type Proxy struct {
	URI                 string
	Successes           int
	Failures            int
	ConsecutiveFailures int
	AvgLatency          time.Duration
	Active              bool
}

// Samples returns the number of reported outcomes.
func (p Proxy) Samples() int {
	return p.Successes + p.Failures
}

// Score combines success rate (weight 0.7) and inverse latency (weight 0.3)
// into [0, 1]. An untried proxy scores 1.
func (p Proxy) Score() float64 {
	n := p.Samples()
	if n == 0 {
		return 1
	}
	successRate := float64(p.Successes) / float64(n)
	inverseLatency := 1 / (1 + p.AvgLatency.Seconds())
	return 0.7*successRate + 0.3*inverseLatency
}

// Pool is a concurrency-safe proxy pool.
type Pool struct {
	mu sync.Mutex

	proxies []*Proxy
	byURI   map[string]*Proxy
	sticky  map[string]string
	next    int

	strategy               Strategy
	maxConsecutiveFailures int
	scoreFloor             float64
	minSamples             int

	rnd    *rand.Rand
	logger *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithStrategy sets the selection strategy.
func WithStrategy(s Strategy) Option {
	return func(p *Pool) {
		p.strategy = s
	}
}

// WithMaxConsecutiveFailures sets the consecutive-failure threshold.
func WithMaxConsecutiveFailures(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxConsecutiveFailures = n
		}
	}
}

// WithScoreFloor sets the score below which a proxy is deactivated once it
// has at least minSamples outcomes.
func WithScoreFloor(floor float64, minSamples int) Option {
	return func(p *Pool) {
		p.scoreFloor = floor
		if minSamples > 0 {
			p.minSamples = minSamples
		}
	}
}

// WithSeed makes random selection deterministic.
func WithSeed(seed uint64) Option {
	return func(p *Pool) {
		p.rnd = rand.New(rand.NewPCG(seed, seed+1))
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool creates an empty pool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		byURI:                  make(map[string]*Proxy),
		sticky:                 make(map[string]string),
		maxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		scoreFloor:             DefaultScoreFloor,
		minSamples:             DefaultMinSamples,
		rnd:                    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Add validates and adds proxies. Duplicates are ignored.
func (p *Pool) Add(uris ...string) error {
	normalized := make([]string, 0, len(uris))
	for _, u := range uris {
		n, err := Normalize(u)
		if err != nil {
			return err
		}
		normalized = append(normalized, n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range normalized {
		if _, ok := p.byURI[u]; ok {
			continue
		}
		px := &Proxy{URI: u, Active: true}
		p.proxies = append(p.proxies, px)
		p.byURI[u] = px
	}
	return nil
}

// Len returns the number of proxies, active or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Get selects an active proxy. With a non-empty stickyKey the same proxy is
// returned for that key while it stays active. ok is false when no proxy is
// active.
func (p *Pool) Get(stickyKey string) (Proxy, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stickyKey != "" {
		if uri, bound := p.sticky[stickyKey]; bound {
			if px := p.byURI[uri]; px != nil && px.Active {
				return *px, true
			}
			delete(p.sticky, stickyKey)
		}
	}

	px := p.selectLocked()
	if px == nil {
		return Proxy{}, false
	}
	if stickyKey != "" {
		p.sticky[stickyKey] = px.URI
	}
	return *px, true
}

// Unbind drops the sticky binding of key so that the next Get selects a
// fresh proxy for it.
func (p *Pool) Unbind(stickyKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sticky, stickyKey)
}

func (p *Pool) selectLocked() *Proxy {
	n := len(p.proxies)
	if n == 0 {
		return nil
	}

	switch p.strategy {
	case Random, Weighted:
		active := make([]*Proxy, 0, n)
		for _, px := range p.proxies {
			if px.Active {
				active = append(active, px)
			}
		}
		if len(active) == 0 {
			return nil
		}
		if p.strategy == Random {
			return active[p.rnd.IntN(len(active))]
		}
		return p.weightedLocked(active)
	default:
		for i := range n {
			px := p.proxies[(p.next+i)%n]
			if px.Active {
				p.next = (p.next + i + 1) % n
				return px
			}
		}
		return nil
	}
}

func (p *Pool) weightedLocked(active []*Proxy) *Proxy {
	total := 0.0
	for _, px := range active {
		total += px.Score()
	}
	if total <= 0 {
		return active[p.rnd.IntN(len(active))]
	}
	r := p.rnd.Float64() * total
	for _, px := range active {
		r -= px.Score()
		if r < 0 {
			return px
		}
	}
	return active[len(active)-1]
}

// ReportSuccess records a successful exchange through uri.
func (p *Pool) ReportSuccess(uri string, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	px := p.byURI[uri]
	if px == nil {
		return
	}
	px.Successes++
	px.ConsecutiveFailures = 0
	if px.AvgLatency == 0 {
		px.AvgLatency = latency
	} else {
		px.AvgLatency = time.Duration(latencyAlpha*float64(latency) + (1-latencyAlpha)*float64(px.AvgLatency))
	}
}

// ReportFailure records a failed exchange through uri and deactivates the
// proxy when a threshold is crossed.
func (p *Pool) ReportFailure(uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	px := p.byURI[uri]
	if px == nil || !px.Active {
		return
	}
	px.Failures++
	px.ConsecutiveFailures++

	switch {
	case px.ConsecutiveFailures >= p.maxConsecutiveFailures:
		px.Active = false
		p.logger.Warn("proxy deactivated",
			"proxy", Redact(uri),
			"reason", "consecutive failures",
			"consecutive_failures", px.ConsecutiveFailures,
		)
	case px.Samples() >= p.minSamples && px.Score() < p.scoreFloor:
		px.Active = false
		p.logger.Warn("proxy deactivated",
			"proxy", Redact(uri),
			"reason", "score below floor",
			"score", px.Score(),
		)
	}
}

// ReactivateAll marks every proxy active again and resets its counters.
func (p *Pool) ReactivateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, px := range p.proxies {
		px.Active = true
		px.Successes = 0
		px.Failures = 0
		px.ConsecutiveFailures = 0
	}
}

// Snapshot returns copies of all proxies sorted by descending score.
func (p *Pool) Snapshot() []Proxy {
	p.mu.Lock()
	out := make([]Proxy, len(p.proxies))
	for i, px := range p.proxies {
		out[i] = *px
	}
	p.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score() > out[j].Score()
	})
	return out
}

// ProbeFunc checks one proxy and returns nil when it is usable.
type ProbeFunc func(ctx context.Context, uri string) error

// HealthCheck probes every active proxy concurrently (at most concurrency
// at a time) and feeds the outcomes into the pool. It returns the number
// of proxies that passed.
func (p *Pool) HealthCheck(ctx context.Context, probe ProbeFunc, concurrency int) int {
	var uris []string
	for _, px := range p.Snapshot() {
		if px.Active {
			uris = append(uris, px.URI)
		}
	}

	if concurrency <= 0 {
		concurrency = 4
	}

	var (
		mu     sync.Mutex
		passed int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, uri := range uris {
		g.Go(func() error {
			start := time.Now()
			if err := probe(ctx, uri); err != nil {
				p.logger.Debug("proxy probe failed", "proxy", Redact(uri), "error", err)
				p.ReportFailure(uri)
				return nil
			}
			p.ReportSuccess(uri, time.Since(start))
			mu.Lock()
			passed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // probes never return errors
	return passed
}
