package anon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
	"github.com/mpython77/instaapi-sub001/internal/chain"
	"github.com/mpython77/instaapi-sub001/internal/classify"
	"github.com/mpython77/instaapi-sub001/internal/identity"
	"github.com/mpython77/instaapi-sub001/internal/proxy"
	"github.com/mpython77/instaapi-sub001/internal/ratelimit"
	"github.com/mpython77/instaapi-sub001/internal/transport"
)

// CategoryPrefix prefixes every strategy's rate category.
const CategoryPrefix = "anon:"

// ErrLoginRedirect marks a strategy skipped because the upstream demanded
// a login.
var ErrLoginRedirect = errors.New("login redirect")

// Result is the outcome of a lookup.
type Result struct {
	Record Record
	// Source is the winning strategy, empty when unavailable.
	Source    string
	Available bool
	// Tried lists the strategies run, in order.
	Tried []string
}

// Chain runs strategies in order.
type Chain struct {
	transport  transport.Transport
	governor   ratelimit.Governor
	strategies []Strategy
	baseURL    string

	web        identity.Profile
	mobile     identity.Profile
	proxies    *proxy.Pool
	classifier *classify.Classifier
	logger     *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithProfiles sets the browser and app identities.
func WithProfiles(web, mobile identity.Profile) Option {
	return func(c *Chain) {
		c.web = web
		c.mobile = mobile
	}
}

// WithProxyPool routes lookups through pool.
func WithProxyPool(pool *proxy.Pool) Option {
	return func(c *Chain) {
		c.proxies = pool
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// NewChain creates a chain over strategies, tried in the given order.
func NewChain(t transport.Transport, governor ratelimit.Governor, baseURL string, strategies []Strategy, opts ...Option) *Chain {
	profiles := identity.DefaultProfiles()
	c := &Chain{
		transport:  t,
		governor:   governor,
		strategies: strategies,
		baseURL:    strings.TrimRight(baseURL, "/"),
		web:        profiles[0],
		mobile:     profiles[2],
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.classifier = classify.New(classify.WithLogger(c.logger))
	return c
}

// Lookup returns the first non-empty record for username. Running out of
// strategies yields an unavailable Result, not an error; the error is set
// only when ctx ended.
func (c *Chain) Lookup(ctx context.Context, username string) (Result, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	var res Result

	steps := make([]chain.Step[string, Record], 0, len(c.strategies))
	for _, s := range c.strategies {
		steps = append(steps, chain.Step[string, Record]{
			Name: s.Name(),
			Attempt: func(ctx context.Context, username string) (Record, bool, error) {
				res.Tried = append(res.Tried, s.Name())
				return c.try(ctx, s, username)
			},
		})
	}

	rec, source, ok := chain.First(ctx, steps, username, func(name string, err error) {
		c.logger.Debug("anonymous strategy skipped", "strategy", name, "username", username, "error", err)
	})
	if !ok {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c.logger.Info("profile unavailable anonymously", "username", username, "tried", res.Tried)
		return res, nil
	}

	rec.Source = source
	res.Record = rec
	res.Source = source
	res.Available = true
	return res, nil
}

func (c *Chain) try(ctx context.Context, s Strategy, username string) (Record, bool, error) {
	category := CategoryPrefix + s.Name()
	permit, err := c.governor.Acquire(ctx, category)
	if err != nil {
		return Record{}, false, err
	}
	defer permit.Release()

	profile := c.web
	if s.Mobile() {
		profile = c.mobile
	}

	target := s.Target(username)
	if strings.HasPrefix(target, "/") {
		target = c.baseURL + target
	}
	req := transport.NewRequest("GET", target, profile.Headers(), nil)
	req.Profile = profile.TLSProfile

	var px string
	if c.proxies != nil {
		if p, ok := c.proxies.Get(category); ok {
			px = p.URI
			req.Proxy = px
		}
	}

	resp, terr := c.transport.Do(context.WithoutCancel(ctx), req)
	permit.Release()

	out := c.classifier.Classify(ctx, nil, resp, terr)
	switch out.Kind() {
	case apierr.KindNone:
		if px != "" {
			c.proxies.ReportSuccess(px, resp.Latency)
		}
	case apierr.KindAuthenticationExpired:
		return Record{}, false, ErrLoginRedirect
	default:
		c.governor.OnError(out.Kind())
		if px != "" && (out.Kind() == apierr.KindTransientNetworkFailure || out.Kind() == apierr.KindRateLimited) {
			c.proxies.ReportFailure(px)
		}
		return Record{}, false, out.Err
	}

	rec, err := s.Parse(resp.Body)
	if err != nil {
		return Record{}, false, err
	}
	if rec.Empty() {
		return Record{}, false, nil
	}
	if !rec.Matches(username) {
		return Record{}, false, fmt.Errorf("%w: got %q", ErrNoProfileData, rec.Username)
	}
	if rec.Username == "" {
		rec.Username = username
	}
	return rec, true, nil
}
