package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mpython77/instaapi-sub001/internal/anon"
	"github.com/mpython77/instaapi-sub001/internal/apierr"
	"github.com/mpython77/instaapi-sub001/internal/auth"
	"github.com/mpython77/instaapi-sub001/internal/challenge"
	"github.com/mpython77/instaapi-sub001/internal/classify"
	"github.com/mpython77/instaapi-sub001/internal/config"
	"github.com/mpython77/instaapi-sub001/internal/database"
	"github.com/mpython77/instaapi-sub001/internal/events"
	"github.com/mpython77/instaapi-sub001/internal/executor"
	"github.com/mpython77/instaapi-sub001/internal/identity"
	"github.com/mpython77/instaapi-sub001/internal/metrics"
	"github.com/mpython77/instaapi-sub001/internal/proxy"
	"github.com/mpython77/instaapi-sub001/internal/ratelimit"
	"github.com/mpython77/instaapi-sub001/internal/session"
	"github.com/mpython77/instaapi-sub001/internal/tor"
	"github.com/mpython77/instaapi-sub001/internal/transport"
)

// Engine holds every wired component.
type Engine struct {
	Config *config.Config

	Transport    transport.Transport
	Proxies      *proxy.Pool
	Rotator      *identity.Rotator
	Governor     ratelimit.Governor
	AnonGovernor ratelimit.Governor
	Store        *session.Store
	Resolver     *challenge.Resolver // nil without a code provider
	Executor     *executor.Executor
	Pool         *executor.Pool
	Anon         *anon.Chain
	Events       *events.Bus
	Metrics      *metrics.Observer

	// History is the attempt database, nil when history is disabled and
	// snapshots are not kept in SQLite.
	History *database.SnapshotDB

	metricsLn net.Listener
	closers   []func() error
	logger    *slog.Logger
}

// Option configures New.
type Option func(*options)

type options struct {
	codes     challenge.CodeProvider
	transport transport.Transport
}

// WithCodeProvider supplies verification codes to the challenge resolver.
// Without one, challenges that need a code fail.
func WithCodeProvider(p challenge.CodeProvider) Option {
	return func(o *options) {
		o.codes = p
	}
}

// WithTransport replaces the transport selected by the configuration.
func WithTransport(t transport.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// New validates cfg and builds the engine. On error, everything built so
// far is released. Accounts are optional: anonymous lookups work without
// them, and calls then fail with an expired-session error.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (_ *Engine, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = e.Close() //nolint:errcheck // Construction already failed
		}
	}()

	e.Events = events.NewBus(logger)
	e.Transport = o.transport
	if e.Transport == nil {
		e.Transport = newTransport(cfg)
	}

	if err := e.buildProxies(ctx, cfg); err != nil {
		return nil, err
	}

	rotatorOpts := []identity.Option{identity.WithLogger(logger)}
	if cfg.MobileOnly {
		rotatorOpts = append(rotatorOpts, identity.WithMobileOnly())
	}
	e.Rotator = identity.NewRotator(identity.DefaultProfiles(), rotatorOpts...)

	if e.Governor, err = newGovernor(cfg.Scheduler, cfg.GovernorConfig(), logger); err != nil {
		return nil, err
	}
	if e.AnonGovernor, err = newGovernor(cfg.Scheduler, cfg.AnonGovernorConfig(), logger); err != nil {
		return nil, err
	}

	snapshots, err := e.buildSnapshots(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.History && e.History == nil {
		if e.History, err = e.openDatabase(cfg.DBDir); err != nil {
			return nil, err
		}
	}

	profiles := identity.DefaultProfiles()
	authClient := auth.NewClient(e.Transport, cfg.WebBaseURL, auth.WithLogger(logger))
	e.Store = session.NewStore(
		session.WithSnapshotStore(snapshots),
		session.WithRefreshers(authClient.Reauthenticate, authClient.Relogin),
		session.WithMaxConsecutiveErrors(cfg.MaxConsecutiveErrors),
		session.WithReactivationBudget(cfg.ReactivationBudget),
		session.WithPersistThreshold(cfg.PersistThreshold),
		session.WithCooldown(cfg.SessionCooldown),
		session.WithLogger(logger),
	)
	e.loadSessions(ctx, cfg.Accounts)

	mode, err := challenge.ParseMode(cfg.ChallengeMode)
	if err != nil {
		return nil, err
	}
	// Step-up responses propagate unresolved when nobody can supply a code.
	if o.codes != nil {
		e.Resolver = challenge.NewResolver(e.Transport, cfg.WebBaseURL, o.codes,
			challenge.WithMode(mode),
			challenge.WithLogger(logger),
		)
	}

	if e.Metrics, err = metrics.New(nil); err != nil {
		return nil, err
	}
	e.Events.Subscribe(e.Metrics.Hook())
	if cfg.MetricsAddr != "" {
		if err := e.serveMetrics(cfg.MetricsAddr); err != nil {
			return nil, err
		}
	}

	execOpts := []executor.Option{
		executor.WithProxyPool(e.Proxies),
		executor.WithClassifier(classify.New(classify.WithTokenSink(e.Store), classify.WithLogger(logger))),
		executor.WithEventBus(e.Events),
		executor.WithMaxAttempts(cfg.MaxAttempts),
		executor.WithBackoff(executor.Backoff{Base: cfg.BackoffBase, Factor: cfg.BackoffFactor, Max: cfg.BackoffMax}),
		executor.WithPolicy(apierr.Policy{RetryProtocolErrors: cfg.RetryProtocolErrors}),
		executor.WithBaseURL(cfg.BaseURL),
		executor.WithPacing(cfg.Pacing),
		executor.WithLogger(logger),
	}
	if e.Resolver != nil {
		execOpts = append(execOpts, executor.WithResolver(e.Resolver))
	}
	if e.History != nil {
		execOpts = append(execOpts, executor.WithRecorder(e.History))
	}
	e.Executor = executor.New(e.Transport, e.Store, e.Governor, e.Rotator, execOpts...)

	if e.Pool, err = executor.NewPool(e.Executor, cfg.Workers, executor.WithPoolLogger(logger)); err != nil {
		return nil, err
	}
	e.closers = append(e.closers, e.Pool.Close)

	strategies, err := anon.DefaultStrategies(cfg.WebBaseURL)
	if err != nil {
		return nil, err
	}
	e.Anon = anon.NewChain(e.Transport, e.AnonGovernor, cfg.WebBaseURL, strategies,
		anon.WithProfiles(profiles[0], profiles[2]),
		anon.WithProxyPool(e.Proxies),
		anon.WithLogger(logger),
	)

	logger.Debug("engine ready",
		"transport", cfg.Transport,
		"scheduler", cfg.Scheduler,
		"sessions", e.Store.Len(),
		"proxies", e.Proxies.Len(),
		"snapshot_backend", cfg.SnapshotBackend,
	)
	return e, nil
}

func newTransport(cfg *config.Config) transport.Transport {
	if cfg.Transport == "tls" {
		return transport.NewTLSTransport(
			transport.WithTLSTimeout(cfg.ResponseTimeout),
			transport.WithTLSMaxBodySize(cfg.MaxBodySize),
		)
	}
	return transport.NewHTTPTransport(
		transport.WithConnectTimeout(cfg.ConnectTimeout),
		transport.WithResponseTimeout(cfg.ResponseTimeout),
		transport.WithMaxBodySize(cfg.MaxBodySize),
	)
}

func newGovernor(scheduler string, cfg ratelimit.Config, logger *slog.Logger) (ratelimit.Governor, error) {
	if scheduler == "bucket" {
		return ratelimit.NewBucket(cfg, ratelimit.WithLogger(logger))
	}
	return ratelimit.NewWindow(cfg, ratelimit.WithLogger(logger))
}

func (e *Engine) buildProxies(ctx context.Context, cfg *config.Config) error {
	strategy, err := proxy.ParseStrategy(cfg.ProxyStrategy)
	if err != nil {
		return err
	}
	e.Proxies = proxy.NewPool(proxy.WithStrategy(strategy), proxy.WithLogger(e.logger))

	if cfg.ProxyFile != "" {
		uris, err := proxy.LoadFile(cfg.ProxyFile)
		if err != nil {
			return fmt.Errorf("failed to load proxy list: %w", err)
		}
		if err := e.Proxies.Add(uris...); err != nil {
			return err
		}
	}

	if cfg.EmbeddedTor {
		t := tor.NewEmbeddedTor(tor.WithStartupTimeout(cfg.TorStartupTimeout))
		e.logger.Info("starting embedded Tor daemon")
		if err := t.Start(ctx); err != nil {
			return err
		}
		e.closers = append(e.closers, t.Stop)
		uri, err := t.ProxyURI()
		if err != nil {
			return err
		}
		if err := e.Proxies.Add(uri); err != nil {
			return err
		}
	}

	if cfg.ProxyHealthCheck && e.Proxies.Len() > 0 {
		prober, err := tor.NewProber(probeTarget(cfg.BaseURL), cfg.ConnectTimeout)
		if err != nil {
			return err
		}
		healthy := e.Proxies.HealthCheck(ctx, prober.Probe, cfg.Workers)
		e.logger.Info("proxy health check complete", "healthy", healthy, "total", e.Proxies.Len())
	}
	return nil
}

// probeTarget returns host:port of the API for proxy CONNECT probes.
func probeTarget(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Hostname() == "" {
		return "i.instagram.com:443"
	}
	if port := u.Port(); port != "" {
		return net.JoinHostPort(u.Hostname(), port)
	}
	if u.Scheme == "http" {
		return net.JoinHostPort(u.Hostname(), "80")
	}
	return net.JoinHostPort(u.Hostname(), "443")
}

func (e *Engine) buildSnapshots(cfg *config.Config) (session.SnapshotStore, error) {
	switch cfg.SnapshotBackend {
	case "sqlite":
		db, err := e.openDatabase(cfg.DBDir)
		if err != nil {
			return nil, err
		}
		e.History = db
		return db, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		e.closers = append(e.closers, client.Close)
		return session.NewRedisSnapshotStore(client, cfg.RedisPrefix, cfg.RedisTTL), nil
	default:
		return session.NewFileSnapshotStore(cfg.SnapshotDir)
	}
}

func (e *Engine) openDatabase(dir string) (*database.SnapshotDB, error) {
	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, db.Close)
	return db, nil
}

// loadSessions adds one session per account. A persisted snapshot, when
// present, replaces the tokens from the credential file since it is the
// fresher of the two.
func (e *Engine) loadSessions(ctx context.Context, accounts []session.Credentials) {
	for _, c := range accounts {
		s := session.New(c)
		e.Store.Add(s)
		changed, err := e.Store.Reload(ctx, s)
		switch {
		case err == nil && changed:
			e.logger.Debug("session restored from snapshot", "account", s.ID())
		case err != nil && !errors.Is(err, session.ErrSnapshotNotFound):
			e.logger.Warn("failed to restore session snapshot", "account", s.ID(), "error", err)
		}
	}
}

func (e *Engine) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	e.metricsLn = ln
	e.closers = append(e.closers, srv.Close)
	e.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

// MetricsAddr returns the address metrics are served on, or "" when the
// metrics server is disabled.
func (e *Engine) MetricsAddr() string {
	if e.metricsLn == nil {
		return ""
	}
	return e.metricsLn.Addr().String()
}

// PersistSessions writes a snapshot of every session. Errors are joined.
func (e *Engine) PersistSessions(ctx context.Context) error {
	var errs []error
	for _, s := range e.Store.All() {
		if err := e.Store.Persist(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every resource in reverse construction order. It is safe
// to call more than once.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
