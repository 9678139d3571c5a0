package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
	"github.com/mpython77/instaapi-sub001/internal/challenge"
	"github.com/mpython77/instaapi-sub001/internal/classify"
	"github.com/mpython77/instaapi-sub001/internal/database"
	"github.com/mpython77/instaapi-sub001/internal/events"
	"github.com/mpython77/instaapi-sub001/internal/identity"
	"github.com/mpython77/instaapi-sub001/internal/proxy"
	"github.com/mpython77/instaapi-sub001/internal/ratelimit"
	"github.com/mpython77/instaapi-sub001/internal/session"
	"github.com/mpython77/instaapi-sub001/internal/transport"
)

// Defaults.
const (
	DefaultMaxAttempts = 3
	DefaultCategory    = "default"
)

// Call is one logical API call.
type Call struct {
	Method string
	// Target is an absolute URL or a path joined to the base URL.
	Target   string
	Category string

	// Form is sent url-encoded. It takes precedence over JSON.
	Form url.Values
	// JSON is marshaled as the request body when Form is empty.
	JSON any

	// Header is appended after the identity and session headers.
	Header transport.Header

	// Session overrides round-robin selection.
	Session *session.Session
}

// Result is a successful call.
type Result struct {
	Payload map[string]any
	Raw     []byte
	Status  int
	// Attempts counts exchanges performed, including recovery retries.
	Attempts  int
	SessionID string
}

// Resolver resolves step-up verification for a session.
type Resolver interface {
	Resolve(ctx context.Context, s *session.Session, ch *apierr.Challenge) (challenge.State, error)
}

// Recorder persists attempt history.
type Recorder interface {
	RecordAttempt(ctx context.Context, a *database.Attempt) error
}

// Executor runs calls. It is safe for concurrent use.
type Executor struct {
	transport  transport.Transport
	store      *session.Store
	governor   ratelimit.Governor
	rotator    *identity.Rotator
	proxies    *proxy.Pool
	classifier *classify.Classifier
	resolver   Resolver
	bus        *events.Bus
	recorder   Recorder

	maxAttempts int
	backoff     Backoff
	policy      apierr.Policy
	baseURL     string
	pacing      bool
	logger      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithProxyPool routes attempts through pool, sticky per session.
func WithProxyPool(pool *proxy.Pool) Option {
	return func(e *Executor) {
		e.proxies = pool
	}
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(e *Executor) {
		e.classifier = c
	}
}

// WithResolver enables automatic step-up resolution.
func WithResolver(r Resolver) Option {
	return func(e *Executor) {
		e.resolver = r
	}
}

// WithEventBus emits events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(e *Executor) {
		e.bus = bus
	}
}

// WithRecorder records every attempt.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		e.recorder = r
	}
}

// WithMaxAttempts sets the number of backoff-governed attempts per call.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry backoff.
func WithBackoff(b Backoff) Option {
	return func(e *Executor) {
		e.backoff = b
	}
}

// WithPolicy sets the retry policy.
func WithPolicy(p apierr.Policy) Option {
	return func(e *Executor) {
		e.policy = p
	}
}

// WithBaseURL sets the URL that relative targets are joined to.
func WithBaseURL(u string) Option {
	return func(e *Executor) {
		e.baseURL = strings.TrimRight(u, "/")
	}
}

// WithPacing waits identity.Rotator.Delay(KindNone) before every exchange.
func WithPacing(enabled bool) Option {
	return func(e *Executor) {
		e.pacing = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// New creates an Executor. The store, governor and rotator are required.
func New(t transport.Transport, store *session.Store, governor ratelimit.Governor, rotator *identity.Rotator, opts ...Option) *Executor {
	e := &Executor{
		transport:   t,
		store:       store,
		governor:    governor,
		rotator:     rotator,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.classifier == nil {
		e.classifier = classify.New(classify.WithTokenSink(store), classify.WithLogger(e.logger))
	}
	return e
}

// attempt is the state of one exchange.
type attempt struct {
	req     *transport.Request
	sess    *session.Session
	proxy   string
	out     classify.Outcome
	latency time.Duration
}

// Execute runs call until it succeeds, fails with a non-recoverable kind, or
// exhausts its attempts. A failure is always an *apierr.Error carrying the
// kind that triggered it, except when ctx ends before any attempt was
// classified; then ctx.Err() is returned.
func (e *Executor) Execute(ctx context.Context, call Call) (*Result, error) {
	if call.Category == "" {
		call.Category = DefaultCategory
	}
	if call.Method == "" {
		call.Method = "GET"
	}
	op := call.Method + " " + call.Target

	var (
		lastErr   error
		pinned    = call.Session
		refreshed bool
		resolved  bool
		retries   int
		exchanges int
	)

	for retries < e.maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, orCtx(lastErr, err)
		}

		exchanges++
		at, err := e.exchange(ctx, call, pinned, exchanges)
		if err != nil {
			if ctx.Err() != nil {
				return nil, orCtx(lastErr, err)
			}
			return nil, err
		}

		kind := at.out.Kind()
		if kind == apierr.KindNone {
			e.succeeded(at, call)
			return &Result{
				Payload:   at.out.Payload,
				Raw:       at.out.Raw,
				Status:    at.out.Status,
				Attempts:  exchanges,
				SessionID: at.sess.ID(),
			}, nil
		}

		e.failed(at, call, exchanges)
		at.out.Err.Op = op
		lastErr = at.out.Err

		switch {
		case kind.Terminal():
			return nil, lastErr

		case kind == apierr.KindAuthenticationExpired:
			if refreshed {
				return nil, lastErr
			}
			refreshed = true
			step, rerr := e.store.Refresh(ctx, at.sess)
			if rerr != nil {
				e.logger.Warn("session refresh failed", "account", at.sess.ID(), "error", rerr)
				return nil, lastErr
			}
			e.logger.Info("retrying after session refresh", "account", at.sess.ID(), "step", step)
			pinned = at.sess

		case kind.IsStepUp():
			if e.resolver == nil || resolved {
				return nil, lastErr
			}
			resolved = true
			state, rerr := e.resolver.Resolve(ctx, at.sess, at.out.Verification)
			if state != challenge.StateResolved {
				e.logger.Warn("challenge not resolved",
					"account", at.sess.ID(), "state", state.String(), "error", rerr)
				return nil, lastErr
			}
			pinned = at.sess

		case kind.Retryable(e.policy):
			retries++
			if retries >= e.maxAttempts {
				break
			}
			delay := e.backoff.Delay(retries-1, e.rotator.Delay(kind))
			if ra := min(at.out.RetryAfter, e.backoff.Max); ra > delay {
				delay = ra
			}
			if kind == apierr.KindRateLimited {
				pinned = at.sess
			} else if call.Session == nil {
				pinned = nil
			}
			e.rotate(at)
			e.bus.Emit(events.Event{
				Type:      events.TypeRetry,
				RequestID: at.req.ID,
				Category:  call.Category,
				Account:   at.sess.ID(),
				Attempt:   exchanges,
				Kind:      kind,
				Delay:     delay,
				Err:       lastErr,
			})
			e.logger.Debug("retrying call",
				"op", op, "kind", kind.String(), "retry", retries, "delay", delay)
			if err := sleep(ctx, delay); err != nil {
				return nil, lastErr
			}

		default:
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// exchange performs one attempt. The returned error is set only when no
// exchange happened: ctx ended while waiting or no session is usable.
func (e *Executor) exchange(ctx context.Context, call Call, pinned *session.Session, n int) (*attempt, error) {
	permit, err := e.governor.Acquire(ctx, call.Category)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	sess := pinned
	if sess == nil {
		var ok bool
		if sess, ok = e.store.Get(); !ok {
			return nil, &apierr.Error{
				Kind:    apierr.KindAuthenticationExpired,
				Op:      call.Method + " " + call.Target,
				Message: "no usable session",
			}
		}
	}

	id := e.rotator.Current()
	req, err := e.build(call, sess, id.Profile)
	if err != nil {
		return nil, err
	}
	at := &attempt{req: req, sess: sess}

	if e.proxies != nil {
		if px, ok := e.proxies.Get(sess.ID()); ok {
			at.proxy = px.URI
			req.Proxy = px.URI
		}
	}

	if e.pacing {
		if err := sleep(ctx, e.rotator.Delay(apierr.KindNone)); err != nil {
			return nil, err
		}
	}

	e.bus.Emit(events.Event{
		Type:      events.TypeRequest,
		RequestID: req.ID,
		Category:  call.Category,
		Account:   sess.ID(),
		Proxy:     proxy.Redact(at.proxy),
		Attempt:   n,
	})

	// An abandoned call does not cancel the exchange in flight; the
	// transport's own timeouts bound it.
	start := time.Now()
	resp, terr := e.transport.Do(context.WithoutCancel(ctx), req)
	at.latency = time.Since(start)
	if resp != nil && resp.Latency > 0 {
		at.latency = resp.Latency
	}
	permit.Release()

	at.out = e.classifier.Classify(ctx, sess, resp, terr)
	e.record(ctx, call, at, n)
	return at, nil
}

func (e *Executor) build(call Call, sess *session.Session, p identity.Profile) (*transport.Request, error) {
	target := call.Target
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = e.baseURL + "/" + strings.TrimLeft(target, "/")
	}

	h := p.Headers()
	h = append(h, sess.Headers(p.Mobile)...)

	var body []byte
	switch {
	case len(call.Form) > 0:
		body = []byte(call.Form.Encode())
		h.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	case call.JSON != nil:
		b, err := json.Marshal(call.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = b
		h.Set("Content-Type", "application/json")
	}
	for _, f := range call.Header {
		h.Set(f.Name, f.Value)
	}

	req := transport.NewRequest(call.Method, target, h, body)
	req.Profile = p.TLSProfile
	return req, nil
}

func (e *Executor) succeeded(at *attempt, call Call) {
	e.store.ReportSuccess(at.sess)
	e.rotator.ReportSuccess()
	if e.proxies != nil && at.proxy != "" {
		e.proxies.ReportSuccess(at.proxy, at.latency)
	}
	e.bus.Emit(events.Event{
		Type:      events.TypeSuccess,
		RequestID: at.req.ID,
		Category:  call.Category,
		Account:   at.sess.ID(),
		Proxy:     proxy.Redact(at.proxy),
		Status:    at.out.Status,
		Latency:   at.latency,
	})
}

func (e *Executor) failed(at *attempt, call Call, n int) {
	kind := at.out.Kind()

	e.governor.OnError(kind)
	e.rotator.ReportFailure(kind)
	if e.proxies != nil && at.proxy != "" &&
		(kind == apierr.KindRateLimited || kind == apierr.KindTransientNetworkFailure) {
		e.proxies.ReportFailure(at.proxy)
	}
	if !kind.Terminal() {
		e.store.ReportError(at.sess, at.req.ID, kind == apierr.KindAuthenticationExpired)
	}

	ev := events.Event{
		RequestID: at.req.ID,
		Category:  call.Category,
		Account:   at.sess.ID(),
		Proxy:     proxy.Redact(at.proxy),
		Attempt:   n,
		Status:    at.out.Status,
		Kind:      kind,
		Latency:   at.latency,
		Err:       at.out.Err,
	}
	ev.Type = events.TypeError
	e.bus.Emit(ev)
	switch {
	case kind == apierr.KindRateLimited:
		ev.Type = events.TypeRateLimit
		e.bus.Emit(ev)
	case kind == apierr.KindAuthenticationExpired:
		ev.Type = events.TypeLoginRequired
		e.bus.Emit(ev)
	case kind.IsStepUp():
		ev.Type = events.TypeChallenge
		e.bus.Emit(ev)
	}

	e.logger.Debug("attempt failed",
		"account", at.sess.ID(),
		"category", call.Category,
		"attempt", n,
		"kind", kind.String(),
		"status", at.out.Status)
}

// rotate switches the identity and drops the session's proxy binding.
func (e *Executor) rotate(at *attempt) {
	e.rotator.Rotate()
	if e.proxies != nil {
		e.proxies.Unbind(at.sess.ID())
	}
}

func (e *Executor) record(ctx context.Context, call Call, at *attempt, n int) {
	if e.recorder == nil {
		return
	}
	kind := ""
	if k := at.out.Kind(); k != apierr.KindNone {
		kind = k.String()
	}
	a := &database.Attempt{
		RequestID:  at.req.ID,
		Category:   call.Category,
		AccountID:  at.sess.ID(),
		Proxy:      proxy.Redact(at.proxy),
		Attempt:    n,
		StatusCode: at.out.Status,
		Kind:       kind,
		Latency:    at.latency,
		Timestamp:  time.Now(),
	}
	if err := e.recorder.RecordAttempt(context.WithoutCancel(ctx), a); err != nil {
		e.logger.Warn("failed to record attempt", "error", err)
	}
}

// orCtx prefers the last classified failure over the context error.
func orCtx(lastErr, ctxErr error) error {
	if lastErr != nil {
		return lastErr
	}
	return ctxErr
}
