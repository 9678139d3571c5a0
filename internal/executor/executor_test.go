package executor

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
	"github.com/mpython77/instaapi-sub001/internal/challenge"
	"github.com/mpython77/instaapi-sub001/internal/database"
	"github.com/mpython77/instaapi-sub001/internal/events"
	"github.com/mpython77/instaapi-sub001/internal/identity"
	"github.com/mpython77/instaapi-sub001/internal/proxy"
	"github.com/mpython77/instaapi-sub001/internal/ratelimit"
	"github.com/mpython77/instaapi-sub001/internal/session"
	"github.com/mpython77/instaapi-sub001/internal/transport"
)

// script replays responses in order and records the requests it saw.
type script struct {
	mu        sync.Mutex
	responses []func(*transport.Request) (*transport.Response, error)
	requests  []*transport.Request
}

func (s *script) Do(_ context.Context, req *transport.Request) (*transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	resp, err := s.responses[i](req)
	if resp != nil {
		resp.RequestID = req.ID
		if resp.Header == nil {
			resp.Header = http.Header{}
		}
	}
	return resp, err
}

func (s *script) seen() []*transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*transport.Request(nil), s.requests...)
}

func reply(status int, body string) func(*transport.Request) (*transport.Response, error) {
	return func(*transport.Request) (*transport.Response, error) {
		return &transport.Response{Status: status, Body: []byte(body)}, nil
	}
}

const okBody = `{"status":"ok","user":{"pk":"1"}}`

func newTestGovernor(t *testing.T) ratelimit.Governor {
	t.Helper()
	cfg := ratelimit.DefaultConfig()
	cfg.Default = ratelimit.Limit{Calls: 1000, Period: time.Second}
	cfg.PauseDuration = 10 * time.Millisecond
	cfg.Cooldown = 50 * time.Millisecond
	g, err := ratelimit.NewWindow(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func newTestSession(id string) *session.Session {
	return session.New(session.Credentials{AccountID: id, SessionID: id + "%3Aabc", CSRFToken: "csrf-" + id})
}

func fastBackoff() Backoff {
	return Backoff{Base: 5 * time.Millisecond, Factor: 2, Max: 50 * time.Millisecond}
}

func newTestExecutor(t *testing.T, tr transport.Transport, store *session.Store, rotator *identity.Rotator, opts ...Option) *Executor {
	t.Helper()
	if rotator == nil {
		rotator = identity.NewRotator(nil, identity.WithDelays(0, 0), identity.WithSeed(1))
	}
	opts = append([]Option{WithBackoff(fastBackoff()), WithBaseURL("https://api.test")}, opts...)
	return New(tr, store, newTestGovernor(t), rotator, opts...)
}

func TestExecuteRateLimitThenSuccess(t *testing.T) {
	t.Parallel()

	tr := &script{responses: []func(*transport.Request) (*transport.Response, error){
		reply(http.StatusTooManyRequests, `{"status":"fail","message":"Please wait a few minutes"}`),
		reply(http.StatusOK, okBody),
	}}
	store := session.NewStore()
	store.Add(newTestSession("a"), newTestSession("b"))

	pool := proxy.NewPool(proxy.WithStrategy(proxy.RoundRobin))
	if err := pool.Add("http://10.0.0.1:8080", "http://10.0.0.2:8080"); err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus(nil)
	var retries atomic.Int32
	bus.Subscribe(func(e events.Event) {
		if e.Type == events.TypeRetry {
			retries.Add(1)
		}
	})

	ex := newTestExecutor(t, tr, store, nil, WithProxyPool(pool), WithEventBus(bus))
	res, err := ex.Execute(context.Background(), Call{Method: "GET", Target: "/api/v1/users/1/info/", Category: "users"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if res.Payload["status"] != "ok" {
		t.Errorf("Payload = %v", res.Payload)
	}
	if res.SessionID != "a" {
		t.Errorf("SessionID = %q, want the rate-limited session to be kept", res.SessionID)
	}

	reqs := tr.seen()
	if len(reqs) != 2 {
		t.Fatalf("transport saw %d requests, want 2", len(reqs))
	}
	if reqs[0].Header.Get("User-Agent") == reqs[1].Header.Get("User-Agent") {
		t.Error("identity not rotated between attempts")
	}
	if reqs[0].Proxy == reqs[1].Proxy {
		t.Errorf("proxy not rotated: both attempts used %s", reqs[0].Proxy)
	}
	if reqs[0].URL != "https://api.test/api/v1/users/1/info/" {
		t.Errorf("URL = %q", reqs[0].URL)
	}
	if retries.Load() != 1 {
		t.Errorf("retry events = %d, want 1", retries.Load())
	}
}

type fakeResolver struct {
	calls atomic.Int32
	state challenge.State
	err   error
	path  atomic.Value
}

func (f *fakeResolver) Resolve(_ context.Context, _ *session.Session, ch *apierr.Challenge) (challenge.State, error) {
	f.calls.Add(1)
	if ch != nil {
		f.path.Store(ch.Path)
	}
	return f.state, f.err
}

func TestExecuteChallenge(t *testing.T) {
	t.Parallel()

	challengeBody := `{"status":"fail","message":"challenge_required","challenge":{"api_path":"/challenge/1/abc/"}}`

	t.Run("resolved then retried once", func(t *testing.T) {
		t.Parallel()

		tr := &script{responses: []func(*transport.Request) (*transport.Response, error){
			reply(http.StatusBadRequest, challengeBody),
			reply(http.StatusOK, okBody),
		}}
		store := session.NewStore()
		store.Add(newTestSession("a"), newTestSession("b"))
		res := &fakeResolver{state: challenge.StateResolved}

		ex := newTestExecutor(t, tr, store, nil, WithResolver(res))
		got, err := ex.Execute(context.Background(), Call{Target: "/api/v1/feed/timeline/"})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if res.calls.Load() != 1 {
			t.Errorf("resolver called %d times, want 1", res.calls.Load())
		}
		if p, _ := res.path.Load().(string); p != "/challenge/1/abc/" {
			t.Errorf("challenge path = %q", p)
		}
		if got.Attempts != 2 || got.SessionID != "a" {
			t.Errorf("Attempts = %d, SessionID = %q", got.Attempts, got.SessionID)
		}
	})

	t.Run("unresolved surfaces the original kind", func(t *testing.T) {
		t.Parallel()

		tr := &script{responses: []func(*transport.Request) (*transport.Response, error){
			reply(http.StatusBadRequest, challengeBody),
		}}
		store := session.NewStore()
		store.Add(newTestSession("a"))
		res := &fakeResolver{state: challenge.StateFailed, err: challenge.ErrResolutionFailed}

		ex := newTestExecutor(t, tr, store, nil, WithResolver(res))
		_, err := ex.Execute(context.Background(), Call{Target: "/api/v1/feed/timeline/"})
		if !errors.Is(err, apierr.ErrChallengeRequired) {
			t.Fatalf("error = %v, want challenge_required", err)
		}
		if len(tr.seen()) != 1 {
			t.Errorf("transport saw %d requests, want 1", len(tr.seen()))
		}
	})

	t.Run("no resolver keeps the challenge context", func(t *testing.T) {
		t.Parallel()

		tr := &script{responses: []func(*transport.Request) (*transport.Response, error){
			reply(http.StatusBadRequest, challengeBody),
		}}
		store := session.NewStore()
		store.Add(newTestSession("a"))

		ex := newTestExecutor(t, tr, store, nil)
		_, err := ex.Execute(context.Background(), Call{Target: "/api/v1/feed/timeline/"})
		var apiErr *apierr.Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("error = %v, want *apierr.Error", err)
		}
		if apiErr.Challenge == nil || apiErr.Challenge.Path != "/challenge/1/abc/" {
			t.Errorf("Challenge = %+v", apiErr.Challenge)
		}
	})
}

func TestExecuteRefreshFromSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs, err := session.NewFileSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rotated := newTestSession("a")
	rotated.SetAuthorization("Bearer IGT:2:rotated")
	if err := fs.Save(ctx, rotated.Snapshot()); err != nil {
		t.Fatal(err)
	}

	var reauths, relogins atomic.Int32
	store := session.NewStore(
		session.WithSnapshotStore(fs),
		session.WithRefreshers(
			func(context.Context, *session.Session) error {
				reauths.Add(1)
				return errors.New("rejected")
			},
			func(context.Context, *session.Session) error {
				relogins.Add(1)
				return nil
			}),
	)
	store.Add(session.New(session.Credentials{AccountID: "a", SessionID: "a%3Aabc", Password: "pw"}))

	tr := &script{responses: []func(*transport.Request) (*transport.Response, error){
		func(req *transport.Request) (*transport.Response, error) {
			if req.Header.Get("Authorization") == "Bearer IGT:2:rotated" {
				return &transport.Response{Status: http.StatusOK, Body: []byte(okBody)}, nil
			}
			return &transport.Response{Status: http.StatusUnauthorized, Body: []byte(`{"status":"fail","message":"login_required"}`)}, nil
		},
	}}
	rotator := identity.NewRotator(nil, identity.WithMobileOnly(), identity.WithDelays(0, 0), identity.WithSeed(1))

	ex := newTestExecutor(t, tr, store, rotator)
	res, err := ex.Execute(ctx, Call{Target: "/api/v1/accounts/current_user/"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if reauths.Load() != 1 {
		t.Errorf("reauth called %d times, want 1", reauths.Load())
	}
	if relogins.Load() != 0 {
		t.Error("relogin called although the snapshot reload succeeded")
	}
}

func TestExecuteRefreshFailurePropagates(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	store.Add(newTestSession("a"))
	tr := &script{responses: []func(*transport.Request) (*transport.Response, error){
		reply(http.StatusUnauthorized, `{"status":"fail"}`),
	}}

	ex := newTestExecutor(t, tr, store, nil)
	_, err := ex.Execute(context.Background(), Call{Target: "/x"})
	if !errors.Is(err, apierr.ErrAuthenticationExpired) {
		t.Fatalf("error = %v, want authentication_expired", err)
	}
	if len(tr.seen()) != 1 {
		t.Errorf("transport saw %d requests, want 1", len(tr.seen()))
	}
}

func TestExecuteNoSessionsFailsFast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store func() *session.Store
	}{
		{"empty store", func() *session.Store { return session.NewStore() }},
		{"only invalid sessions", func() *session.Store {
			st := session.NewStore(session.WithReactivationBudget(1))
			s := newTestSession("a")
			s.Invalidate()
			st.Add(s)
			return st
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := &script{responses: []func(*transport.Request) (*transport.Response, error){reply(http.StatusOK, okBody)}}
			ex := newTestExecutor(t, tr, tt.store(), nil)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := ex.Execute(ctx, Call{Target: "/x"})
			if !errors.Is(err, apierr.ErrAuthenticationExpired) {
				t.Fatalf("error = %v, want authentication_expired", err)
			}
			if len(tr.seen()) != 0 {
				t.Error("transport called without a session")
			}
		})
	}
}

func TestExecuteTerminalKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found", http.StatusNotFound, `{}`, apierr.ErrResourceNotFound},
		{"private", http.StatusBadRequest, `{"status":"fail","message":"Not authorized to view user"}`, apierr.ErrPrivateResource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := &script{responses: []func(*transport.Request) (*transport.Response, error){reply(tt.status, tt.body)}}
			store := session.NewStore()
			s := newTestSession("a")
			store.Add(s)

			ex := newTestExecutor(t, tr, store, nil)
			_, err := ex.Execute(context.Background(), Call{Target: "/x"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if len(tr.seen()) != 1 {
				t.Errorf("transport saw %d requests, want 1", len(tr.seen()))
			}
			if s.Stats().Errors != 0 {
				t.Error("terminal kind counted against the session")
			}
		})
	}
}

func TestExecuteExhaustionKeepsOriginalKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		step func(*transport.Request) (*transport.Response, error)
		want error
	}{
		{"server error", reply(http.StatusServiceUnavailable, ``), apierr.ErrTransientNetworkFailure},
		{"transport error", func(*transport.Request) (*transport.Response, error) {
			return nil, &transport.Error{Op: "GET", Phase: transport.PhaseConnect, Timeout: true, Err: errors.New("i/o timeout")}
		}, apierr.ErrTransientNetworkFailure},
		{"rate limited", reply(http.StatusTooManyRequests, ``), apierr.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := &script{responses: []func(*transport.Request) (*transport.Response, error){tt.step}}
			store := session.NewStore()
			store.Add(newTestSession("a"))

			ex := newTestExecutor(t, tr, store, nil, WithMaxAttempts(3))
			_, err := ex.Execute(context.Background(), Call{Target: "/x"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if len(tr.seen()) != 3 {
				t.Errorf("transport saw %d requests, want 3", len(tr.seen()))
			}
		})
	}
}

func TestExecuteProtocolErrorPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy apierr.Policy
		want   int
	}{
		{"not retried by default", apierr.Policy{}, 1},
		{"retried when marked", apierr.Policy{RetryProtocolErrors: true}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := &script{responses: []func(*transport.Request) (*transport.Response, error){
				reply(http.StatusBadRequest, `{"status":"fail","message":"something odd"}`),
			}}
			store := session.NewStore()
			store.Add(newTestSession("a"))

			ex := newTestExecutor(t, tr, store, nil, WithPolicy(tt.policy))
			_, err := ex.Execute(context.Background(), Call{Target: "/x"})
			if !errors.Is(err, apierr.ErrProtocolError) {
				t.Fatalf("error = %v, want protocol_error", err)
			}
			if got := len(tr.seen()); got != tt.want {
				t.Errorf("transport saw %d requests, want %d", got, tt.want)
			}
		})
	}
}

func TestExecuteCancelled(t *testing.T) {
	t.Parallel()

	tr := &script{responses: []func(*transport.Request) (*transport.Response, error){reply(http.StatusOK, okBody)}}
	store := session.NewStore()
	store.Add(newTestSession("a"))
	ex := newTestExecutor(t, tr, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ex.Execute(ctx, Call{Target: "/x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(tr.seen()) != 0 {
		t.Error("transport called after cancellation")
	}
}

func TestExecuteBuildsRequest(t *testing.T) {
	t.Parallel()

	tr := &script{responses: []func(*transport.Request) (*transport.Response, error){reply(http.StatusOK, okBody)}}
	store := session.NewStore()
	s := newTestSession("b")
	store.Add(newTestSession("a"), s)
	ex := newTestExecutor(t, tr, store, nil)

	_, err := ex.Execute(context.Background(), Call{
		Method:  "POST",
		Target:  "https://other.test/api/v1/friendships/create/9/",
		Form:    url.Values{"user_id": {"9"}},
		Header:  transport.Header{{Name: "X-Extra", Value: "1"}},
		Session: s,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	req := tr.seen()[0]
	if req.URL != "https://other.test/api/v1/friendships/create/9/" {
		t.Errorf("URL = %q", req.URL)
	}
	if string(req.Body) != "user_id=9" {
		t.Errorf("Body = %q", req.Body)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded; charset=UTF-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if req.Header.Get("X-Extra") != "1" {
		t.Error("call header missing")
	}
	if req.Header.Get("X-CSRFToken") != "csrf-b" {
		t.Errorf("X-CSRFToken = %q, want the override session's token", req.Header.Get("X-CSRFToken"))
	}
}

type memRecorder struct {
	mu       sync.Mutex
	attempts []database.Attempt
}

func (m *memRecorder) RecordAttempt(_ context.Context, a *database.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

func TestExecuteRecordsAttempts(t *testing.T) {
	t.Parallel()

	tr := &script{responses: []func(*transport.Request) (*transport.Response, error){
		reply(http.StatusBadGateway, ``),
		reply(http.StatusOK, okBody),
	}}
	store := session.NewStore()
	store.Add(newTestSession("a"))
	rec := &memRecorder{}

	ex := newTestExecutor(t, tr, store, nil, WithRecorder(rec))
	if _, err := ex.Execute(context.Background(), Call{Target: "/x", Category: "feed"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.attempts) != 2 {
		t.Fatalf("recorded %d attempts, want 2", len(rec.attempts))
	}
	if rec.attempts[0].Kind != apierr.KindTransientNetworkFailure.String() || rec.attempts[1].Kind != "" {
		t.Errorf("kinds = %q, %q", rec.attempts[0].Kind, rec.attempts[1].Kind)
	}
	if rec.attempts[1].Attempt != 2 || rec.attempts[1].Category != "feed" {
		t.Errorf("second attempt = %+v", rec.attempts[1])
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: 100 * time.Millisecond, Factor: 2, Max: time.Second}
	tests := []struct {
		retry  int
		jitter time.Duration
		want   time.Duration
	}{
		{0, 0, 100 * time.Millisecond},
		{1, 0, 200 * time.Millisecond},
		{2, 50 * time.Millisecond, 450 * time.Millisecond},
		{5, 0, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.retry, tt.jitter); got != tt.want {
			t.Errorf("Delay(%d, %v) = %v, want %v", tt.retry, tt.jitter, got, tt.want)
		}
	}
}
