package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
	"github.com/mpython77/instaapi-sub001/internal/identity"
	"github.com/mpython77/instaapi-sub001/internal/markup"
	"github.com/mpython77/instaapi-sub001/internal/session"
	"github.com/mpython77/instaapi-sub001/internal/transport"
)

// Mode decides what a second caller does while a resolution runs.
type Mode int

const (
	// ModeWait makes the second caller wait and share the result.
	ModeWait Mode = iota
	// ModeFailFast makes the second caller fail with
	// ErrResolutionInProgress.
	ModeFailFast
)

// ParseMode parses "wait" or "fail_fast".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wait":
		return ModeWait, nil
	case "fail_fast", "failfast", "fail-fast":
		return ModeFailFast, nil
	}
	return ModeWait, fmt.Errorf("unknown challenge mode %q", s)
}

// Default paths.
const (
	DefaultPathPrefix   = "/api/v1"
	DefaultMutationPath = "/api/v1/bloks/apps/com.instagram.challenge.navigation.take_challenge/"
)

// TransitionFunc observes state changes.
type TransitionFunc func(account string, from, to State)

// Resolver resolves challenges for sessions.
type Resolver struct {
	transport    transport.Transport
	baseURL      string
	codes        CodeProvider
	mode         Mode
	profile      identity.Profile
	pathPrefix   string
	mutationPath string
	onTransition TransitionFunc
	now          func() time.Time
	logger       *slog.Logger

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]struct{}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMode sets the concurrency mode.
func WithMode(m Mode) Option {
	return func(r *Resolver) { r.mode = m }
}

// WithProfile sets the client profile used for challenge calls.
func WithProfile(p identity.Profile) Option {
	return func(r *Resolver) { r.profile = p }
}

// WithPaths overrides the API prefix prepended to challenge paths and the
// structured mutation path.
func WithPaths(prefix, mutation string) Option {
	return func(r *Resolver) {
		r.pathPrefix = prefix
		if mutation != "" {
			r.mutationPath = mutation
		}
	}
}

// WithTransitionFunc registers an observer for state changes.
func WithTransitionFunc(fn TransitionFunc) Option {
	return func(r *Resolver) { r.onTransition = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a Resolver. codes may be nil, in which case every
// resolution fails with ErrNoCodeProvider before contacting the upstream.
func NewResolver(t transport.Transport, baseURL string, codes CodeProvider, opts ...Option) *Resolver {
	r := &Resolver{
		transport:    t,
		baseURL:      strings.TrimRight(baseURL, "/"),
		codes:        codes,
		profile:      identity.DefaultProfiles()[2],
		pathPrefix:   DefaultPathPrefix,
		mutationPath: DefaultMutationPath,
		now:          time.Now,
		logger:       slog.Default(),
		inflight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs one resolution for s. It returns StateResolved on success
// and StateFailed with an error otherwise.
func (r *Resolver) Resolve(ctx context.Context, s *session.Session, ch *apierr.Challenge) (State, error) {
	key := s.ID()

	if r.mode == ModeFailFast {
		r.mu.Lock()
		if _, busy := r.inflight[key]; busy {
			r.mu.Unlock()
			return StateFailed, ErrResolutionInProgress
		}
		r.inflight[key] = struct{}{}
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, key)
			r.mu.Unlock()
		}()
		return r.run(ctx, s, ch)
	}

	v, err, shared := r.group.Do(key, func() (any, error) {
		state, err := r.run(ctx, s, ch)
		return state, err
	})
	if shared {
		r.logger.Debug("joined running challenge resolution", "account", key)
	}
	state, _ := v.(State)
	return state, err
}

// resolution is one run of the state machine.
type resolution struct {
	r     *Resolver
	s     *session.Session
	state State
}

func (res *resolution) enter(to State) {
	from := res.state
	res.state = to
	res.r.logger.Debug("challenge state", "account", res.s.ID(), "from", from.String(), "to", to.String())
	if res.r.onTransition != nil {
		res.r.onTransition(res.s.ID(), from, to)
	}
}

func (res *resolution) fail(err error) (State, error) {
	res.enter(StateFailed)
	res.r.logger.Warn("challenge resolution failed", "account", res.s.ID(), "error", err)
	return StateFailed, fmt.Errorf("%w: %w", ErrResolutionFailed, err)
}

func (r *Resolver) run(ctx context.Context, s *session.Session, ch *apierr.Challenge) (State, error) {
	res := &resolution{r: r, s: s, state: StateStart}
	started := r.now()

	if ch == nil || (ch.Path == "" && ch.URL == "") {
		return res.fail(ErrNoChallengeReference)
	}

	// Without a provider the warm-up would only trigger a delivery nobody
	// can read.
	if r.codes == nil {
		return res.fail(ErrNoCodeProvider)
	}

	res.enter(StateWarmUp)
	cctx, err := r.warmUp(ctx, s, ch)
	if err != nil {
		return res.fail(err)
	}

	res.enter(StateAwaitingCode)
	code, err := r.codes.Code(ctx, CodeRequest{
		Account: s.ID(),
		Channel: cctx.Channel,
		Contact: cctx.Contact,
		Since:   started,
	})
	if err != nil {
		return res.fail(fmt.Errorf("failed to obtain code: %w", err))
	}
	code = strings.TrimSpace(code)

	res.enter(StateSubmit)
	if err := r.submit(ctx, s, cctx, code); err != nil {
		return res.fail(err)
	}

	res.enter(StateResolved)
	r.logger.Info("challenge resolved", "account", s.ID(), "path", string(cctx.Path), "channel", string(cctx.Channel))
	return StateResolved, nil
}

func (r *Resolver) challengeURL(ch *apierr.Challenge) string {
	if ch.Path != "" {
		p := ch.Path
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		if r.pathPrefix != "" && !strings.HasPrefix(p, r.pathPrefix+"/") {
			p = r.pathPrefix + p
		}
		return r.baseURL + p
	}
	if strings.HasPrefix(ch.URL, "http://") || strings.HasPrefix(ch.URL, "https://") {
		return ch.URL
	}
	return r.baseURL + "/" + strings.TrimLeft(ch.URL, "/")
}

func (r *Resolver) do(ctx context.Context, s *session.Session, method, target string, extra transport.Header, body []byte) (*transport.Response, error) {
	h := r.profile.Headers()
	for _, f := range s.Headers(r.profile.Mobile) {
		h.Set(f.Name, f.Value)
	}
	for _, f := range extra {
		h.Set(f.Name, f.Value)
	}
	resp, err := r.transport.Do(ctx, transport.NewRequest(method, target, h, body))
	if err != nil {
		return nil, err
	}
	s.ApplyResponseHeaders(resp.Header)
	return resp, nil
}

// warmUpBody is the JSON shape of a challenge reference.
type warmUpBody struct {
	StepName         string `json:"step_name"`
	ChallengeContext string `json:"challenge_context"`
	NonceCode        string `json:"nonce_code"`
	ChallengeType    string `json:"challenge_type"`
	StepData         struct {
		Choice       string `json:"choice"`
		Email        string `json:"email"`
		PhoneNumber  string `json:"phone_number"`
		ContactPoint string `json:"contact_point"`
	} `json:"step_data"`
}

func (r *Resolver) warmUp(ctx context.Context, s *session.Session, ch *apierr.Challenge) (*Context, error) {
	cctx := &Context{
		URL:              r.challengeURL(ch),
		Path:             PathLegacy,
		ChallengeContext: ch.Context,
		Channel:          ChannelUnknown,
	}

	resp, err := r.do(ctx, s, http.MethodGet, cctx.URL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("warm-up request failed: %w", err)
	}
	if resp.Status >= 400 {
		return nil, fmt.Errorf("warm-up returned status %d", resp.Status)
	}

	var body warmUpBody
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		r.applyJSON(cctx, body)
	} else if err := r.applyHTML(cctx, resp.Body); err != nil {
		return nil, err
	}

	if err := r.triggerDelivery(ctx, s, cctx); err != nil {
		return nil, err
	}
	return cctx, nil
}

func (r *Resolver) applyJSON(cctx *Context, body warmUpBody) {
	if body.ChallengeContext != "" {
		cctx.ChallengeContext = body.ChallengeContext
	}
	if body.StepName == "" && cctx.ChallengeContext != "" {
		cctx.Path = PathStructured
	}
	cctx.StepName = body.StepName
	cctx.NonceCode = body.NonceCode

	switch {
	case body.StepName == "verify_email", body.StepData.Email != "",
		strings.Contains(strings.ToLower(body.ChallengeType), "email"):
		cctx.Channel = ChannelEmail
		cctx.Contact = body.StepData.Email
	case body.StepName == "verify_phone", body.StepName == "verify_sms", body.StepData.PhoneNumber != "":
		cctx.Channel = ChannelSMS
		cctx.Contact = body.StepData.PhoneNumber
	}
	if cctx.Contact == "" {
		cctx.Contact = body.StepData.ContactPoint
	}
}

// applyHTML reads negotiation tokens from a web checkpoint page.
func (r *Resolver) applyHTML(cctx *Context, page []byte) error {
	p, err := markup.NewParser(cctx.URL)
	if err != nil {
		return err
	}
	doc, err := p.Parse(bytes.NewReader(page))
	if err != nil {
		return fmt.Errorf("failed to parse challenge page: %w", err)
	}
	hidden := doc.HiddenFields()
	cctx.CSRFToken = hidden["csrfmiddlewaretoken"]
	if v := hidden["challenge_context"]; v != "" {
		cctx.ChallengeContext = v
		cctx.Path = PathStructured
	}
	for _, f := range doc.Forms {
		for _, field := range f.Fields {
			if field.Name == "email" || strings.Contains(strings.ToLower(field.Value), "@") {
				cctx.Channel = ChannelEmail
			}
		}
	}
	return nil
}

// triggerDelivery asks the upstream to send the code to an email channel.
func (r *Resolver) triggerDelivery(ctx context.Context, s *session.Session, cctx *Context) error {
	if cctx.Channel != ChannelEmail {
		return nil
	}
	form := url.Values{}
	form.Set("choice", "1")
	if cctx.ChallengeContext != "" {
		form.Set("challenge_context", cctx.ChallengeContext)
	}
	resp, err := r.do(ctx, s, http.MethodPost, cctx.URL, r.formHeaders(s, cctx), []byte(form.Encode()))
	if err != nil {
		return fmt.Errorf("code delivery request failed: %w", err)
	}
	if resp.Status >= 400 {
		return fmt.Errorf("code delivery returned status %d", resp.Status)
	}
	return nil
}

func (r *Resolver) formHeaders(s *session.Session, cctx *Context) transport.Header {
	h := transport.Header{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}}
	csrf := cctx.CSRFToken
	if csrf == "" {
		csrf = s.Cookie(session.CookieCSRFToken)
	}
	if csrf != "" {
		h.Add("X-CSRFToken", csrf)
	}
	return h
}

// submit sends the code once, over the path the warm-up negotiated. The
// structured path needs a challenge context; without one the legacy form
// is used instead. A rejected code is never replayed to the other path.
func (r *Resolver) submit(ctx context.Context, s *session.Session, cctx *Context, code string) error {
	path := cctx.Path
	if path == PathStructured && cctx.ChallengeContext == "" {
		path = PathLegacy
	}

	var (
		resp *transport.Response
		err  error
	)
	if path == PathStructured {
		resp, err = r.submitStructured(ctx, s, cctx, code)
	} else {
		resp, err = r.submitLegacy(ctx, s, cctx, code)
	}
	if err != nil {
		return fmt.Errorf("code submission over %s path failed: %w", path, err)
	}
	if !accepted(resp) {
		r.logger.Debug("challenge code rejected", "account", s.ID(), "path", string(path), "status", resp.Status)
		return ErrCodeRejected
	}
	return nil
}

func (r *Resolver) submitLegacy(ctx context.Context, s *session.Session, cctx *Context, code string) (*transport.Response, error) {
	form := url.Values{}
	form.Set("security_code", code)
	if cctx.NonceCode != "" {
		form.Set("nonce_code", cctx.NonceCode)
	}
	return r.do(ctx, s, http.MethodPost, cctx.URL, r.formHeaders(s, cctx), []byte(form.Encode()))
}

func (r *Resolver) submitStructured(ctx context.Context, s *session.Session, cctx *Context, code string) (*transport.Response, error) {
	payload, err := json.Marshal(map[string]string{
		"challenge_context": cctx.ChallengeContext,
		"security_code":     code,
	})
	if err != nil {
		return nil, err
	}
	extra := transport.Header{{Name: "Content-Type", Value: "application/json"}}
	return r.do(ctx, s, http.MethodPost, r.baseURL+r.mutationPath, extra, payload)
}

// accepted reports whether a submit response signals success: a new
// authenticated session or a structured acceptance.
func accepted(resp *transport.Response) bool {
	if resp.Status >= 400 {
		return false
	}
	if resp.Header.Get(session.HeaderSetAuthorization) != "" {
		return true
	}
	for _, c := range (&http.Response{Header: resp.Header}).Cookies() {
		if c.Name == session.CookieSessionID && c.Value != "" {
			return true
		}
	}

	var body struct {
		Status       string          `json:"status"`
		Action       string          `json:"action"`
		StepName     string          `json:"step_name"`
		LoggedInUser json.RawMessage `json:"logged_in_user"`
		Accepted     bool            `json:"accepted"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return false
	}
	switch {
	case len(body.LoggedInUser) > 0 && string(body.LoggedInUser) != "null":
		return true
	case body.Accepted, body.Action == "close":
		return true
	case body.Status == "ok" && body.StepName == "":
		return true
	}
	return false
}
