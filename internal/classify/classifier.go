package classify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
	"github.com/mpython77/instaapi-sub001/internal/session"
	"github.com/mpython77/instaapi-sub001/internal/transport"
)

// TokenSink receives rotated protocol headers. *session.Store implements
// it and persists snapshots once enough rotations accumulate.
type TokenSink interface {
	UpdateFromResponse(ctx context.Context, s *session.Session, h http.Header) error
}

// Classifier maps responses to outcomes.
type Classifier struct {
	sink      TokenSink
	loginPath string
	logger    *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTokenSink routes header rotation through sink instead of applying
// it to the session directly.
func WithTokenSink(sink TokenSink) Option {
	return func(c *Classifier) { c.sink = sink }
}

// WithLoginPath sets the path fragment that identifies a redirect to the
// login page. Default "/accounts/login".
func WithLoginPath(p string) Option {
	return func(c *Classifier) {
		if p != "" {
			c.loginPath = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		loginPath: "/accounts/login",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const op = "classify"

// Classify maps one attempt to an Outcome. transportErr is the error the
// transport returned, if any; sess may be nil for anonymous calls.
func (c *Classifier) Classify(ctx context.Context, sess *session.Session, resp *transport.Response, transportErr error) Outcome {
	if transportErr != nil || resp == nil {
		if transportErr == nil {
			transportErr = errors.New("no response")
		}
		return failed(&apierr.Error{Kind: apierr.KindTransientNetworkFailure, Op: op, Err: transportErr})
	}

	if sess != nil {
		c.applyRotation(ctx, sess, resp.Header)
	}

	body := decodeObject(resp.Body)
	out := c.classify(resp, body)
	out.Raw = resp.Body
	out.Status = resp.Status
	if out.Err != nil {
		out.Err.Status = resp.Status
	}

	if out.Kind() == apierr.KindAuthenticationExpired && sess != nil {
		if sess.InvalidateFor(resp.RequestID) {
			c.logger.Warn("session invalidated", "account", sess.ID(), "status", resp.Status)
		}
	}
	return out
}

func (c *Classifier) applyRotation(ctx context.Context, sess *session.Session, h http.Header) {
	if c.sink == nil {
		sess.ApplyResponseHeaders(h)
		return
	}
	if err := c.sink.UpdateFromResponse(ctx, sess, h); err != nil {
		c.logger.Warn("failed to store rotated session tokens", "account", sess.ID(), "error", err)
	}
}

func (c *Classifier) classify(resp *transport.Response, body map[string]any) Outcome {
	status := resp.Status
	message := stringField(body, "message")

	// 1. explicit rate limit
	if status == http.StatusTooManyRequests {
		out := failed(&apierr.Error{Kind: apierr.KindRateLimited, Op: op, Message: message})
		out.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"))
		return out
	}

	// 2. expired session
	if c.loginRequired(resp, body, message) {
		return failed(&apierr.Error{Kind: apierr.KindAuthenticationExpired, Op: op, Message: message})
	}

	// 3. missing resource
	if status == http.StatusNotFound {
		return failed(&apierr.Error{Kind: apierr.KindResourceNotFound, Op: op, Message: message})
	}

	// 4. structured step-up markers
	if kind, ch := stepUp(body); kind != apierr.KindNone {
		return needsVerification(kind, ch, message)
	}

	// 5. spam flag
	if boolField(body, "spam") {
		return failed(&apierr.Error{Kind: apierr.KindRateLimited, Op: op, Message: message})
	}

	// 6. message keywords
	if kind := matchKeywords(message); kind != apierr.KindNone {
		if kind.IsStepUp() {
			return needsVerification(kind, &apierr.Challenge{}, message)
		}
		return failed(&apierr.Error{Kind: kind, Op: op, Message: message})
	}

	// 7. server failure
	if status >= 500 {
		return failed(&apierr.Error{Kind: apierr.KindTransientNetworkFailure, Op: op, Message: message})
	}

	// 8. generic failure
	if status >= 300 || stringField(body, "status") == "fail" {
		return failed(&apierr.Error{Kind: apierr.KindProtocolError, Op: op, Message: message})
	}

	return Outcome{Type: Success, Payload: body}
}

func (c *Classifier) loginRequired(resp *transport.Response, body map[string]any, message string) bool {
	switch {
	case resp.Status == http.StatusUnauthorized:
		return true
	case resp.Status >= 300 && resp.Status < 400 && strings.Contains(resp.Location, c.loginPath):
		return true
	case resp.Status == http.StatusForbidden && (message == "login_required" || boolField(body, "require_login")):
		return true
	}
	return false
}

// stepUp inspects structured verification markers.
func stepUp(body map[string]any) (apierr.Kind, *apierr.Challenge) {
	if body == nil {
		return apierr.KindNone, nil
	}
	if ch, ok := body["challenge"].(map[string]any); ok {
		return apierr.KindChallengeRequired, &apierr.Challenge{
			Path:    stringField(ch, "api_path"),
			URL:     stringField(ch, "url"),
			Context: stringField(ch, "challenge_context"),
		}
	}
	if u := stringField(body, "checkpoint_url"); u != "" {
		return apierr.KindCheckpointRequired, &apierr.Challenge{
			URL:  u,
			Path: pathOf(u),
		}
	}
	if boolField(body, "consent_required") {
		return apierr.KindConsentRequired, &apierr.Challenge{
			URL: stringField(body, "consent_url"),
		}
	}
	return apierr.KindNone, nil
}

// keywordFamilies are checked in order; the first family with a matching
// substring wins. Private before login: "not authorized to view" is a
// visibility failure, not an auth failure.
var keywordFamilies = []struct {
	kind     apierr.Kind
	keywords []string
}{
	{apierr.KindChallengeRequired, []string{"challenge_required"}},
	{apierr.KindCheckpointRequired, []string{"checkpoint_required", "checkpoint"}},
	{apierr.KindConsentRequired, []string{"consent_required"}},
	{apierr.KindPrivateResource, []string{"not authorized to view", "this account is private", "private"}},
	{apierr.KindAuthenticationExpired, []string{"login_required", "user_has_logged_out", "not authorized", "session expired", "invalid session"}},
	{apierr.KindResourceNotFound, []string{"not found", "does not exist", "no longer available"}},
	{apierr.KindRateLimited, []string{"please wait a few minutes", "feedback_required", "rate limit", "too many requests"}},
}

func matchKeywords(message string) apierr.Kind {
	if message == "" {
		return apierr.KindNone
	}
	m := strings.ToLower(message)
	for _, fam := range keywordFamilies {
		for _, kw := range fam.keywords {
			if strings.Contains(m, kw) {
				return fam.kind
			}
		}
	}
	return apierr.KindNone
}

func failed(e *apierr.Error) Outcome {
	return Outcome{Type: Failed, Err: e}
}

func needsVerification(kind apierr.Kind, ch *apierr.Challenge, message string) Outcome {
	return Outcome{
		Type:         NeedsVerification,
		Verification: ch,
		Err:          &apierr.Error{Kind: kind, Op: op, Message: message, Challenge: ch},
	}
}

func decodeObject(body []byte) map[string]any {
	if len(body) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil
	}
	return m
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

func pathOf(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		rest := u[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	return u
}

// ParseRetryAfter parses a Retry-After value given in seconds or as an
// HTTP date. It returns 0 when the value is absent, invalid or past.
func ParseRetryAfter(val string) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil && secs >= 0 {
		return time.Duration(math.Ceil(secs)) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
