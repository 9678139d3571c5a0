package classify

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
	"github.com/mpython77/instaapi-sub001/internal/session"
	"github.com/mpython77/instaapi-sub001/internal/transport"
)

func response(status int, body string) *transport.Response {
	return &transport.Response{
		RequestID: "req-" + body,
		Status:    status,
		Header:    http.Header{},
		Body:      []byte(body),
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		resp     *transport.Response
		wantType Type
		wantKind apierr.Kind
	}{
		{"ok", response(200, `{"status":"ok","user":{"pk":1}}`), Success, apierr.KindNone},
		{"non json ok", response(200, `<html></html>`), Success, apierr.KindNone},
		{"rate limit status", response(429, `{"message":"challenge_required"}`), Failed, apierr.KindRateLimited},
		{"unauthorized", response(401, `{}`), Failed, apierr.KindAuthenticationExpired},
		{"forbidden login required", response(403, `{"message":"login_required","status":"fail"}`), Failed, apierr.KindAuthenticationExpired},
		{"not found", response(404, `{"message":"checkpoint_required"}`), Failed, apierr.KindResourceNotFound},
		{"challenge marker", response(400, `{"message":"challenge_required","challenge":{"api_path":"/challenge/1/abc/","challenge_context":"ctx"},"status":"fail"}`), NeedsVerification, apierr.KindChallengeRequired},
		{"checkpoint marker", response(400, `{"checkpoint_url":"https://i.example.com/challenge/9/x/","status":"fail"}`), NeedsVerification, apierr.KindCheckpointRequired},
		{"consent marker", response(400, `{"consent_required":true,"status":"fail"}`), NeedsVerification, apierr.KindConsentRequired},
		{"spam", response(400, `{"spam":true,"message":"feedback_required","status":"fail"}`), Failed, apierr.KindRateLimited},
		{"keyword private", response(400, `{"message":"Not authorized to view user","status":"fail"}`), Failed, apierr.KindPrivateResource},
		{"keyword login", response(400, `{"message":"login_required","status":"fail"}`), Failed, apierr.KindAuthenticationExpired},
		{"keyword not found", response(400, `{"message":"User not found","status":"fail"}`), Failed, apierr.KindResourceNotFound},
		{"keyword wait", response(400, `{"message":"Please wait a few minutes before you try again.","status":"fail"}`), Failed, apierr.KindRateLimited},
		{"keyword checkpoint", response(400, `{"message":"checkpoint_required","status":"fail"}`), NeedsVerification, apierr.KindCheckpointRequired},
		{"server error", response(502, `bad gateway`), Failed, apierr.KindTransientNetworkFailure},
		{"status fail", response(200, `{"status":"fail","message":"something odd"}`), Failed, apierr.KindProtocolError},
		{"bad request", response(400, `{}`), Failed, apierr.KindProtocolError},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := c.Classify(context.Background(), nil, tt.resp, nil)
			if out.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", out.Type, tt.wantType)
			}
			if out.Kind() != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", out.Kind(), tt.wantKind)
			}
			if out.Status != tt.resp.Status {
				t.Errorf("Status = %d, want %d", out.Status, tt.resp.Status)
			}
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	t.Parallel()

	terr := &transport.Error{Op: "GET", Phase: transport.PhaseConnect, Timeout: true, Err: errors.New("dial timeout")}
	out := New().Classify(context.Background(), nil, nil, terr)
	if out.Kind() != apierr.KindTransientNetworkFailure {
		t.Fatalf("Kind() = %v, want transient", out.Kind())
	}
	if !transport.IsTimeout(out.Err) {
		t.Error("transport error should stay reachable through Unwrap")
	}
	if !errors.Is(out.Err, apierr.ErrTransientNetworkFailure) {
		t.Error("errors.Is should match the kind sentinel")
	}
}

func TestClassifyChallengeContext(t *testing.T) {
	t.Parallel()

	out := New().Classify(context.Background(), nil,
		response(400, `{"message":"challenge_required","challenge":{"api_path":"/challenge/1/abc/","url":"https://i.example.com/challenge/1/abc/","challenge_context":"tok"}}`), nil)
	if out.Verification == nil {
		t.Fatal("Verification = nil")
	}
	if out.Verification.Path != "/challenge/1/abc/" || out.Verification.Context != "tok" {
		t.Errorf("Verification = %+v", out.Verification)
	}
	if out.Err.Challenge != out.Verification {
		t.Error("error should carry the challenge for manual resolution")
	}
}

func TestClassifyLoginRedirect(t *testing.T) {
	t.Parallel()

	resp := response(302, ``)
	resp.Location = "https://www.example.com/accounts/login/?next=/api/"
	out := New().Classify(context.Background(), nil, resp, nil)
	if out.Kind() != apierr.KindAuthenticationExpired {
		t.Errorf("Kind() = %v, want authentication expired", out.Kind())
	}

	other := response(302, ``)
	other.Location = "https://www.example.com/elsewhere/"
	if k := New().Classify(context.Background(), nil, other, nil).Kind(); k != apierr.KindProtocolError {
		t.Errorf("non-login redirect Kind() = %v, want protocol error", k)
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	t.Parallel()

	st := session.NewStore()
	s := session.New(session.Credentials{AccountID: "1", SessionID: "1%3Aa"})
	st.Add(s)

	c := New(WithTokenSink(st))
	resp := response(401, `{"message":"login_required"}`)

	first := c.Classify(context.Background(), s, resp, nil)
	if s.Valid() {
		t.Fatal("session still valid after auth failure")
	}

	// A refresh revives the session; replaying the same response must not
	// invalidate it again.
	if _, err := session.NewStore(session.WithRefreshers(func(context.Context, *session.Session) error { return nil }, nil)).Refresh(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	second := c.Classify(context.Background(), s, resp, nil)
	if first.Kind() != second.Kind() {
		t.Errorf("kinds differ: %v vs %v", first.Kind(), second.Kind())
	}
	if !s.Valid() {
		t.Error("same event invalidated the session twice")
	}
}

func TestClassifyAppliesRotationOnFailure(t *testing.T) {
	t.Parallel()

	s := session.New(session.Credentials{AccountID: "1"})
	resp := response(500, ``)
	resp.Header.Set(session.HeaderSetAuthorization, "Bearer IGT:2:rotated")

	out := New().Classify(context.Background(), s, resp, nil)
	if out.Kind() != apierr.KindTransientNetworkFailure {
		t.Fatalf("Kind() = %v", out.Kind())
	}
	if s.Authorization() != "Bearer IGT:2:rotated" {
		t.Errorf("Authorization() = %q, rotation not applied", s.Authorization())
	}
}

func TestClassifyRetryAfter(t *testing.T) {
	t.Parallel()

	resp := response(429, `{"message":"rate limited"}`)
	resp.Header.Set("Retry-After", "3")
	out := New().Classify(context.Background(), nil, resp, nil)
	if out.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %v, want 3s", out.RetryAfter)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		val  string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"1.2", 2 * time.Second},
		{"garbage", 0},
		{"Mon, 02 Jan 2006 15:04:05 GMT", 0},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			t.Parallel()
			if got := ParseRetryAfter(tt.val); got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.val, got, tt.want)
			}
		})
	}

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(future); got <= 0 || got > time.Minute {
		t.Errorf("ParseRetryAfter(future date) = %v", got)
	}
}
