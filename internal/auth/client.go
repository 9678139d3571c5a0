package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
	"github.com/mpython77/instaapi-sub001/internal/identity"
	"github.com/mpython77/instaapi-sub001/internal/session"
	"github.com/mpython77/instaapi-sub001/internal/transport"
)

// Headers carrying the published password-encryption key.
const (
	HeaderKeyID     = "ig-set-password-encryption-key-id"
	HeaderPublicKey = "ig-set-password-encryption-pub-key"
)

// Default endpoint paths.
const (
	DefaultReauthPath = "/api/v1/accounts/current_user/?edit=true"
	DefaultKeyPath    = "/api/v1/web/data/shared_data/"
	DefaultLoginPath  = "/api/v1/web/accounts/login/ajax/"
)

// Client performs reauthentication and password login.
type Client struct {
	transport  transport.Transport
	baseURL    string
	profile    identity.Profile
	reauthPath string
	keyPath    string
	loginPath  string
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithProfile sets the client profile presented during auth calls.
func WithProfile(p identity.Profile) Option {
	return func(c *Client) { c.profile = p }
}

// WithPaths overrides the reauthentication, key and login paths. Empty
// values keep the defaults.
func WithPaths(reauth, key, login string) Option {
	return func(c *Client) {
		if reauth != "" {
			c.reauthPath = reauth
		}
		if key != "" {
			c.keyPath = key
		}
		if login != "" {
			c.loginPath = login
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client talking to baseURL through t.
func NewClient(t transport.Transport, baseURL string, opts ...Option) *Client {
	c := &Client{
		transport:  t,
		baseURL:    strings.TrimRight(baseURL, "/"),
		profile:    identity.DefaultProfiles()[0],
		reauthPath: DefaultReauthPath,
		keyPath:    DefaultKeyPath,
		loginPath:  DefaultLoginPath,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, s *session.Session, method, path string, extra transport.Header, body []byte) (*transport.Response, error) {
	h := c.profile.Headers()
	for _, f := range s.Headers(c.profile.Mobile) {
		h.Set(f.Name, f.Value)
	}
	for _, f := range extra {
		h.Set(f.Name, f.Value)
	}
	resp, err := c.transport.Do(ctx, transport.NewRequest(method, c.baseURL+path, h, body))
	if err != nil {
		return nil, err
	}
	s.ApplyResponseHeaders(resp.Header)
	return resp, nil
}

// Reauthenticate asks the upstream to re-issue tokens for the existing
// device cookies. No credential material is submitted.
func (c *Client) Reauthenticate(ctx context.Context, s *session.Session) error {
	if s.Cookie(session.CookieSessionID) == "" && s.Authorization() == "" {
		return fmt.Errorf("%w: no session material", ErrReauthRejected)
	}

	resp, err := c.do(ctx, s, http.MethodGet, c.reauthPath, nil, nil)
	if err != nil {
		return fmt.Errorf("reauthentication request failed: %w", err)
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrReauthRejected, resp.Status)
	}

	var body struct {
		Status string          `json:"status"`
		User   json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Status != "ok" || len(body.User) == 0 {
		return fmt.Errorf("%w: no authenticated user in response", ErrReauthRejected)
	}
	c.logger.Debug("session reauthenticated", "account", s.ID())
	return nil
}

// FetchPublicKey reads the published password-encryption key.
func (c *Client) FetchPublicKey(ctx context.Context, s *session.Session) (PublicKey, error) {
	resp, err := c.do(ctx, s, http.MethodGet, c.keyPath, nil, nil)
	if err != nil {
		return PublicKey{}, fmt.Errorf("key request failed: %w", err)
	}

	id, key := resp.Header.Get(HeaderKeyID), resp.Header.Get(HeaderPublicKey)
	if id == "" || key == "" {
		var body struct {
			Encryption struct {
				KeyID     string `json:"key_id"`
				PublicKey string `json:"public_key"`
			} `json:"encryption"`
		}
		if err := json.Unmarshal(resp.Body, &body); err == nil {
			id, key = body.Encryption.KeyID, body.Encryption.PublicKey
		}
	}
	if id == "" || key == "" {
		return PublicKey{}, ErrNoPublicKey
	}
	return ParsePublicKey(id, key)
}

type loginResponse struct {
	Authenticated     bool   `json:"authenticated"`
	User              bool   `json:"user"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	TwoFactorRequired bool   `json:"two_factor_required"`
	CheckpointURL     string `json:"checkpoint_url"`
}

// Relogin performs a full password login with the session's stored
// credentials and stores the resulting tokens in s.
func (c *Client) Relogin(ctx context.Context, s *session.Session) error {
	if s.Username() == "" || s.Password() == "" {
		return session.ErrNoCredentials
	}

	key, err := c.FetchPublicKey(ctx, s)
	if err != nil {
		return err
	}
	encrypted, err := EncryptPassword(s.Password(), key, c.now())
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("username", s.Username())
	form.Set("enc_password", encrypted)
	form.Set("queryParams", "{}")
	form.Set("optIntoOneTap", "false")

	extra := transport.Header{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}}
	if csrf := s.Cookie(session.CookieCSRFToken); csrf != "" {
		extra.Add("X-CSRFToken", csrf)
	}

	// A stale sessionid survives a rejected login, so success means the
	// response issued a new one.
	prevSessionID := s.Cookie(session.CookieSessionID)
	resp, err := c.do(ctx, s, http.MethodPost, c.loginPath, extra, []byte(form.Encode()))
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	sessionID := s.Cookie(session.CookieSessionID)

	var body loginResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return fmt.Errorf("%w: status %d", ErrLoginRejected, resp.Status)
	}
	switch {
	case body.CheckpointURL != "":
		return &apierr.Error{
			Kind:      apierr.KindCheckpointRequired,
			Op:        "relogin",
			Status:    resp.Status,
			Challenge: &apierr.Challenge{URL: body.CheckpointURL},
		}
	case body.TwoFactorRequired:
		return ErrTwoFactorRequired
	case !body.Authenticated || sessionID == "" || sessionID == prevSessionID:
		return fmt.Errorf("%w: %s", ErrLoginRejected, body.Message)
	}

	c.logger.Info("password login succeeded", "account", s.ID())
	return nil
}
