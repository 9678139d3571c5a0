package auth

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
	"github.com/mpython77/instaapi-sub001/internal/session"
	"github.com/mpython77/instaapi-sub001/internal/transport"
)

// openEnvelope reverses EncryptPassword with the recipient's private key.
func openEnvelope(t *testing.T, formatted string, pub, priv *[32]byte) (keyID byte, ts string, password string) {
	t.Helper()

	parts := strings.SplitN(formatted, ":", 4)
	if len(parts) != 4 || parts[0] != passwordTag || parts[1] != strconv.Itoa(FormatVersion) {
		t.Fatalf("unexpected format %q", formatted)
	}
	ts = parts[2]
	env, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		t.Fatalf("envelope is not base64: %v", err)
	}

	if env[0] != envelopeVersion {
		t.Fatalf("version = %#x, want %#x", env[0], envelopeVersion)
	}
	keyID = env[1]
	sealedLen := int(binary.LittleEndian.Uint16(env[2:4]))
	sealedKey := env[4 : 4+sealedLen]
	tag := env[4+sealedLen : 4+sealedLen+gcmTagSize]
	ciphertext := env[4+sealedLen+gcmTagSize:]

	aesKey, ok := box.OpenAnonymous(nil, sealedKey, pub, priv)
	if !ok {
		t.Fatal("sealed key does not open")
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		t.Fatal(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := gcm.Open(nil, make([]byte, gcm.NonceSize()), append(append([]byte{}, ciphertext...), tag...), []byte(ts))
	if err != nil {
		t.Fatalf("GCM open failed: %v", err)
	}
	return keyID, ts, string(plain)
}

func TestEncryptPassword(t *testing.T) {
	t.Parallel()

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1700000000, 0)

	out, err := EncryptPassword("hunter2", PublicKey{ID: 87, Key: *pub}, now)
	if err != nil {
		t.Fatalf("EncryptPassword() error = %v", err)
	}

	keyID, ts, password := openEnvelope(t, out, pub, priv)
	if keyID != 87 {
		t.Errorf("key id = %d, want 87", keyID)
	}
	if ts != "1700000000" {
		t.Errorf("timestamp = %q, want 1700000000", ts)
	}
	if password != "hunter2" {
		t.Errorf("password = %q, want hunter2", password)
	}
}

func TestEncryptPasswordTimestampIsAuthenticated(t *testing.T) {
	t.Parallel()

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	out, err := EncryptPassword("pw", PublicKey{ID: 1, Key: *pub}, time.Unix(100, 0))
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(out, ":100:", ":101:", 1)

	parts := strings.SplitN(tampered, ":", 4)
	env, _ := base64.StdEncoding.DecodeString(parts[3])
	sealedLen := int(binary.LittleEndian.Uint16(env[2:4]))
	aesKey, ok := box.OpenAnonymous(nil, env[4:4+sealedLen], pub, priv)
	if !ok {
		t.Fatal("sealed key does not open")
	}
	block, _ := aes.NewCipher(aesKey)
	gcm, _ := cipher.NewGCM(block)
	rest := env[4+sealedLen:]
	sealed := append(append([]byte{}, rest[gcmTagSize:]...), rest[:gcmTagSize]...)
	if _, err := gcm.Open(nil, make([]byte, gcm.NonceSize()), sealed, []byte(parts[2])); err == nil {
		t.Error("GCM open succeeded with a different timestamp")
	}
}

func TestEncryptPasswordDeterministicLayout(t *testing.T) {
	t.Parallel()

	pub, _, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	rnd := bytes.NewReader(bytes.Repeat([]byte{7}, 256))
	out, err := encryptPassword(rnd, "abc", PublicKey{ID: 2, Key: *pub}, time.Unix(5, 0))
	if err != nil {
		t.Fatal(err)
	}
	env, _ := base64.StdEncoding.DecodeString(strings.SplitN(out, ":", 4)[3])

	wantSealed := 32 + box.AnonymousOverhead
	if got := int(binary.LittleEndian.Uint16(env[2:4])); got != wantSealed {
		t.Errorf("sealed key length = %d, want %d", got, wantSealed)
	}
	if want := 4 + wantSealed + gcmTagSize + len("abc"); len(env) != want {
		t.Errorf("envelope length = %d, want %d", len(env), want)
	}
}

func TestParsePublicKey(t *testing.T) {
	t.Parallel()

	valid := hex.EncodeToString(bytes.Repeat([]byte{1}, 32))
	tests := []struct {
		name    string
		id, key string
		wantErr bool
	}{
		{"valid", "87", valid, false},
		{"bad id", "x", valid, true},
		{"id overflow", "300", valid, true},
		{"short key", "1", "abcd", true},
		{"not hex", "1", strings.Repeat("zz", 32), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pk, err := ParsePublicKey(tt.id, tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePublicKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidPublicKey) {
				t.Errorf("error = %v, want ErrInvalidPublicKey", err)
			}
			if !tt.wantErr && pk.ID != 87 {
				t.Errorf("ID = %d, want 87", pk.ID)
			}
		})
	}
}

func TestReauthenticate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"accepted", 200, `{"status":"ok","user":{"pk":"1"}}`, false},
		{"no user", 200, `{"status":"ok"}`, true},
		{"unauthorized", 401, `{"message":"login_required"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.Contains(r.Header.Get("Cookie"), "sessionid=1%3Aa") {
					t.Errorf("Cookie = %q, want the session cookie", r.Header.Get("Cookie"))
				}
				w.Header().Set(session.HeaderSetWWWClaim, "claim-2")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := session.New(session.Credentials{AccountID: "1", SessionID: "1%3Aa", CSRFToken: "c"})
			c := NewClient(transport.NewHTTPTransport(), srv.URL)
			err := c.Reauthenticate(context.Background(), s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Reauthenticate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrReauthRejected) {
				t.Errorf("error = %v, want ErrReauthRejected", err)
			}
		})
	}
}

func TestReauthenticateWithoutMaterial(t *testing.T) {
	t.Parallel()

	called := false
	c := NewClient(transport.Func(func(context.Context, *transport.Request) (*transport.Response, error) {
		called = true
		return nil, errors.New("unexpected")
	}), "https://example.invalid")

	err := c.Reauthenticate(context.Background(), session.New(session.Credentials{AccountID: "1"}))
	if !errors.Is(err, ErrReauthRejected) {
		t.Errorf("error = %v, want ErrReauthRejected", err)
	}
	if called {
		t.Error("no request should be sent without session material")
	}
}

// loginServer simulates the key and login endpoints. The login response
// sets sessionID as a cookie unless it is empty. The submitted enc_password
// is sent on the returned channel.
func loginServer(t *testing.T, pub *[32]byte, loginBody, sessionID string) (*httptest.Server, <-chan string) {
	t.Helper()
	submitted := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/web/data/shared_data/":
			w.Header().Set(HeaderKeyID, "42")
			w.Header().Set(HeaderPublicKey, hex.EncodeToString(pub[:]))
			http.SetCookie(w, &http.Cookie{Name: session.CookieCSRFToken, Value: "fresh-csrf"})
			_, _ = w.Write([]byte(`{}`))
		case "/api/v1/web/accounts/login/ajax/":
			if r.Header.Get("X-CSRFToken") != "fresh-csrf" {
				t.Errorf("X-CSRFToken = %q, want fresh-csrf", r.Header.Get("X-CSRFToken"))
			}
			if err := r.ParseForm(); err != nil {
				t.Errorf("ParseForm() error = %v", err)
			}
			submitted <- r.PostForm.Get("enc_password")
			if sessionID != "" {
				http.SetCookie(w, &http.Cookie{Name: session.CookieSessionID, Value: sessionID})
			}
			_, _ = w.Write([]byte(loginBody))
		default:
			http.NotFound(w, r)
		}
	}))
	return srv, submitted
}

func TestRelogin(t *testing.T) {
	t.Parallel()

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		srv, submitted := loginServer(t, pub, `{"authenticated":true,"user":true,"status":"ok"}`, "77%3Anew")
		defer srv.Close()

		s := session.New(session.Credentials{AccountID: "77", Username: "alice", Password: "secret"})
		if err := NewClient(transport.NewHTTPTransport(), srv.URL).Relogin(context.Background(), s); err != nil {
			t.Fatalf("Relogin() error = %v", err)
		}
		if s.Cookie(session.CookieSessionID) != "77%3Anew" {
			t.Errorf("sessionid = %q", s.Cookie(session.CookieSessionID))
		}

		keyID, _, password := openEnvelope(t, <-submitted, pub, priv)
		if keyID != 42 || password != "secret" {
			t.Errorf("envelope = key %d password %q", keyID, password)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()
		srv, _ := loginServer(t, pub, `{"authenticated":false,"user":true,"status":"ok","message":"bad password"}`, "")
		defer srv.Close()

		s := session.New(session.Credentials{AccountID: "77", Username: "alice", Password: "secret"})
		err := NewClient(transport.NewHTTPTransport(), srv.URL).Relogin(context.Background(), s)
		if !errors.Is(err, ErrLoginRejected) {
			t.Errorf("error = %v, want ErrLoginRejected", err)
		}
	})

	t.Run("no fresh session cookie", func(t *testing.T) {
		t.Parallel()
		srv, _ := loginServer(t, pub, `{"authenticated":true,"user":true,"status":"ok"}`, "")
		defer srv.Close()

		s := session.New(session.Credentials{AccountID: "77", SessionID: "77%3Astale%3A1", Username: "alice", Password: "secret"})
		err := NewClient(transport.NewHTTPTransport(), srv.URL).Relogin(context.Background(), s)
		if !errors.Is(err, ErrLoginRejected) {
			t.Errorf("error = %v, want ErrLoginRejected", err)
		}
	})

	t.Run("checkpoint", func(t *testing.T) {
		t.Parallel()
		srv, _ := loginServer(t, pub, `{"message":"checkpoint_required","checkpoint_url":"/challenge/x/","status":"fail"}`, "")
		defer srv.Close()

		s := session.New(session.Credentials{AccountID: "77", Username: "alice", Password: "secret"})
		err := NewClient(transport.NewHTTPTransport(), srv.URL).Relogin(context.Background(), s)
		if !errors.Is(err, apierr.ErrCheckpointRequired) {
			t.Errorf("error = %v, want checkpoint required", err)
		}
	})

	t.Run("no credentials", func(t *testing.T) {
		t.Parallel()
		s := session.New(session.Credentials{AccountID: "77"})
		err := NewClient(transport.NewHTTPTransport(), "http://127.0.0.1:1").Relogin(context.Background(), s)
		if !errors.Is(err, session.ErrNoCredentials) {
			t.Errorf("error = %v, want ErrNoCredentials", err)
		}
	})
}

func TestFetchPublicKeyFromBody(t *testing.T) {
	t.Parallel()

	key := hex.EncodeToString(bytes.Repeat([]byte{9}, 32))
	c := NewClient(transport.Func(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		if _, err := url.Parse(req.URL); err != nil {
			t.Fatal(err)
		}
		return &transport.Response{
			Status: 200,
			Header: http.Header{},
			Body:   []byte(`{"encryption":{"key_id":"12","public_key":"` + key + `","version":"10"}}`),
		}, nil
	}), "https://example.invalid")

	pk, err := c.FetchPublicKey(context.Background(), session.New(session.Credentials{AccountID: "1"}))
	if err != nil {
		t.Fatalf("FetchPublicKey() error = %v", err)
	}
	if pk.ID != 12 || pk.Key[0] != 9 {
		t.Errorf("key = %+v", pk)
	}
}
