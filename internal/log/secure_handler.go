package log

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"slices"
	"strings"
)

// sensitiveKeys contains attribute keys that are always masked. Besides
// the generic names it covers the cookies and headers that carry a logged-in
// session. ds_user_id is deliberately absent: it is the public account ID
// and is what log lines are correlated by.
var sensitiveKeys = map[string]bool{
	// headers
	"authorization":        true,
	"cookie":               true,
	"set-cookie":           true,
	"proxy-authorization":  true,
	"x-csrftoken":          true,
	"x-ig-www-claim":       true,
	"ig-set-authorization": true,
	"ig-u-rur":             true,
	"x-mid":                true,

	// Session cookies
	"sessionid":  true,
	"session_id": true,
	"csrftoken":  true,
	"csrf_token": true,
	"mid":        true,
	"ig_did":     true,
	"rur":        true,
	"www_claim":  true,

	// Login and verification
	"password":      true,
	"passwd":        true,
	"enc_password":  true,
	"security_code": true,
	"code":          true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"access_token":  true,
	"refresh_token": true,

	// Proxy credentials
	"proxy_password": true,
	"credential":     true,
	"credentials":    true,
}

// sensitivePatterns match values that are masked regardless of key name.
var sensitivePatterns = []*regexp.Regexp{
	// JWT
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),

	// Bearer tokens, including the app's IGT:2: form
	regexp.MustCompile(`(?i)^bearer\s+.+`),
	regexp.MustCompile(`^IGT:\d:[A-Za-z0-9+/=]+$`),

	// basic auth
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),

	// Session cookie: <account>%3A<random>%3A<n>, raw or decoded
	regexp.MustCompile(`^\d+(%3A|:)[A-Za-z0-9]*[A-Za-z][A-Za-z0-9]*(%3A|:)\d+`),

	// Encrypted login payloads
	regexp.MustCompile(`^#PWD_(INSTAGRAM|BROWSER)[A-Z_]*:\d+:`),

	// Long opaque tokens
	regexp.MustCompile(`^[a-zA-Z0-9]{32,}$`),
}

// MaskValue replaces every redacted value.
const MaskValue = "***REDACTED***"

// SecureHandler redacts credential material from attributes before handing
// records to the wrapped handler. A key in sensitiveKeys, a key containing
// one of sensitiveKeywords, or a string value matching sensitivePatterns is
// replaced by MaskValue. Groups are walked recursively.
//
// Design decision: a handler wrapper rather than a custom logger, so every
// component keeps taking a plain *slog.Logger (tornago included).
type SecureHandler struct {
	next slog.Handler
}

// NewSecureHandler wraps next, or the default handler when next is nil.
func NewSecureHandler(next slog.Handler) *SecureHandler {
	if next == nil {
		next = slog.Default().Handler()
	}
	return &SecureHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redact(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler. Attributes bound here are redacted once,
// up front.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SecureHandler{next: h.next.WithAttrs(redactAll(attrs))}
}

// WithGroup implements slog.Handler.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{next: h.next.WithGroup(name)}
}

func redactAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = redact(a)
	}
	return out
}

func redact(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redactAll(v.Group())...)}
	}

	key := strings.ToLower(a.Key)
	if sensitiveKeys[key] || containsSensitiveKeyword(key) {
		return slog.String(a.Key, MaskValue)
	}
	if v.Kind() == slog.KindString && isSensitiveValue(v.String()) {
		return slog.String(a.Key, MaskValue)
	}
	return slog.Attr{Key: a.Key, Value: v}
}

// sensitiveKeywords mark a key as sensitive when contained anywhere in it.
// "session" alone is not one: session_count and session_state are fine.
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "authorization",
	"credential", "cookie", "sessionid", "csrf", "claim",
}

func containsSensitiveKeyword(key string) bool {
	return slices.ContainsFunc(sensitiveKeywords, func(kw string) bool {
		return strings.Contains(key, kw)
	})
}

func isSensitiveValue(value string) bool {
	return slices.ContainsFunc(sensitivePatterns, func(re *regexp.Regexp) bool {
		return re.MatchString(value)
	})
}

// levelFor maps the CLI verbose flag to a minimum level.
func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// NewSecureLogger returns a redacting text logger writing to w. verbose
// selects Debug; otherwise only warnings and errors are written.
func NewSecureLogger(w io.Writer, verbose bool) *slog.Logger {
	text := slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelFor(verbose)})
	return slog.New(NewSecureHandler(text))
}

// NewSecureJSONLogger is NewSecureLogger with JSON output, for log shipping
// from long-running batch jobs.
func NewSecureJSONLogger(w io.Writer, verbose bool) *slog.Logger {
	js := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelFor(verbose)})
	return slog.New(NewSecureHandler(js))
}
