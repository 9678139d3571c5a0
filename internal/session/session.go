package session

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mpython77/instaapi-sub001/internal/transport"
)

// Cookie names.
const (
	CookieCSRFToken = "csrftoken"
	CookieDSUserID  = "ds_user_id"
	CookieIGDID     = "ig_did"
	CookieMID       = "mid"
	CookieRUR       = "rur"
	CookieSessionID = "sessionid"
)

// CookieOrder is the wire order of known cookies. Unknown cookies follow
// in the order they were first seen.
var CookieOrder = []string{
	CookieCSRFToken,
	CookieDSUserID,
	CookieIGDID,
	CookieMID,
	CookieRUR,
	CookieSessionID,
}

// Response headers that rotate per-session protocol tokens.
const (
	HeaderSetAuthorization = "ig-set-authorization"
	HeaderSetMID           = "ig-set-x-mid"
	HeaderSetWWWClaim      = "x-ig-set-www-claim"
	HeaderSetRUR           = "ig-set-ig-u-rur"
	HeaderSetDSUserID      = "ig-set-ig-u-ds-user-id"
)

// emptyBearer is what the upstream sends to clear the authorization token.
const emptyBearer = "Bearer IGT:2:"

// Cookie is one ordered cookie pair.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Credentials is the initial material for one account.
type Credentials struct {
	AccountID     string
	Username      string
	Password      string
	SessionID     string
	CSRFToken     string
	MID           string
	IGDID         string
	RUR           string
	Authorization string
	WWWClaim      string
	DeviceID      string
	UUID          string
}

// Session is one account's live context. All methods are safe for
// concurrent use.
type Session struct {
	mu sync.RWMutex

	id       string
	username string
	password string

	authorization string
	wwwClaim      string
	deviceID      string
	uuid          string
	cookies       []Cookie

	requests          int
	errors            int
	consecutiveErrors int
	valid             bool
	active            bool
	cooldownUntil     time.Time
	dirty             int
	updatedAt         time.Time
	refreshing        bool

	events *eventLedger
}

// New creates a session from credentials.
func New(c Credentials) *Session {
	s := &Session{
		username:      c.Username,
		password:      c.Password,
		authorization: c.Authorization,
		wwwClaim:      c.WWWClaim,
		deviceID:      c.DeviceID,
		uuid:          c.UUID,
		valid:         true,
		active:        true,
		updatedAt:     time.Now(),
		events:        newEventLedger(eventLedgerSize),
	}
	if s.uuid == "" {
		s.uuid = uuid.NewString()
	}
	if s.deviceID == "" {
		s.deviceID = "android-" + strings.ReplaceAll(s.uuid, "-", "")[:16]
	}
	for _, ck := range []Cookie{
		{CookieCSRFToken, c.CSRFToken},
		{CookieDSUserID, c.AccountID},
		{CookieIGDID, c.IGDID},
		{CookieMID, c.MID},
		{CookieRUR, c.RUR},
		{CookieSessionID, c.SessionID},
	} {
		if ck.Value != "" {
			s.setCookieLocked(ck.Name, ck.Value)
		}
	}
	s.id = firstNonEmpty(c.AccountID, accountFromSessionID(c.SessionID), c.Username, s.uuid)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// accountFromSessionID extracts the numeric account id that prefixes a
// session cookie ("12345%3Aabc..." or "12345:abc...").
func accountFromSessionID(sessionID string) string {
	for _, sep := range []string{"%3A", ":"} {
		if i := strings.Index(sessionID, sep); i > 0 {
			return sessionID[:i]
		}
	}
	return ""
}

// ID returns the stable account identifier.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Username returns the login name, if known.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Password returns the stored password. It is never persisted.
func (s *Session) Password() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.password
}

// DeviceID returns the device identifier presented to the upstream.
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// UUID returns the client UUID presented to the upstream.
func (s *Session) UUID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uuid
}

// Authorization returns the bearer token, if any.
func (s *Session) Authorization() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorization
}

// Cookie returns the value of the named cookie.
func (s *Session) Cookie(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookieLocked(name)
}

func (s *Session) cookieLocked(name string) string {
	for _, c := range s.cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Cookies returns a copy of the ordered cookie list.
func (s *Session) Cookies() []Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cookies)
}

// SetCookie sets a cookie, keeping the canonical order.
func (s *Session) SetCookie(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setCookieLocked(name, value) {
		s.touchLocked()
	}
}

func cookieRank(name string) int {
	if i := slices.Index(CookieOrder, name); i >= 0 {
		return i
	}
	return len(CookieOrder)
}

// setCookieLocked reports whether the value changed.
func (s *Session) setCookieLocked(name, value string) bool {
	for i := range s.cookies {
		if s.cookies[i].Name == name {
			if s.cookies[i].Value == value {
				return false
			}
			s.cookies[i].Value = value
			return true
		}
	}
	s.cookies = append(s.cookies, Cookie{Name: name, Value: value})
	slices.SortStableFunc(s.cookies, func(a, b Cookie) int {
		return cookieRank(a.Name) - cookieRank(b.Name)
	})
	return true
}

// CookieHeader renders the Cookie header value in wire order.
func (s *Session) CookieHeader() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := make([]string, 0, len(s.cookies))
	for _, c := range s.cookies {
		if c.Value == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Headers returns the session's protocol headers in wire order. Mobile
// requests authenticate with the bearer token when one exists and fall
// back to cookies otherwise; web requests always use cookies.
func (s *Session) Headers(mobile bool) transport.Header {
	cookie := s.CookieHeader()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var h transport.Header
	if mobile {
		if s.authorization != "" {
			h.Add("Authorization", s.authorization)
		}
		h.Add("X-IG-WWW-Claim", firstNonEmpty(s.wwwClaim, "0"))
		if mid := s.cookieLocked(CookieMID); mid != "" {
			h.Add("X-MID", mid)
		}
		if uid := s.cookieLocked(CookieDSUserID); uid != "" {
			h.Add("IG-U-DS-User-ID", uid)
		}
		if rur := s.cookieLocked(CookieRUR); rur != "" {
			h.Add("IG-U-RUR", rur)
		}
		h.Add("X-IG-Device-ID", s.uuid)
		h.Add("X-IG-Android-ID", s.deviceID)
		if s.authorization == "" && cookie != "" {
			h.Add("Cookie", cookie)
		}
		return h
	}

	h.Add("X-IG-WWW-Claim", firstNonEmpty(s.wwwClaim, "0"))
	if csrf := s.cookieLocked(CookieCSRFToken); csrf != "" {
		h.Add("X-CSRFToken", csrf)
	}
	if cookie != "" {
		h.Add("Cookie", cookie)
	}
	return h
}

// ApplyResponseHeaders copies rotated tokens from a response into the
// session and reports whether anything changed. Changes count towards the
// dirty threshold that triggers a snapshot.
func (s *Session) ApplyResponseHeaders(h http.Header) bool {
	if h == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	if v := h.Get(HeaderSetAuthorization); v != "" && v != emptyBearer && v != s.authorization {
		s.authorization = v
		changed = true
	}
	if v := h.Get(HeaderSetWWWClaim); v != "" && v != s.wwwClaim {
		s.wwwClaim = v
		changed = true
	}
	for header, cookie := range map[string]string{
		HeaderSetMID:      CookieMID,
		HeaderSetRUR:      CookieRUR,
		HeaderSetDSUserID: CookieDSUserID,
	} {
		if v := h.Get(header); v != "" && s.setCookieLocked(cookie, v) {
			changed = true
		}
	}
	for _, c := range (&http.Response{Header: h}).Cookies() {
		if c.Value == "" || c.Value == `""` || c.MaxAge < 0 {
			continue
		}
		if s.setCookieLocked(c.Name, c.Value) {
			changed = true
		}
	}

	if changed {
		s.touchLocked()
	}
	return changed
}

func (s *Session) touchLocked() {
	s.dirty++
	s.updatedAt = time.Now()
}

// MarkEvent records that the side effects of event id have been applied
// to this session. It returns false when id was already recorded, so a
// caller can skip re-applying them. An empty id is never deduplicated.
func (s *Session) MarkEvent(id string) bool {
	if id == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.add(id)
}

// Valid reports whether the session may still authenticate.
func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid
}

// Active reports whether the session is currently in rotation.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Stats is a point-in-time view of a session's health.
type Stats struct {
	ID                string
	Requests          int
	Errors            int
	ConsecutiveErrors int
	Valid             bool
	Active            bool
	CooldownUntil     time.Time
	Dirty             int
	UpdatedAt         time.Time
}

// Stats returns the session's counters.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		ID:                s.id,
		Requests:          s.requests,
		Errors:            s.errors,
		ConsecutiveErrors: s.consecutiveErrors,
		Valid:             s.valid,
		Active:            s.active,
		CooldownUntil:     s.cooldownUntil,
		Dirty:             s.dirty,
		UpdatedAt:         s.updatedAt,
	}
}

// Invalidate marks the session unusable until a refresh succeeds.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
	s.active = false
}

// usableLocked reports whether Get may hand the session out at now,
// reviving it when its cooldown has elapsed.
func (s *Session) usableLocked(now time.Time) bool {
	if !s.valid {
		return false
	}
	if !s.active && !s.cooldownUntil.IsZero() && !now.Before(s.cooldownUntil) {
		s.active = true
		s.consecutiveErrors = 0
		s.cooldownUntil = time.Time{}
	}
	return s.active
}

func (s *Session) beginRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshing {
		return false
	}
	s.refreshing = true
	return true
}

func (s *Session) endRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshing = false
}

// Refreshing reports whether a refresh cascade is running.
func (s *Session) Refreshing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshing
}

// revive marks the session valid and active after a successful refresh.
func (s *Session) revive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = true
	s.active = true
	s.consecutiveErrors = 0
	s.cooldownUntil = time.Time{}
	s.touchLocked()
}

// SetAuthorization replaces the bearer token.
func (s *Session) SetAuthorization(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v != s.authorization {
		s.authorization = v
		s.touchLocked()
	}
}

// fingerprint identifies the authentication material, used to tell
// whether a snapshot carries anything new.
func (s *Session) fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorization + "|" + s.cookieLocked(CookieSessionID) + "|" + s.cookieLocked(CookieCSRFToken)
}

// InvalidateFor invalidates the session as the side effect of event id.
// It reports false, and changes nothing, when id was already applied.
func (s *Session) InvalidateFor(eventID string) bool {
	if eventID != "" && !s.MarkEvent("invalidate:"+eventID) {
		return false
	}
	s.Invalidate()
	return true
}
