package report

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/mpython77/instaapi-sub001/internal/database"
	"github.com/mpython77/instaapi-sub001/internal/proxy"
	"github.com/mpython77/instaapi-sub001/internal/ratelimit"
	"github.com/mpython77/instaapi-sub001/internal/session"
)

// DefaultWindow is how far back attempt history is summarized.
const DefaultWindow = time.Hour

// History is the attempt log read by Collect.
type History interface {
	KindCounts(ctx context.Context, within time.Duration) (map[string]int, error)
	RecentAttempts(ctx context.Context, within time.Duration, limit int) ([]database.Attempt, error)
}

// Input names the components Collect reads. Nil fields are skipped.
type Input struct {
	Store    *session.Store
	Proxies  *proxy.Pool
	Governor ratelimit.Governor
	// Categories lists the rate categories to report headroom for.
	Categories []string
	History    History
	// Window bounds the history summary. Zero means DefaultWindow.
	Window time.Duration
	// Recent caps the attempts listed. Zero lists none.
	Recent int
}

// SessionStatus is one session's health.
type SessionStatus struct {
	Account           string    `json:"account"`
	Valid             bool      `json:"valid"`
	Active            bool      `json:"active"`
	Requests          int       `json:"requests"`
	Errors            int       `json:"errors"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	CooldownUntil     time.Time `json:"cooldown_until,omitzero"`
}

// ProxyStatus is one proxy's score. URI has credentials redacted.
type ProxyStatus struct {
	URI        string        `json:"uri"`
	Active     bool          `json:"active"`
	Successes  int           `json:"successes"`
	Failures   int           `json:"failures"`
	AvgLatency time.Duration `json:"avg_latency"`
	Score      float64       `json:"score"`
}

// CategoryStatus is the headroom left in one rate category.
type CategoryStatus struct {
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
}

// AttemptStatus is one recorded exchange.
type AttemptStatus struct {
	Time     time.Time     `json:"time"`
	Category string        `json:"category"`
	Account  string        `json:"account"`
	Status   int           `json:"status"`
	Kind     string        `json:"kind"`
	Latency  time.Duration `json:"latency"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	GeneratedAt       time.Time        `json:"generated_at"`
	Sessions          []SessionStatus  `json:"sessions"`
	ReactivationsLeft int              `json:"reactivations_left"`
	Proxies           []ProxyStatus    `json:"proxies"`
	Categories        []CategoryStatus `json:"categories"`
	// Paused is the remaining global pause after a rate-limit signal.
	Paused time.Duration `json:"paused"`
	// Kinds counts attempts within Window by outcome kind ("ok" for
	// successes).
	Kinds  map[string]int  `json:"kinds,omitempty"`
	Window time.Duration   `json:"window"`
	Recent []AttemptStatus `json:"recent,omitempty"`
}

// ActiveSessions counts sessions currently eligible for selection.
func (s *Status) ActiveSessions() int {
	n := 0
	for _, ss := range s.Sessions {
		if ss.Active {
			n++
		}
	}
	return n
}

// ActiveProxies counts proxies in rotation.
func (s *Status) ActiveProxies() int {
	n := 0
	for _, p := range s.Proxies {
		if p.Active {
			n++
		}
	}
	return n
}

// TotalAttempts sums Kinds.
func (s *Status) TotalAttempts() int {
	n := 0
	for _, c := range s.Kinds {
		n += c
	}
	return n
}

// SortedKinds returns the kinds ordered by count, highest first, then by
// name.
func (s *Status) SortedKinds() []string {
	kinds := slices.Collect(maps.Keys(s.Kinds))
	slices.SortFunc(kinds, func(a, b string) int {
		if d := s.Kinds[b] - s.Kinds[a]; d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return kinds
}

// Collect builds a Status from in.
func Collect(ctx context.Context, in Input) (*Status, error) {
	st := &Status{GeneratedAt: time.Now(), Window: in.Window}
	if st.Window <= 0 {
		st.Window = DefaultWindow
	}

	if in.Store != nil {
		for _, s := range in.Store.All() {
			stats := s.Stats()
			st.Sessions = append(st.Sessions, SessionStatus{
				Account:           stats.ID,
				Valid:             stats.Valid,
				Active:            stats.Active,
				Requests:          stats.Requests,
				Errors:            stats.Errors,
				ConsecutiveErrors: stats.ConsecutiveErrors,
				CooldownUntil:     stats.CooldownUntil,
			})
		}
		st.ReactivationsLeft = in.Store.ReactivationsLeft()
	}

	if in.Proxies != nil {
		for _, p := range in.Proxies.Snapshot() {
			st.Proxies = append(st.Proxies, ProxyStatus{
				URI:        proxy.Redact(p.URI),
				Active:     p.Active,
				Successes:  p.Successes,
				Failures:   p.Failures,
				AvgLatency: p.AvgLatency,
				Score:      p.Score(),
			})
		}
	}

	if in.Governor != nil {
		for _, name := range in.Categories {
			st.Categories = append(st.Categories, CategoryStatus{Name: name, Remaining: in.Governor.Remaining(name)})
		}
		st.Paused = in.Governor.Paused()
	}

	if in.History != nil {
		kinds, err := in.History.KindCounts(ctx, st.Window)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize attempt history: %w", err)
		}
		st.Kinds = kinds

		if in.Recent > 0 {
			attempts, err := in.History.RecentAttempts(ctx, st.Window, in.Recent)
			if err != nil {
				return nil, fmt.Errorf("failed to read attempt history: %w", err)
			}
			for _, a := range attempts {
				kind := a.Kind
				if kind == "" {
					kind = "ok"
				}
				st.Recent = append(st.Recent, AttemptStatus{
					Time:     a.Timestamp,
					Category: a.Category,
					Account:  a.AccountID,
					Status:   a.StatusCode,
					Kind:     kind,
					Latency:  a.Latency,
				})
			}
		}
	}
	return st, nil
}
