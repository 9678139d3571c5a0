package anon

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Record is the canonical profile shape every strategy normalizes to.
type Record struct {
	ID            string `json:"id,omitempty"`
	Username      string `json:"username"`
	FullName      string `json:"full_name,omitempty"`
	Biography     string `json:"biography,omitempty"`
	Followers     int64  `json:"followers"`
	Following     int64  `json:"following"`
	Posts         int64  `json:"posts"`
	IsPrivate     bool   `json:"is_private"`
	IsVerified    bool   `json:"is_verified"`
	ProfilePicURL string `json:"profile_pic_url,omitempty"`
	ExternalURL   string `json:"external_url,omitempty"`
	// Source names the strategy that produced the record.
	Source string `json:"source"`
}

// Empty reports whether the record carries no profile data.
func (r Record) Empty() bool {
	return r.ID == "" && r.FullName == "" && r.Biography == "" &&
		r.Followers == 0 && r.Following == 0 && r.Posts == 0
}

// Matches reports whether the record belongs to username. A record without
// a username matches.
func (r Record) Matches(username string) bool {
	return r.Username == "" || strings.EqualFold(r.Username, username)
}

// toString converts a decoded JSON scalar.
func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func toInt(v any) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case string:
		n, _ := ParseCount(x)
		return n
	default:
		return 0
	}
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	default:
		return false
	}
}

// ParseCount parses human-formatted counts such as "1,234", "12.5K" and
// "3M".
func ParseCount(s string) (int64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, fmt.Errorf("empty count")
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1e3
	case 'm', 'M':
		mult = 1e6
	case 'b', 'B':
		mult = 1e9
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse count %q: %w", s, err)
	}
	return int64(math.Round(f * mult)), nil
}
