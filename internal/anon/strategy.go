package anon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/mpython77/instaapi-sub001/internal/markup"
)

// ErrNoProfileData is returned by a strategy whose response held nothing
// it could normalize.
var ErrNoProfileData = errors.New("no profile data in response")

// Strategy is one anonymous retrieval method.
type Strategy interface {
	// Name is used in logs, results and the rate category.
	Name() string
	// Mobile selects an app identity instead of a browser one.
	Mobile() bool
	// Target returns the URL for username, relative to the base URL when
	// it starts with "/".
	Target(username string) string
	// Parse normalizes a successful response body. An empty record with a
	// nil error means "nothing here".
	Parse(body []byte) (Record, error)
}

// JSONStrategy fetches a JSON document and maps it with JMESPath.
type JSONStrategy struct {
	name    string
	target  string
	mobile  bool
	mapping *compiledMapping
}

// NewJSONStrategy creates a strategy. target may contain "{username}".
func NewJSONStrategy(name, target string, mobile bool, m Mapping) (*JSONStrategy, error) {
	cm, err := m.compile()
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	return &JSONStrategy{name: name, target: target, mobile: mobile, mapping: cm}, nil
}

// Name implements Strategy.
func (s *JSONStrategy) Name() string { return s.name }

// Mobile implements Strategy.
func (s *JSONStrategy) Mobile() bool { return s.mobile }

// Target implements Strategy.
func (s *JSONStrategy) Target(username string) string {
	return expand(s.target, username)
}

// Parse implements Strategy.
func (s *JSONStrategy) Parse(body []byte) (Record, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return Record{}, fmt.Errorf("failed to decode %s response: %w", s.name, err)
	}
	return s.mapping.apply(data), nil
}

// MarkupStrategy parses the public profile page: JSON-LD first, then
// OpenGraph meta tags.
type MarkupStrategy struct {
	target  string
	baseURL string
	ldjson  *compiledMapping
}

// ldMapping reads schema.org ProfilePage / Person documents.
var ldMapping = Mapping{
	ID:            "mainEntity.identifier.value || identifier.value",
	Username:      "mainEntity.alternateName || alternateName",
	FullName:      "mainEntity.name || name",
	Biography:     "mainEntity.description || description",
	Followers:     "(mainEntity.interactionStatistic || interactionStatistic)[?contains(interactionType, 'FollowAction')] | [0].userInteractionCount",
	Posts:         "(mainEntity.interactionStatistic || interactionStatistic)[?contains(interactionType, 'WriteAction')] | [0].userInteractionCount",
	ProfilePicURL: "mainEntity.image || image",
	ExternalURL:   "mainEntity.sameAs || sameAs",
}

// NewMarkupStrategy creates the page strategy. target may contain
// "{username}"; baseURL resolves relative links in the page.
func NewMarkupStrategy(target, baseURL string) (*MarkupStrategy, error) {
	cm, err := ldMapping.compile()
	if err != nil {
		return nil, err
	}
	return &MarkupStrategy{target: target, baseURL: baseURL, ldjson: cm}, nil
}

// Name implements Strategy.
func (s *MarkupStrategy) Name() string { return "markup" }

// Mobile implements Strategy.
func (s *MarkupStrategy) Mobile() bool { return false }

// Target implements Strategy.
func (s *MarkupStrategy) Target(username string) string {
	return expand(s.target, username)
}

// og:description looks like
// "1,234 Followers, 56 Following, 78 Posts - See Instagram photos and videos from Name (@user)".
var (
	ogCounts = regexp.MustCompile(`(?i)([\d.,]+[kmb]?)\s+followers?,\s*([\d.,]+[kmb]?)\s+following,\s*([\d.,]+[kmb]?)\s+posts?`)
	ogTitle  = regexp.MustCompile(`^(.*?)\s*\(@([A-Za-z0-9._]+)\)`)
)

// Parse implements Strategy.
func (s *MarkupStrategy) Parse(body []byte) (Record, error) {
	p, err := markup.NewParser(s.baseURL)
	if err != nil {
		return Record{}, err
	}
	page, err := p.Parse(bytes.NewReader(body))
	if err != nil {
		return Record{}, fmt.Errorf("failed to parse profile page: %w", err)
	}

	for _, raw := range page.JSONLD {
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		if list, ok := doc.([]any); ok && len(list) > 0 {
			doc = list[0]
		}
		if r := s.ldjson.apply(doc); !r.Empty() {
			return r, nil
		}
	}
	return fromOpenGraph(page.MetaTags), nil
}

func fromOpenGraph(meta map[string]string) Record {
	var r Record
	if m := ogTitle.FindStringSubmatch(meta["og:title"]); m != nil {
		r.FullName = strings.TrimSpace(m[1])
		r.Username = m[2]
	}
	desc := meta["og:description"]
	if desc == "" {
		desc = meta["description"]
	}
	if m := ogCounts.FindStringSubmatch(desc); m != nil {
		r.Followers, _ = ParseCount(m[1])
		r.Following, _ = ParseCount(m[2])
		r.Posts, _ = ParseCount(m[3])
	}
	r.ProfilePicURL = meta["og:image"]
	return r
}

func expand(target, username string) string {
	return strings.ReplaceAll(target, "{username}", url.QueryEscape(username))
}

// Default strategy targets.
const (
	MarkupTarget = "/{username}/"
	QueryTarget  = "/api/v1/users/web_profile_info/?username={username}"
	GraphTarget  = "/{username}/?__a=1&__d=dis"
	MobileTarget = "/api/v1/users/{username}/usernameinfo/"
	WebTarget    = "/web/search/topsearch/?context=blended&query={username}"
)

// webUser maps the web-shaped user object used by the query and graph
// endpoints.
func webUser(root string) Mapping {
	return Mapping{
		ID:            root + ".id",
		Username:      root + ".username",
		FullName:      root + ".full_name",
		Biography:     root + ".biography",
		Followers:     root + ".edge_followed_by.count",
		Following:     root + ".edge_follow.count",
		Posts:         root + ".edge_owner_to_timeline_media.count",
		IsPrivate:     root + ".is_private",
		IsVerified:    root + ".is_verified",
		ProfilePicURL: root + ".profile_pic_url_hd || " + root + ".profile_pic_url",
		ExternalURL:   root + ".external_url",
	}
}

// DefaultStrategies returns the built-in strategies in priority order:
// markup, query, graph, mobile, web.
func DefaultStrategies(baseURL string) ([]Strategy, error) {
	page, err := NewMarkupStrategy(MarkupTarget, baseURL)
	if err != nil {
		return nil, err
	}
	specs := []struct {
		name    string
		target  string
		mobile  bool
		mapping Mapping
	}{
		{"query", QueryTarget, false, webUser("data.user")},
		{"graph", GraphTarget, false, webUser("graphql.user")},
		{"mobile", MobileTarget, true, Mapping{
			ID:            "user.pk_id || user.pk",
			Username:      "user.username",
			FullName:      "user.full_name",
			Biography:     "user.biography",
			Followers:     "user.follower_count",
			Following:     "user.following_count",
			Posts:         "user.media_count",
			IsPrivate:     "user.is_private",
			IsVerified:    "user.is_verified",
			ProfilePicURL: "user.hd_profile_pic_url_info.url || user.profile_pic_url",
			ExternalURL:   "user.external_url",
		}},
		{"web", WebTarget, false, Mapping{
			ID:            "users[0].user.pk",
			Username:      "users[0].user.username",
			FullName:      "users[0].user.full_name",
			Followers:     "users[0].user.follower_count",
			IsPrivate:     "users[0].user.is_private",
			IsVerified:    "users[0].user.is_verified",
			ProfilePicURL: "users[0].user.profile_pic_url",
		}},
	}

	out := []Strategy{page}
	for _, s := range specs {
		js, err := NewJSONStrategy(s.name, s.target, s.mobile, s.mapping)
		if err != nil {
			return nil, err
		}
		out = append(out, js)
	}
	return out, nil
}
