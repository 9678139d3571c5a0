package anon

import (
	"fmt"

	"github.com/jmespath/go-jmespath"
)

// Mapping holds one JMESPath expression per Record field. Empty
// expressions leave the field unset.
type Mapping struct {
	ID            string
	Username      string
	FullName      string
	Biography     string
	Followers     string
	Following     string
	Posts         string
	IsPrivate     string
	IsVerified    string
	ProfilePicURL string
	ExternalURL   string
}

// compiledMapping is a Mapping with every expression compiled once.
type compiledMapping struct {
	fields []compiledField
}

type compiledField struct {
	name string
	expr *jmespath.JMESPath
	set  func(r *Record, v any)
}

func (m Mapping) compile() (*compiledMapping, error) {
	specs := []struct {
		name string
		expr string
		set  func(r *Record, v any)
	}{
		{"id", m.ID, func(r *Record, v any) { r.ID = toString(v) }},
		{"username", m.Username, func(r *Record, v any) { r.Username = toString(v) }},
		{"full_name", m.FullName, func(r *Record, v any) { r.FullName = toString(v) }},
		{"biography", m.Biography, func(r *Record, v any) { r.Biography = toString(v) }},
		{"followers", m.Followers, func(r *Record, v any) { r.Followers = toInt(v) }},
		{"following", m.Following, func(r *Record, v any) { r.Following = toInt(v) }},
		{"posts", m.Posts, func(r *Record, v any) { r.Posts = toInt(v) }},
		{"is_private", m.IsPrivate, func(r *Record, v any) { r.IsPrivate = toBool(v) }},
		{"is_verified", m.IsVerified, func(r *Record, v any) { r.IsVerified = toBool(v) }},
		{"profile_pic_url", m.ProfilePicURL, func(r *Record, v any) { r.ProfilePicURL = toString(v) }},
		{"external_url", m.ExternalURL, func(r *Record, v any) { r.ExternalURL = toString(v) }},
	}

	cm := &compiledMapping{}
	for _, s := range specs {
		if s.expr == "" {
			continue
		}
		jp, err := jmespath.Compile(s.expr)
		if err != nil {
			return nil, fmt.Errorf("invalid JMESPath expression for %s %q: %w", s.name, s.expr, err)
		}
		cm.fields = append(cm.fields, compiledField{name: s.name, expr: jp, set: s.set})
	}
	return cm, nil
}

// apply searches data and fills a Record. Expressions that fail on this
// document leave their field unset.
func (cm *compiledMapping) apply(data any) Record {
	var r Record
	for _, f := range cm.fields {
		v, err := f.expr.Search(data)
		if err != nil || v == nil {
			continue
		}
		f.set(&r, v)
	}
	return r
}
