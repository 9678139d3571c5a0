package identity

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/mpython77/instaapi-sub001/internal/transport"
)

// Profile describes one kind of client.
type Profile struct {
	// Name is a short identifier used in logs.
	Name string `yaml:"name"`

	// TLSProfile is the tls-client profile identifier (e.g. "chrome_133").
	TLSProfile string `yaml:"tls_profile"`

	// UserAgent is sent verbatim.
	UserAgent string `yaml:"user_agent"`

	// Locale is a BCP 47 tag such as "en-US".
	Locale string `yaml:"locale"`

	// Mobile marks app profiles. Mobile profiles talk to the private app
	// API and carry app-specific headers.
	Mobile bool `yaml:"mobile"`

	// AppID is sent as X-IG-App-ID.
	AppID string `yaml:"app_id"`

	// Extra holds additional headers in wire order, appended after the
	// standard ones.
	Extra transport.Header `yaml:"-"`
}

// Headers returns the profile's base header set in wire order.
func (p Profile) Headers() transport.Header {
	h := transport.Header{
		{Name: "User-Agent", Value: p.UserAgent},
		{Name: "Accept", Value: p.accept()},
		{Name: "Accept-Language", Value: AcceptLanguage(p.Locale)},
		{Name: "Accept-Encoding", Value: transport.AcceptEncoding},
	}
	if p.AppID != "" {
		h.Add("X-IG-App-ID", p.AppID)
	}
	if p.Mobile {
		h.Add("X-IG-Capabilities", "3brTv10=")
		h.Add("X-IG-Connection-Type", "WIFI")
		h.Add("X-FB-HTTP-Engine", "Liger")
	} else {
		h.Add("Sec-Fetch-Site", "same-origin")
		h.Add("Sec-Fetch-Mode", "cors")
		h.Add("Sec-Fetch-Dest", "empty")
		h.Add("X-Requested-With", "XMLHttpRequest")
	}
	for _, f := range p.Extra {
		h.Add(f.Name, f.Value)
	}
	return h
}

func (p Profile) accept() string {
	if p.Mobile {
		return "*/*"
	}
	return "application/json, text/plain, */*"
}

// AcceptLanguage builds an Accept-Language value for locale, listing the
// full tag first and its base language second ("en-US,en;q=0.9"). Invalid
// or empty locales fall back to en-US.
func AcceptLanguage(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil || tag == language.Und {
		tag = language.AmericanEnglish
	}
	base, _ := tag.Base()
	full := tag.String()
	if strings.EqualFold(full, base.String()) {
		return full
	}
	return full + "," + base.String() + ";q=0.9"
}

// DefaultProfiles returns a small set of desktop and app profiles.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:       "chrome-desktop",
			TLSProfile: "chrome_133",
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
			Locale:     "en-US",
			AppID:      "936619743392459",
		},
		{
			Name:       "firefox-desktop",
			TLSProfile: "firefox_133",
			UserAgent:  "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0",
			Locale:     "en-GB",
			AppID:      "936619743392459",
		},
		{
			Name:       "android-app",
			TLSProfile: "okhttp4_android_13",
			UserAgent:  "Instagram 361.0.0.46.88 Android (33/13; 420dpi; 1080x2400; samsung; SM-G991B; o1s; exynos2100; en_US; 674675155)",
			Locale:     "en-US",
			Mobile:     true,
			AppID:      "567067343352427",
		},
		{
			Name:       "ios-app",
			TLSProfile: "safari_ios_18_0",
			UserAgent:  "Instagram 361.0.0.35.82 (iPhone14,5; iOS 18_0; en_US; en; scale=3.00; 1170x2532; 674117118)",
			Locale:     "en-US",
			Mobile:     true,
			AppID:      "124024574287414",
		},
	}
}
