package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/mpython77/instaapi-sub001/internal/session"
)

// credentialFields maps credential keys to the field they set.
var credentialFields = map[string]func(c *session.Credentials, v string){
	"SESSION_ID":    func(c *session.Credentials, v string) { c.SessionID = v },
	"CSRF_TOKEN":    func(c *session.Credentials, v string) { c.CSRFToken = v },
	"DS_USER_ID":    func(c *session.Credentials, v string) { c.AccountID = v },
	"MID":           func(c *session.Credentials, v string) { c.MID = v },
	"IG_DID":        func(c *session.Credentials, v string) { c.IGDID = v },
	"RUR":           func(c *session.Credentials, v string) { c.RUR = v },
	"AUTHORIZATION": func(c *session.Credentials, v string) { c.Authorization = v },
	"WWW_CLAIM":     func(c *session.Credentials, v string) { c.WWWClaim = v },
	"DEVICE_ID":     func(c *session.Credentials, v string) { c.DeviceID = v },
	"UUID":          func(c *session.Credentials, v string) { c.UUID = v },
	"USERNAME":      func(c *session.Credentials, v string) { c.Username = v },
	"PASSWORD":      func(c *session.Credentials, v string) { c.Password = v },
}

// LoadCredentials reads a credential file. See ParseCredentials.
func LoadCredentials(path string) ([]session.Credentials, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided credential path is intentional
	if err != nil {
		return nil, fmt.Errorf("failed to open credential file: %w", err)
	}
	defer f.Close()
	return ParseCredentials(f)
}

// ParseCredentials reads KEY=value lines. Blank lines and lines starting
// with '#' are skipped, an "export " prefix and surrounding quotes are
// stripped, and unknown keys are ignored. The first account uses bare keys
// (SESSION_ID); further accounts use a numeric suffix (SESSION_ID_2,
// SESSION_ID_3, ...). Accounts are returned in suffix order; an account
// with neither a session cookie, a bearer token nor a username and
// password is dropped.
func ParseCredentials(r io.Reader) ([]session.Credentials, error) {
	accounts := make(map[int]*session.Credentials)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: %w", lineNo, ErrInvalidCredentialLine)
		}
		base, index := splitSuffix(strings.ToUpper(strings.TrimSpace(key)))
		set, known := credentialFields[base]
		if !known {
			continue
		}

		c := accounts[index]
		if c == nil {
			c = &session.Credentials{}
			accounts[index] = c
		}
		set(c, unquote(strings.TrimSpace(value)))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	indexes := make([]int, 0, len(accounts))
	for i := range accounts {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)

	out := make([]session.Credentials, 0, len(indexes))
	for _, i := range indexes {
		c := accounts[i]
		if c.SessionID == "" && c.Authorization == "" && (c.Username == "" || c.Password == "") {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

// splitSuffix splits "SESSION_ID_2" into ("SESSION_ID", 2). Keys without a
// numeric suffix belong to account 1.
func splitSuffix(key string) (string, int) {
	i := strings.LastIndexByte(key, '_')
	if i < 0 {
		return key, 1
	}
	n, err := strconv.Atoi(key[i+1:])
	if err != nil || n < 1 {
		return key, 1
	}
	return key[:i], n
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	// Trailing comments on unquoted values.
	if i := strings.Index(v, " #"); i >= 0 {
		return strings.TrimSpace(v[:i])
	}
	return v
}
