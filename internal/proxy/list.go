package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
)

// ErrInvalidProxy is returned for a malformed proxy list entry.
var ErrInvalidProxy = errors.New("invalid proxy entry")

// supportedSchemes lists the proxy schemes the transports can dial.
var supportedSchemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks5":  true,
	"socks5h": true,
}

// ParseList reads a newline-delimited proxy list. Each entry has the form
// scheme://[user:pass@]host:port; entries without a scheme are taken as
// http. Blank lines and lines starting with '#' are ignored.
func ParseList(r io.Reader) ([]string, error) {
	var uris []string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		uri, err := Normalize(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		uris = append(uris, uri)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy list: %w", err)
	}
	return uris, nil
}

// LoadFile parses the proxy list at path.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided proxy list path is intentional
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseList(f)
}

// Normalize validates a single proxy URI and returns its canonical form.
func Normalize(entry string) (string, error) {
	if !strings.Contains(entry, "://") {
		entry = "http://" + entry
	}
	u, err := url.Parse(entry)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}
	if !supportedSchemes[strings.ToLower(u.Scheme)] {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" || port == "" {
		return "", fmt.Errorf("%w: expected host:port in %q", ErrInvalidProxy, redact(u))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Path = ""
	return u.String(), nil
}

// redact hides credentials in a proxy URI for error messages and logs.
func redact(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	c := *u
	c.User = url.User("***")
	return c.String()
}

// Redact hides credentials in a proxy URI string.
func Redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid>"
	}
	return redact(u)
}
