package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tlsclient "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// DefaultTLSProfile is used when a request names no profile.
const DefaultTLSProfile = "chrome_133"

// TLSTransport is a Transport that impersonates a real client's TLS and
// HTTP/2 fingerprint via tls-client. Header order is preserved exactly.
type TLSTransport struct {
	timeout        time.Duration
	maxBodySize    int64
	defaultProfile string

	mu      sync.Mutex
	clients map[string]tlsclient.HttpClient
}

// TLSOption configures a TLSTransport.
type TLSOption func(*TLSTransport)

// WithTLSTimeout sets the per-exchange timeout. tls-client exposes a single
// timeout, so connect and response share it.
func WithTLSTimeout(d time.Duration) TLSOption {
	return func(t *TLSTransport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithDefaultProfile sets the profile used when a request names none.
func WithDefaultProfile(name string) TLSOption {
	return func(t *TLSTransport) {
		if name != "" {
			t.defaultProfile = name
		}
	}
}

// WithTLSMaxBodySize limits how many body bytes are read.
func WithTLSMaxBodySize(n int64) TLSOption {
	return func(t *TLSTransport) {
		t.maxBodySize = n
	}
}

// NewTLSTransport creates a TLSTransport.
func NewTLSTransport(opts ...TLSOption) *TLSTransport {
	t := &TLSTransport{
		timeout:        DefaultResponseTimeout,
		maxBodySize:    DefaultMaxBodySize,
		defaultProfile: DefaultTLSProfile,
		clients:        make(map[string]tlsclient.HttpClient),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// KnownProfile reports whether name is a tls-client profile identifier.
func KnownProfile(name string) bool {
	_, ok := profiles.MappedTLSClients[name]
	return ok
}

// Do performs one exchange.
func (t *TLSTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	op := req.Method + " " + req.URL

	profile := req.Profile
	if profile == "" {
		profile = t.defaultProfile
	}
	client, err := t.client(profile, req.Proxy)
	if err != nil {
		return nil, &Error{Op: op, Phase: PhaseConnect, Err: err}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := fhttp.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &Error{Op: op, Phase: PhaseConnect, Err: err}
	}

	hreq.Header = fhttp.Header{}
	order := make([]string, 0, len(req.Header))
	for _, f := range req.Header {
		if strings.EqualFold(f.Name, "Host") {
			hreq.Host = f.Value
		} else {
			hreq.Header.Add(f.Name, f.Value)
		}
		order = append(order, strings.ToLower(f.Name))
	}
	hreq.Header[fhttp.HeaderOrderKey] = order

	start := time.Now()
	resp, err := client.Do(hreq)
	if err != nil {
		return nil, wrapError(op, phaseOf(err), err)
	}
	defer resp.Body.Close()

	raw, err := readBody(resp.Body, t.maxBodySize)
	if err != nil {
		return nil, wrapError(op, PhaseRead, err)
	}
	// tls-client usually decompresses already but may leave the header.
	if decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), raw); err == nil {
		raw = decoded
	}

	header := http.Header(resp.Header)
	return &Response{
		RequestID: req.ID,
		Status:    resp.StatusCode,
		Header:    header,
		Body:      raw,
		Location:  header.Get("Location"),
		Latency:   time.Since(start),
	}, nil
}

func (t *TLSTransport) client(profile, proxyURI string) (tlsclient.HttpClient, error) {
	key := profile + "|" + proxyURI

	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[key]; ok {
		return c, nil
	}

	p, ok := profiles.MappedTLSClients[profile]
	if !ok {
		return nil, ErrUnknownProfile
	}

	opts := []tlsclient.HttpClientOption{
		tlsclient.WithTimeoutSeconds(int(t.timeout.Seconds())),
		tlsclient.WithClientProfile(p),
		tlsclient.WithNotFollowRedirects(),
		tlsclient.WithRandomTLSExtensionOrder(),
	}
	if proxyURI != "" {
		opts = append(opts, tlsclient.WithProxyUrl(proxyURI))
	}

	c, err := tlsclient.NewHttpClient(tlsclient.NewNoopLogger(), opts...)
	if err != nil {
		return nil, err
	}
	t.clients[key] = c
	return c, nil
}
