package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// Default HTTPTransport limits.
const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultResponseTimeout = 30 * time.Second
	DefaultMaxBodySize     = 10 * 1024 * 1024
)

// HTTPTransport is a Transport built on net/http.
//
// One *http.Client is kept per proxy URI so that connection pools are never
// shared across egress endpoints. net/http writes headers in canonical
// sorted order; use TLSTransport when the exact header order matters. The
// Cookie header is a single field, so cookie order is preserved either way.
type HTTPTransport struct {
	connectTimeout  time.Duration
	responseTimeout time.Duration
	maxBodySize     int64

	mu      sync.Mutex
	clients map[string]*http.Client
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithConnectTimeout bounds dialing, proxy negotiation and TLS handshake.
func WithConnectTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.connectTimeout = d
		}
	}
}

// WithResponseTimeout bounds the wait for response headers once the
// request has been written.
func WithResponseTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.responseTimeout = d
		}
	}
}

// WithMaxBodySize limits how many body bytes are read.
func WithMaxBodySize(n int64) HTTPOption {
	return func(t *HTTPTransport) {
		t.maxBodySize = n
	}
}

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		connectTimeout:  DefaultConnectTimeout,
		responseTimeout: DefaultResponseTimeout,
		maxBodySize:     DefaultMaxBodySize,
		clients:         make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do performs one exchange. Redirects are returned as-is.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	op := req.Method + " " + req.URL

	client, err := t.client(req.Proxy)
	if err != nil {
		return nil, &Error{Op: op, Phase: PhaseConnect, Err: err}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &Error{Op: op, Phase: PhaseConnect, Err: err}
	}
	for _, f := range req.Header {
		if strings.EqualFold(f.Name, "Host") {
			hreq.Host = f.Value
			continue
		}
		hreq.Header.Add(f.Name, f.Value)
	}

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
	decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, wrapError(op, PhaseRead, err)
	}

	return &Response{
		RequestID: req.ID,
		Status:    resp.StatusCode,
		Header:    resp.Header,
		Body:      decoded,
		Location:  resp.Header.Get("Location"),
		Latency:   time.Since(start),
	}, nil
}

// client returns the cached client for proxyURI, creating it on first use.
func (t *HTTPTransport) client(proxyURI string) (*http.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[proxyURI]; ok {
		return c, nil
	}

	rt, err := t.newRoundTripper(proxyURI)
	if err != nil {
		return nil, err
	}
	c := &http.Client{
		Transport: rt,
		// Overall cap; the phase timeouts normally fire first.
		Timeout: t.connectTimeout + 2*t.responseTimeout,
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	t.clients[proxyURI] = c
	return c, nil
}

func (t *HTTPTransport) newRoundTripper(proxyURI string) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: t.connectTimeout, KeepAlive: 30 * time.Second}

	rt := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   t.connectTimeout,
		ResponseHeaderTimeout: t.responseTimeout,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
		// Bodies are decoded by decodeBody so br and zstd work too.
		DisableCompression: true,
	}

	if proxyURI == "" {
		return rt, nil
	}

	u, err := url.Parse(proxyURI)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URI: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		rt.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		rt.DialContext = t.socksDialContext(d)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProxyScheme, u.Scheme)
	}
	return rt, nil
}

// socksDialContext bounds the SOCKS handshake by the connect timeout.
func (t *HTTPTransport) socksDialContext(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, t.connectTimeout)
		defer cancel()
		if cd, ok := d.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return d.Dial(network, addr)
	}
}

// phaseOf guesses the phase a client.Do error happened in.
func phaseOf(err error) Phase {
	var opErr *net.OpError
	if errors.As(err, &opErr) && (opErr.Op == "dial" || opErr.Op == "proxyconnect" || opErr.Op == "socks connect") {
		return PhaseConnect
	}
	msg := err.Error()
	if strings.Contains(msg, "TLS handshake") || strings.Contains(msg, "proxyconnect") {
		return PhaseConnect
	}
	return PhaseResponse
}
