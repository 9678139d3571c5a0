package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Request is one wire request.
type Request struct {
	// ID identifies this exchange. Side effects derived from the response
	// (session invalidation, counters) are keyed by it so that classifying
	// the same response twice is harmless. NewRequest fills it.
	ID string

	Method string
	URL    string
	Header Header
	Body   []byte

	// Proxy is the egress proxy URI, empty for a direct connection.
	Proxy string

	// Profile names the TLS fingerprint profile. Only TLSTransport uses it.
	Profile string
}

// NewRequest creates a request with a fresh ID.
func NewRequest(method, url string, header Header, body []byte) *Request {
	return &Request{
		ID:     uuid.NewString(),
		Method: method,
		URL:    url,
		Header: header,
		Body:   body,
	}
}

// Response is the raw result of one exchange.
type Response struct {
	// RequestID is copied from the originating Request.
	RequestID string

	Status int
	Header http.Header
	Body   []byte

	// Location is the redirect target for 3xx responses.
	Location string

	// Latency is the wall time from sending the request to reading the
	// full body.
	Latency time.Duration
}

// Transport performs one exchange.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, req *Request) (*Response, error)

// Do calls f.
func (f Func) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
