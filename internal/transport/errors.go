package transport

import (
	"context"
	"errors"
	"net"
)

// Transport errors.
var (
	// ErrUnsupportedProxyScheme is returned for proxy URIs whose scheme is
	// not http, https, socks5 or socks5h.
	ErrUnsupportedProxyScheme = errors.New("unsupported proxy scheme")

	// ErrUnknownProfile is returned by TLSTransport for an unknown
	// fingerprint profile name.
	ErrUnknownProfile = errors.New("unknown TLS client profile")

	// ErrBodyTooLarge is returned when a response exceeds the configured
	// body size limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// Phase names the stage of the exchange an Error happened in.
type Phase string

const (
	// PhaseConnect covers dialing, proxy negotiation and TLS handshake.
	PhaseConnect Phase = "connect"
	// PhaseResponse covers waiting for response headers.
	PhaseResponse Phase = "response"
	// PhaseRead covers reading and decoding the body.
	PhaseRead Phase = "read"
)

// Error is returned for any failure below the HTTP layer. The classifier
// maps every *Error to a transient network failure.
type Error struct {
	Op      string
	Phase   Phase
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + string(e.Phase)
	if e.Timeout {
		msg += " timeout"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a connect or response timeout.
func IsTimeout(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Timeout
	}
	return isNetTimeout(err)
}

func isNetTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// wrapError builds an *Error, inferring Timeout from err.
func wrapError(op string, phase Phase, err error) *Error {
	return &Error{Op: op, Phase: phase, Timeout: isNetTimeout(err), Err: err}
}
