package tor

import "errors"

// Proxy probe errors.
var (
	// ErrProxyWrongType is returned when the endpoint answers but does not
	// speak the expected proxy protocol.
	ErrProxyWrongType = errors.New("endpoint does not speak the expected proxy protocol")

	// ErrProxyCannotConnect is returned when no TCP connection could be
	// established to the proxy.
	ErrProxyCannotConnect = errors.New("cannot connect to proxy")

	// ErrProxyTimeout is returned when the handshake did not finish in time.
	ErrProxyTimeout = errors.New("timeout during proxy handshake")

	// ErrProxyAuthRejected is returned when the proxy refused the offered
	// authentication method or credentials.
	ErrProxyAuthRejected = errors.New("proxy rejected authentication")

	// ErrNotRunning is returned when the embedded daemon has not started.
	ErrNotRunning = errors.New("embedded Tor daemon is not running")
)

// ProxyStatus is the result of a proxy handshake probe.
type ProxyStatus int

const (
	// ProxyStatusOK means the proxy completed the handshake.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType means the endpoint answered with something other
	// than the expected protocol.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect means the TCP connection failed.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout means the handshake timed out.
	ProxyStatusTimeout

	// ProxyStatusAuthRejected means authentication failed.
	ProxyStatusAuthRejected
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	case ProxyStatusAuthRejected:
		return "auth rejected"
	default:
		return "unknown"
	}
}

// Error returns the error for this status, or nil if OK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyWrongType
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	case ProxyStatusAuthRejected:
		return ErrProxyAuthRejected
	default:
		return errors.New("unknown proxy status")
	}
}
