package tor

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultStartupTimeout bounds the daemon bootstrap.
const DefaultStartupTimeout = 3 * time.Minute

// EmbeddedTor runs a private Tor daemon through tornago and exposes its
// SOCKS listener as a socks5h:// egress for the proxy pool, so DNS is
// resolved on the Tor side.
//
// Bootstrap downloads directory information and builds circuits, which
// typically takes one to three minutes.
type EmbeddedTor struct {
	proc    *tornago.TorProcess
	addr    string
	timeout time.Duration
}

// EmbeddedTorOption configures NewEmbeddedTor.
type EmbeddedTorOption func(*EmbeddedTor)

// WithStartupTimeout bounds the bootstrap. Non-positive values are ignored.
func WithStartupTimeout(timeout time.Duration) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// NewEmbeddedTor returns a stopped instance; Start launches the daemon.
func NewEmbeddedTor(opts ...EmbeddedTorOption) *EmbeddedTor {
	e := &EmbeddedTor{timeout: DefaultStartupTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start launches the daemon and blocks until it has bootstrapped.
func (e *EmbeddedTor) Start(ctx context.Context) error {
	// ":0" lets the OS pick free ports.
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(e.timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	proc, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return fmt.Errorf("failed to start embedded Tor daemon: %w", err)
	}
	// StartTorDaemon does not take a context; honour cancellation that
	// happened during bootstrap.
	if err := ctx.Err(); err != nil {
		_ = proc.Stop() //nolint:errcheck // Best effort cleanup
		return err
	}

	e.proc = proc
	e.addr = proc.SocksAddr()
	return nil
}

// Stop shuts the daemon down. It is safe to call on an unstarted instance
// and more than once.
func (e *EmbeddedTor) Stop() error {
	if e.proc == nil {
		return nil
	}
	err := e.proc.Stop()
	e.proc, e.addr = nil, ""
	return err
}

// IsRunning reports whether the daemon is running.
func (e *EmbeddedTor) IsRunning() bool {
	return e.proc != nil
}

// SocksAddr returns the daemon's SOCKS address ("host:port"), or "" when
// it is not running.
func (e *EmbeddedTor) SocksAddr() string {
	return e.addr
}

// ProxyURI returns the SOCKS port as a proxy URI for the pool.
func (e *EmbeddedTor) ProxyURI() (string, error) {
	if !e.IsRunning() {
		return "", ErrNotRunning
	}
	return "socks5h://" + e.addr, nil
}
