// Package tor provides optional Tor egress and proxy handshake probes.
//
// EmbeddedTor starts a tornago-managed Tor daemon whose SOCKS port can be
// added to the proxy pool like any other egress endpoint. Probe checks
// that a proxy speaks its protocol (SOCKS5 or HTTP CONNECT) before the pool
// hands it out, without sending any request to the upstream API.
package tor
