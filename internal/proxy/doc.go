// Package proxy maintains a pool of scored egress proxies.
//
// Proxies are selected round-robin, uniformly at random or weighted by
// score. Each outcome reported back updates the proxy's success rate and
// rolling latency; a proxy that fails too many times in a row, or whose
// score falls below the floor once enough samples exist, is deactivated and
// never selected again until ReactivateAll is called.
//
// A sticky key (typically a session id) binds a caller to one proxy for as
// long as that proxy stays healthy.
package proxy
