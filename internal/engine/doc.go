// Package engine assembles the request execution engine from a
// config.Config.
//
// New builds, in order: the transport, the proxy pool (proxy file plus an
// optional embedded Tor egress), the identity rotator, the authenticated
// and anonymous rate governors, the snapshot backend, the session store
// with its refresh cascade, the challenge resolver, the executor with its
// worker pool, the anonymous fallback chain, the event bus and the
// Prometheus observer. Close releases them in reverse order.
//
// Callers normally use Engine.Executor (or Engine.Pool for concurrent
// submission) and Engine.Anon; the other fields are exposed for status
// reporting.
package engine
