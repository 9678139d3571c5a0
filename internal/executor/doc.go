// Package executor runs calls against the upstream API.
//
// Executor.Execute is the single call primitive. One call moves through
// attempts: acquire a rate slot, pick a session, an identity and a proxy,
// perform the exchange, classify the response, and then either return,
// retry with backoff, refresh the session or resolve a challenge.
//
// Two scheduling models share the same Executor:
//
//   - Blocking: the caller's goroutine runs Execute to completion.
//   - Cooperative: Pool queues calls FIFO and serves them from a bounded
//     set of workers.
//
// Suspension points are the rate slot, the transport exchange, and every
// artificial delay (pacing and backoff).
package executor
