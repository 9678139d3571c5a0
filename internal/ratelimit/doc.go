// Package ratelimit enforces per-category call-frequency ceilings and a
// global ceiling on in-flight transport calls.
//
// Two governors implement the same Governor contract:
//
//   - Window keeps a sliding window of call timestamps per category. A
//     caller that finds the window full sleeps exactly until the oldest
//     entry expires (no polling), and callers of one category are served
//     in FIFO order.
//   - Bucket keeps a golang.org/x/time/rate token bucket per category.
//     Reservations are handed out in call order, which suits a pool of
//     cooperative workers.
//
// Both share the global in-flight semaphore (golang.org/x/sync/semaphore,
// itself FIFO) and the same reaction to rate limiting: OnError with
// KindRateLimited shrinks every category's capacity and pauses all
// categories for PauseDuration; full capacity returns after Cooldown.
//
// The capacity check and the reservation are one step under the governor's
// lock, so two callers can never both take the last slot.
package ratelimit
