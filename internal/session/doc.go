// Package session owns authenticated account contexts and their lifecycle.
//
// A Session holds one account's tokens, device identifiers, rotating
// protocol headers and health counters. Its cookie material is an ordered
// list: the upstream rejects requests whose cookie layout differs from a
// real client's, so CookieHeader always emits the fixed CookieOrder first.
//
// The Store hands sessions out round robin, tracks their health, persists
// snapshots once enough rotated material has accumulated, and runs the
// refresh cascade when a session stops being accepted:
//
//  1. lightweight reauthentication reusing the device cookies,
//  2. reloading a persisted snapshot (picks up tokens rotated elsewhere),
//  3. a full credential re-login, when credentials are configured.
//
// The Store is an explicitly constructed value passed by handle; there is
// no package-level state.
package session
