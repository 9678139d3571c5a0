// Package anon looks up public profile data without a session.
//
// A Chain tries independent strategies strictly in priority order and
// returns the first non-empty record. A strategy is skipped when it
// returns nothing, when the upstream answers with a login redirect, or
// when the exchange fails. Running out of strategies is not an error: the
// Result is simply marked unavailable.
//
// Every strategy takes its own rate category ("anon:<name>") from the
// governor handed to the chain, which is normally configured with lower
// ceilings than the authenticated path.
package anon
