// Package identity supplies simulated client fingerprints.
//
// An Identity couples a transport-level impersonation profile (the
// tls-client profile name) with the user agent and header set a real client
// of that kind would send. The Rotator hands out identities, rotates them on
// demand and keeps an escalation level that widens delays after repeated
// failures and relaxes again after sustained success.
package identity
