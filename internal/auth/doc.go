// Package auth packages credentials for the upstream login protocol and
// implements the credential-based steps of the session refresh cascade.
//
// EncryptPassword is the only place that knows the credential envelope
// layout. The layout is dictated by the upstream service and has changed
// over time; callers only see the formatted string it returns.
package auth
