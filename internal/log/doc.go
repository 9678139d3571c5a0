// Package log provides slog loggers that mask credentials before they reach
// the output.
//
// Every component of the engine takes a *slog.Logger. The logger built here
// wraps the text or JSON handler in a SecureHandler, which masks:
//   - session cookies and headers (sessionid, csrftoken, Authorization,
//     IG-Set-Authorization, X-IG-WWW-Claim, mid, ig_did)
//   - passwords, encrypted login payloads and verification codes
//   - values that look like bearer tokens or raw session cookies, whatever
//     the key
//
// The numeric account ID (ds_user_id) stays visible so that log lines can be
// correlated per account.
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Info("session refreshed", "account", "1234", "sessionid", raw)
//	// account=1234 sessionid=***REDACTED***
//
// The same logger is handed to tornago when an embedded Tor daemon is used.
package log
