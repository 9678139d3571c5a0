// Package apierr defines the failure taxonomy shared by every component of
// the request engine.
//
// All raw transport and parse failures are normalized into one of the Kind
// values at the response classification boundary. Code above that boundary
// only ever observes *Error values (or a context error when the caller gave
// up before any attempt was classified), which lets callers branch on the
// original triggering kind with errors.Is:
//
//	if errors.Is(err, apierr.ErrAuthenticationExpired) {
//		// need new credentials
//	}
package apierr
