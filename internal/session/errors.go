package session

import "errors"

// Session store errors.
var (
	// ErrNoSession is returned when no usable session exists and the
	// reactivation budget is spent.
	ErrNoSession = errors.New("no usable session available")

	// ErrRefreshInProgress is returned when Refresh is re-entered for a
	// session that is already refreshing.
	ErrRefreshInProgress = errors.New("session refresh already in progress")

	// ErrRefreshFailed is returned when every refresh step was skipped or
	// failed.
	ErrRefreshFailed = errors.New("session refresh failed")

	// ErrSnapshotNotFound is returned by snapshot stores when no snapshot
	// exists for an account.
	ErrSnapshotNotFound = errors.New("session snapshot not found")

	// ErrNoCredentials is returned by re-login when no password is stored.
	ErrNoCredentials = errors.New("no stored credentials for re-login")
)
