package challenge

import "errors"

var (
	// ErrResolutionInProgress is returned in fail-fast mode when the
	// session already has a resolution running.
	ErrResolutionInProgress = errors.New("challenge resolution already in progress")

	// ErrResolutionFailed is returned when the challenge could not be
	// resolved.
	ErrResolutionFailed = errors.New("challenge resolution failed")

	// ErrNoCodeProvider is returned when a code is needed but no provider
	// is configured.
	ErrNoCodeProvider = errors.New("no verification code provider configured")

	// ErrNoChallengeReference is returned when the challenge carries
	// neither a path nor a URL.
	ErrNoChallengeReference = errors.New("challenge has no reference")

	// ErrCodeTimeout is returned by InboxPoller when no fresh matching
	// message arrived in time.
	ErrCodeTimeout = errors.New("timed out waiting for verification code")

	// ErrCodeRejected is returned when the upstream refused the code.
	ErrCodeRejected = errors.New("verification code rejected")
)
