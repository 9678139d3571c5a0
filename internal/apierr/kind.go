package apierr

// Kind identifies one class of failure reported by the upstream API or the
// network path to it.
type Kind int

const (
	// KindNone is the zero value and means "no failure".
	KindNone Kind = iota

	// KindRateLimited means the upstream throttled the caller.
	// Policy: backoff, possible global pause, same session.
	KindRateLimited

	// KindAuthenticationExpired means the session is no longer accepted.
	// Policy: refresh cascade once, then retry; otherwise propagate.
	KindAuthenticationExpired

	// KindResourceNotFound means the target does not exist. Never retried.
	KindResourceNotFound

	// KindPrivateResource means the target exists but is not visible to the
	// session. Never retried.
	KindPrivateResource

	// KindChallengeRequired means the upstream demands step-up verification.
	KindChallengeRequired

	// KindCheckpointRequired means the account hit a checkpoint gate.
	KindCheckpointRequired

	// KindConsentRequired means the account must accept terms before use.
	KindConsentRequired

	// KindTransientNetworkFailure covers connect/response timeouts, resets
	// and 5xx responses. Policy: backoff retry up to the attempt limit.
	KindTransientNetworkFailure

	// KindProtocolError covers any other failure the upstream signalled.
	// Retried only when Policy.RetryProtocolErrors is set.
	KindProtocolError
)

// String returns the stable, log-friendly name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthenticationExpired:
		return "authentication_expired"
	case KindResourceNotFound:
		return "resource_not_found"
	case KindPrivateResource:
		return "private_resource"
	case KindChallengeRequired:
		return "challenge_required"
	case KindCheckpointRequired:
		return "checkpoint_required"
	case KindConsentRequired:
		return "consent_required"
	case KindTransientNetworkFailure:
		return "transient_network_failure"
	case KindProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// IsStepUp reports whether the kind requires a verification flow rather
// than a plain retry.
func (k Kind) IsStepUp() bool {
	return k == KindChallengeRequired || k == KindCheckpointRequired || k == KindConsentRequired
}

// Policy holds the knobs that make retry behavior configurable.
type Policy struct {
	// RetryProtocolErrors marks KindProtocolError as retryable.
	RetryProtocolErrors bool
}

// Retryable reports whether a failure of this kind should be retried with
// backoff under the given policy. Authentication and step-up kinds are not
// "retryable" in this sense: they go through their own recovery flows.
func (k Kind) Retryable(p Policy) bool {
	switch k {
	case KindRateLimited, KindTransientNetworkFailure:
		return true
	case KindProtocolError:
		return p.RetryProtocolErrors
	default:
		return false
	}
}

// Terminal reports whether the kind must be propagated immediately without
// any further attempt.
func (k Kind) Terminal() bool {
	return k == KindResourceNotFound || k == KindPrivateResource
}
