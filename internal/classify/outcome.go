package classify

import (
	"time"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
)

// Type tags an Outcome.
type Type int

const (
	// Success means the payload is usable.
	Success Type = iota
	// NeedsVerification means the upstream demands step-up verification.
	NeedsVerification
	// Failed means the call failed with Err.Kind.
	Failed
)

// String returns the tag name.
func (t Type) String() string {
	switch t {
	case Success:
		return "success"
	case NeedsVerification:
		return "needs_verification"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one attempt.
type Outcome struct {
	Type Type
	// Payload is the decoded JSON object, nil when the body is not one.
	Payload map[string]any
	Raw     []byte
	Status  int
	// Verification carries the step-up context for NeedsVerification.
	Verification *apierr.Challenge
	// Err is set for NeedsVerification and Failed.
	Err *apierr.Error
	// RetryAfter is the server's requested wait, if it sent one.
	RetryAfter time.Duration
}

// Kind returns the failure kind, KindNone on success.
func (o Outcome) Kind() apierr.Kind {
	if o.Err == nil {
		return apierr.KindNone
	}
	return o.Err.Kind
}
