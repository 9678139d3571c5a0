package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, one per kind. They are matched by kind through
// (*Error).Is, so errors.Is(err, ErrRateLimited) holds for any *Error whose
// Kind is KindRateLimited, however it was constructed.
var (
	// ErrRateLimited matches KindRateLimited.
	ErrRateLimited = &Error{Kind: KindRateLimited}
	// ErrAuthenticationExpired matches KindAuthenticationExpired.
	ErrAuthenticationExpired = &Error{Kind: KindAuthenticationExpired}
	// ErrResourceNotFound matches KindResourceNotFound.
	ErrResourceNotFound = &Error{Kind: KindResourceNotFound}
	// ErrPrivateResource matches KindPrivateResource.
	ErrPrivateResource = &Error{Kind: KindPrivateResource}
	// ErrChallengeRequired matches KindChallengeRequired.
	ErrChallengeRequired = &Error{Kind: KindChallengeRequired}
	// ErrCheckpointRequired matches KindCheckpointRequired.
	ErrCheckpointRequired = &Error{Kind: KindCheckpointRequired}
	// ErrConsentRequired matches KindConsentRequired.
	ErrConsentRequired = &Error{Kind: KindConsentRequired}
	// ErrTransientNetworkFailure matches KindTransientNetworkFailure.
	ErrTransientNetworkFailure = &Error{Kind: KindTransientNetworkFailure}
	// ErrProtocolError matches KindProtocolError.
	ErrProtocolError = &Error{Kind: KindProtocolError}
)

// Challenge carries what a caller needs to resolve a step-up verification
// by hand when no resolver is configured.
type Challenge struct {
	// Path is the API-relative challenge reference (e.g. "/challenge/123/abc/").
	Path string `json:"path,omitempty"`

	// URL is the absolute challenge or checkpoint URL, when the upstream
	// provided one.
	URL string `json:"url,omitempty"`

	// Context is an opaque negotiation token returned alongside the marker.
	Context string `json:"context,omitempty"`
}

// Error is the single error type surfaced by the engine.
type Error struct {
	// Kind is the classified failure kind.
	Kind Kind

	// Op names the operation that failed (e.g. "GET /api/v1/users/1/info/").
	Op string

	// Status is the HTTP status of the classified response, 0 for
	// transport failures.
	Status int

	// Message is the upstream message, if any.
	Message string

	// Challenge is set for step-up kinds.
	Challenge *Challenge

	// Err is the underlying cause, if any.
	Err error
}

// New creates an error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind carried by err, or KindNone when err is nil or
// not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
