package apierr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: KindRateLimited, Op: "GET /x", Status: 429, Message: "Please wait a few minutes"}
	wrapped := fmt.Errorf("feed: %w", err)

	if !errors.Is(wrapped, ErrRateLimited) {
		t.Error("expected wrapped error to match ErrRateLimited")
	}
	if errors.Is(wrapped, ErrAuthenticationExpired) {
		t.Error("expected wrapped error not to match ErrAuthenticationExpired")
	}
	if got := KindOf(wrapped); got != KindRateLimited {
		t.Errorf("expected KindOf to return rate_limited, got %s", got)
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind only",
			err:  &Error{Kind: KindResourceNotFound},
			want: "resource_not_found",
		},
		{
			name: "op status and message",
			err:  &Error{Kind: KindRateLimited, Op: "GET /feed", Status: 429, Message: "slow down"},
			want: "GET /feed: rate_limited (status 429): slow down",
		},
		{
			name: "wrapped cause",
			err:  Wrap(KindTransientNetworkFailure, "POST /login", errors.New("connection reset")),
			want: "POST /login: transient_network_failure: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestKindPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind      Kind
		policy    Policy
		retryable bool
		terminal  bool
		stepUp    bool
	}{
		{KindRateLimited, Policy{}, true, false, false},
		{KindTransientNetworkFailure, Policy{}, true, false, false},
		{KindProtocolError, Policy{}, false, false, false},
		{KindProtocolError, Policy{RetryProtocolErrors: true}, true, false, false},
		{KindResourceNotFound, Policy{}, false, true, false},
		{KindPrivateResource, Policy{}, false, true, false},
		{KindAuthenticationExpired, Policy{}, false, false, false},
		{KindChallengeRequired, Policy{}, false, false, true},
		{KindCheckpointRequired, Policy{}, false, false, true},
		{KindConsentRequired, Policy{}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()
			if got := tt.kind.Retryable(tt.policy); got != tt.retryable {
				t.Errorf("Retryable: expected %v, got %v", tt.retryable, got)
			}
			if got := tt.kind.Terminal(); got != tt.terminal {
				t.Errorf("Terminal: expected %v, got %v", tt.terminal, got)
			}
			if got := tt.kind.IsStepUp(); got != tt.stepUp {
				t.Errorf("IsStepUp: expected %v, got %v", tt.stepUp, got)
			}
		})
	}
}

func TestKindOfNonAPIError(t *testing.T) {
	t.Parallel()

	if got := KindOf(errors.New("plain")); got != KindNone {
		t.Errorf("expected KindNone, got %s", got)
	}
	if got := KindOf(nil); got != KindNone {
		t.Errorf("expected KindNone for nil, got %s", got)
	}
}
