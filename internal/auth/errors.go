package auth

import "errors"

var (
	// ErrInvalidPublicKey is returned when the published key cannot be
	// used for sealing.
	ErrInvalidPublicKey = errors.New("invalid password encryption public key")

	// ErrNoPublicKey is returned when the upstream did not publish a key.
	ErrNoPublicKey = errors.New("password encryption key not published")

	// ErrReauthRejected is returned when lightweight reauthentication did
	// not yield an authenticated session.
	ErrReauthRejected = errors.New("reauthentication rejected")

	// ErrLoginRejected is returned when a password login was refused.
	ErrLoginRejected = errors.New("login rejected")

	// ErrTwoFactorRequired is returned when the account needs a second
	// factor that this client cannot supply.
	ErrTwoFactorRequired = errors.New("two-factor authentication required")
)
