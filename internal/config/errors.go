package config

import "errors"

// Configuration validation errors, returned by Config.Validate and
// Config.RequireAccounts. Compare with errors.Is.
var (
	// ErrNoAccounts is returned when no account credentials were loaded.
	ErrNoAccounts = errors.New("no accounts configured: set credentials_file or SESSION_ID")

	// ErrInvalidMaxAttempts is returned when MaxAttempts is not positive.
	ErrInvalidMaxAttempts = errors.New("invalid max attempts: must be positive")

	// ErrInvalidRateLimit is returned when a rate limit has non-positive
	// calls or period, or MaxInFlight is not positive.
	ErrInvalidRateLimit = errors.New("invalid rate limit: calls, period and max in-flight must be positive")

	// ErrInvalidBackoff is returned for a non-positive base, a factor
	// below 1, or a maximum below the base.
	ErrInvalidBackoff = errors.New("invalid backoff: base must be positive, factor >= 1, max >= base")

	// ErrInvalidConcurrency is returned when Workers is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: workers must be positive")

	// ErrInvalidTimeout is returned when a transport timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrUnknownTransport is returned for a transport other than http or tls.
	ErrUnknownTransport = errors.New("unknown transport: use http or tls")

	// ErrUnknownScheduler is returned for a scheduler other than window or bucket.
	ErrUnknownScheduler = errors.New("unknown scheduler: use window or bucket")

	// ErrUnknownProxyStrategy is returned for an unsupported proxy strategy.
	ErrUnknownProxyStrategy = errors.New("unknown proxy strategy: use round_robin, random or weighted")

	// ErrUnknownSnapshotBackend is returned for a backend other than file,
	// sqlite or redis.
	ErrUnknownSnapshotBackend = errors.New("unknown snapshot backend: use file, sqlite or redis")

	// ErrUnknownChallengeMode is returned for a mode other than wait or fail_fast.
	ErrUnknownChallengeMode = errors.New("unknown challenge mode: use wait or fail_fast")

	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidCredentialLine is returned for a credential line without '='.
	ErrInvalidCredentialLine = errors.New("invalid credential line: expected KEY=value")
)
