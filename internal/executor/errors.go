package executor

import "errors"

var (
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("executor pool is closed")

	// ErrInvalidWorkers is returned by NewPool for a non-positive worker count.
	ErrInvalidWorkers = errors.New("invalid worker count: must be positive")
)
