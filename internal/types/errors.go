package types

import "errors"

// Error kinds shared by every package of the execution core. Public packages
// re-export them so callers can match with errors.Is.
var (
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrProcessingFailure = errors.New("processing failure")
	ErrChannelClosed     = errors.New("channel closed")
	ErrQueueClosed       = errors.New("queue is closed")
	ErrShutdown          = errors.New("runtime shut down")
	ErrInvalidConfig     = errors.New("invalid configuration")
)
