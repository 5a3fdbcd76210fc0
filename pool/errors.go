package pool

import (
	"errors"

	"github.com/utkarsh5026/offload/internal/types"
)

var (
	// ErrCapacityExceeded is returned by Submit when the queue is full or the
	// payload alone exceeds the memory budget.
	ErrCapacityExceeded = types.ErrCapacityExceeded
	// ErrNotFound is returned for unknown, expired or evicted task ids.
	ErrNotFound = types.ErrNotFound
	// ErrProcessingFailure is wrapped by Outcome.Failure for failed tasks.
	ErrProcessingFailure = types.ErrProcessingFailure
	// ErrShutdown is returned by Submit after Shutdown.
	ErrShutdown = types.ErrShutdown
	// ErrInvalidConfig is returned by New and Init for rejected options.
	ErrInvalidConfig = types.ErrInvalidConfig
	// ErrNotInitialized is returned by Default before Init succeeds.
	ErrNotInitialized = errors.New("runtime not initialized")
	// ErrShutdownTimeout is returned by Shutdown when workers do not drain in time.
	ErrShutdownTimeout = errors.New("error in shutting down: timeout reached")
)
