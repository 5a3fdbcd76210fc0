package pool

import (
	"context"

	"github.com/utkarsh5026/offload/internal/store"
	"github.com/utkarsh5026/offload/internal/types"
)

type (
	// Task is a unit of submitted work as seen by hooks.
	Task = types.Task
	// Outcome is what GetResult returns for a task.
	Outcome = types.Outcome
	// Status is the lifecycle status carried by an Outcome.
	Status = types.Status
	// EvictReason says why an outcome left the result store.
	EvictReason = store.EvictReason
)

const (
	StatusProcessing = types.StatusProcessing
	StatusSucceeded  = types.StatusSucceeded
	StatusFailed     = types.StatusFailed

	EvictExpired = store.EvictExpired
	EvictMemory  = store.EvictMemory
)

// Processor turns a task payload into a result payload. It is called from
// worker threads concurrently and must be safe for that.
type Processor interface {
	Process(ctx context.Context, payload []byte) ([]byte, error)
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// echo returns the payload unchanged. It is the processor used when none
// is configured.
var echo = ProcessorFunc(func(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
})
