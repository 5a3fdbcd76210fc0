package types

import (
	"fmt"
	"time"
)

// Status describes where a task is in its lifecycle as seen by GetResult.
type Status int

const (
	StatusProcessing Status = iota
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProcessing:
		return "processing"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the stored result of a task.
//
// A Processing outcome carries only TaskID. A Failed outcome carries the text
// of the processing error in Err and no payload.
type Outcome struct {
	TaskID     string
	Status     Status
	Payload    []byte
	Err        string
	ProducedAt time.Time
	Size       int
}

// NewSuccess builds the outcome of a task whose processing returned output.
func NewSuccess(taskID string, output []byte) Outcome {
	return Outcome{
		TaskID:  taskID,
		Status:  StatusSucceeded,
		Payload: output,
		Size:    len(output),
	}
}

// NewFailure builds the outcome of a task whose processing failed or panicked.
func NewFailure(taskID string, err error) Outcome {
	msg := err.Error()
	return Outcome{
		TaskID: taskID,
		Status: StatusFailed,
		Err:    msg,
		Size:   len(msg),
	}
}

// Failure returns a non-nil error wrapping ErrProcessingFailure for failed outcomes.
func (o Outcome) Failure() error {
	if o.Status != StatusFailed {
		return nil
	}
	return fmt.Errorf("task %s: %w: %s", o.TaskID, ErrProcessingFailure, o.Err)
}

// Done reports whether the outcome is final.
func (o Outcome) Done() bool {
	return o.Status != StatusProcessing
}
