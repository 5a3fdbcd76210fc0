package types

import "time"

// Task is one unit of submitted work. It is never mutated after the queue
// assigns its arrival sequence.
type Task struct {
	ID          string
	Payload     []byte
	Priority    int
	Seq         uint64
	SubmittedAt time.Time
}

// Before reports whether t must be handed to a worker ahead of o: higher
// priority first, then lower arrival sequence.
func (t Task) Before(o Task) bool {
	if t.Priority != o.Priority {
		return t.Priority > o.Priority
	}
	return t.Seq < o.Seq
}
