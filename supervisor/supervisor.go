// Package supervisor runs long-lived background work that can be cancelled
// cooperatively, inspected and restarted under a stable id.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/utkarsh5026/offload/internal/types"
)

var (
	// ErrNotFound is returned for ids the supervisor does not know.
	ErrNotFound = types.ErrNotFound
	// ErrInvalidState is returned when an operation does not apply to the
	// task's current state, such as restarting a running task.
	ErrInvalidState = types.ErrInvalidState
)

// State is the lifecycle state of a supervised task.
type State int

const (
	Running State = iota
	Cancelled
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Work is the body of a supervised task. Returning a non-nil error, or
// panicking, ends the run as Failed unless cancellation was requested.
type Work func(tok *Token) error

// Info is a snapshot of a supervised task.
type Info struct {
	ID         uuid.UUID
	State      State
	Restarts   int
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

type task struct {
	id       uuid.UUID
	work     Work
	tok      *Token
	state    State
	restarts int
	err      error
	started  time.Time
	finished time.Time
	done     chan struct{}
}

func (t *task) info() Info {
	return Info{
		ID:         t.id,
		State:      t.state,
		Restarts:   t.restarts,
		Err:        t.err,
		StartedAt:  t.started,
		FinishedAt: t.finished,
	}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger for lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// Supervisor is a registry of supervised tasks. The zero value is not
// usable; create one with New.
type Supervisor struct {
	mu     sync.Mutex
	tasks  map[uuid.UUID]*task
	wg     sync.WaitGroup
	closed bool
	log    *zap.Logger
}

// New creates an empty supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		tasks: make(map[uuid.UUID]*task),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts work in the background and returns its id immediately.
// After Shutdown the run starts with its token already cancelled.
func (s *Supervisor) Spawn(work Work) uuid.UUID {
	t := &task{id: uuid.New(), work: work}

	s.mu.Lock()
	s.tasks[t.id] = t
	s.startLocked(t)
	s.mu.Unlock()

	s.log.Debug("task spawned", zap.Stringer("id", t.id))
	return t.id
}

// Cancel requests cancellation of the current run. It is idempotent and
// has no effect on a run that already finished.
func (s *Supervisor) Cancel(id uuid.UUID) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	var tok *Token
	if ok {
		// Restart replaces t.tok under the lock
		tok = t.tok
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, ErrNotFound)
	}

	tok.trip()
	return nil
}

// Restart launches a new run of a finished task under the same id, with a
// fresh token. Restarting a running task returns ErrInvalidState.
func (s *Supervisor) Restart(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("restart %s: %w", id, ErrNotFound)
	}
	if t.state == Running {
		return fmt.Errorf("restart %s while %s: %w", id, t.state, ErrInvalidState)
	}

	t.restarts++
	t.err = nil
	t.finished = time.Time{}
	s.startLocked(t)

	s.log.Debug("task restarted",
		zap.Stringer("id", id),
		zap.Int("restarts", t.restarts))
	return nil
}

// Status returns the current state of id.
func (s *Supervisor) Status(id uuid.UUID) (State, error) {
	info, err := s.Info(id)
	return info.State, err
}

// Info returns a snapshot of id.
func (s *Supervisor) Info(id uuid.UUID) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Info{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t.info(), nil
}

// Wait blocks until the current run of id finishes or ctx ends.
func (s *Supervisor) Wait(ctx context.Context, id uuid.UUID) (Info, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	var done chan struct{}
	if ok {
		done = t.done
	}
	s.mu.Unlock()
	if !ok {
		return Info{}, fmt.Errorf("wait %s: %w", id, ErrNotFound)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
	return s.Info(id)
}

// List returns snapshots of every task, oldest start first.
func (s *Supervisor) List() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.info())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Remove forgets a finished task. Running tasks cannot be removed.
func (s *Supervisor) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	if t.state == Running {
		return fmt.Errorf("remove %s while running: %w", id, ErrInvalidState)
	}
	delete(s.tasks, id)
	return nil
}

// Shutdown cancels every running task and waits for all runs to return or
// for ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, t := range s.tasks {
		if t.state == Running {
			t.tok.trip()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor shutdown: %w", ctx.Err())
	}
}

func (s *Supervisor) startLocked(t *task) {
	tok := newToken()
	if s.closed {
		tok.trip()
	}
	t.tok = tok
	t.state = Running
	t.started = time.Now()
	t.done = make(chan struct{})

	s.wg.Add(1)
	go s.run(t, tok, t.done)
}

func (s *Supervisor) run(t *task, tok *Token, done chan struct{}) {
	defer s.wg.Done()

	err := invoke(t.work, tok)

	state := Completed
	switch {
	case tok.Cancelled():
		state = Cancelled
	case err != nil:
		state = Failed
	}
	tok.release()

	s.mu.Lock()
	t.state = state
	t.err = err
	t.finished = time.Now()
	close(done)
	s.mu.Unlock()

	if state == Failed {
		s.log.Warn("supervised task failed", zap.Stringer("id", t.id), zap.Error(err))
	} else {
		s.log.Debug("supervised task finished", zap.Stringer("id", t.id), zap.Stringer("state", state))
	}
}

func invoke(work Work, tok *Token) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("supervised task panic: %v\nstack trace:\n%s", r, debug.Stack())
		}
	}()
	return work(tok)
}
