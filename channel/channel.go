// Package channel provides a bounded FIFO channel with context-aware
// suspension and a multi-channel Select.
//
// A full channel parks senders and an empty channel parks receivers; parked
// callers are resumed in the order they suspended. Channels are plain values
// owned by whoever creates them and are shared by passing the handle.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/utkarsh5026/offload/internal/types"
)

var (
	// ErrChannelClosed is returned by operations on a closed channel.
	ErrChannelClosed = types.ErrChannelClosed
	// ErrCapacityExceeded is returned by TrySend on a full channel.
	ErrCapacityExceeded = types.ErrCapacityExceeded
	// ErrInvalidCapacity is returned by New for a capacity below one.
	ErrInvalidCapacity = errors.New("channel capacity must be positive")
)

// waiter is a parked sender or receiver. For a sender val holds the message
// to deliver; for a receiver the peer fills val. Whoever resolves the waiter
// closes ready, and Close sets err instead.
type waiter[T any] struct {
	ready chan struct{}
	val   T
	err   error
}

// Channel is a fixed-capacity FIFO queue safe for concurrent use.
type Channel[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int
	count    int
	closed   bool
	recvq    []*waiter[T]
	sendq    []*waiter[T]
	watchers map[*waker]struct{}
}

// New creates a channel that buffers up to capacity messages.
func New[T any](capacity int) (*Channel[T], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Channel[T]{
		buf:      make([]T, capacity),
		watchers: make(map[*waker]struct{}),
	}, nil
}

// Cap returns the channel capacity.
func (c *Channel[T]) Cap() int {
	return len(c.buf)
}

// Len returns the number of buffered messages.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send delivers v, suspending while the buffer is full.
//
// If ctx ends while suspended the message is withdrawn and ctx.Err() is
// returned. If the channel is closed while suspended, ErrChannelClosed is
// returned and the message is not delivered.
func (c *Channel[T]) Send(ctx context.Context, v T) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.offerLocked(v) {
		c.mu.Unlock()
		return nil
	}

	w := &waiter[T]{ready: make(chan struct{}), val: v}
	c.sendq = append(c.sendq, w)
	c.mu.Unlock()

	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if removeWaiter(&c.sendq, w) {
		return ctx.Err()
	}
	// a receiver already took the value
	<-w.ready
	return w.err
}

// TrySend delivers v without suspending. It returns ErrCapacityExceeded when
// the buffer is full.
func (c *Channel[T]) TrySend(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	if c.offerLocked(v) {
		return nil
	}
	return ErrCapacityExceeded
}

// Recv returns the oldest message, suspending while the buffer is empty.
// Once the channel is closed and drained it returns ErrChannelClosed.
func (c *Channel[T]) Recv(ctx context.Context) (T, error) {
	c.mu.Lock()
	if v, ok := c.takeLocked(); ok {
		c.mu.Unlock()
		return v, nil
	}
	if c.closed {
		c.mu.Unlock()
		var zero T
		return zero, ErrChannelClosed
	}

	w := &waiter[T]{ready: make(chan struct{})}
	c.recvq = append(c.recvq, w)
	c.mu.Unlock()

	select {
	case <-w.ready:
		return w.val, w.err
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if removeWaiter(&c.recvq, w) {
		var zero T
		return zero, ctx.Err()
	}
	// a sender handed us a value concurrently; keep it rather than lose it
	<-w.ready
	return w.val, w.err
}

// TryRecv returns the oldest buffered message without suspending.
func (c *Channel[T]) TryRecv() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takeLocked()
}

// Close marks the channel closed. Suspended receivers and senders wake with
// ErrChannelClosed; buffered messages stay receivable. Closing twice is a
// no-op.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for _, w := range c.recvq {
		w.err = ErrChannelClosed
		close(w.ready)
	}
	c.recvq = nil

	for _, w := range c.sendq {
		w.err = ErrChannelClosed
		close(w.ready)
	}
	c.sendq = nil

	c.notifyLocked()
}

// offerLocked places v with the oldest parked receiver or in the buffer.
// It reports false when the buffer is full.
func (c *Channel[T]) offerLocked(v T) bool {
	if len(c.recvq) > 0 {
		w := c.recvq[0]
		c.recvq[0] = nil
		c.recvq = c.recvq[1:]
		w.val = v
		close(w.ready)
		return true
	}
	if c.count == len(c.buf) {
		return false
	}

	c.buf[(c.head+c.count)%len(c.buf)] = v
	c.count++
	c.notifyLocked()
	return true
}

// takeLocked pops the oldest buffered message and refills the freed slot
// from the oldest parked sender.
func (c *Channel[T]) takeLocked() (T, bool) {
	var zero T
	if c.count == 0 {
		return zero, false
	}

	v := c.buf[c.head]
	c.buf[c.head] = zero
	c.head = (c.head + 1) % len(c.buf)
	c.count--

	if len(c.sendq) > 0 {
		w := c.sendq[0]
		c.sendq[0] = nil
		c.sendq = c.sendq[1:]
		c.buf[(c.head+c.count)%len(c.buf)] = w.val
		c.count++
		close(w.ready)
	}
	return v, true
}

// poll takes the oldest message if one is buffered and otherwise reports
// whether the channel is closed, atomically.
func (c *Channel[T]) poll() (v T, ok bool, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok = c.takeLocked()
	return v, ok, c.closed
}

func (c *Channel[T]) notifyLocked() {
	for w := range c.watchers {
		w.wake()
	}
}

func (c *Channel[T]) watch(w *waker) {
	c.mu.Lock()
	c.watchers[w] = struct{}{}
	c.mu.Unlock()
}

func (c *Channel[T]) unwatch(w *waker) {
	c.mu.Lock()
	delete(c.watchers, w)
	c.mu.Unlock()
}

func removeWaiter[W comparable](q *[]W, w W) bool {
	for i, x := range *q {
		if x == w {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return true
		}
	}
	return false
}
