package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is the cooperative cancellation handle passed to a supervised run.
// Work should check Cancelled (or select on Done) at safe points and return.
// Each run gets a fresh Token; a cancelled Token never becomes uncancelled.
type Token struct {
	flag   atomic.Bool
	once   sync.Once
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func newToken() *Token {
	ctx, cancel := context.WithCancel(context.Background())
	return &Token{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Cancelled reports whether cancellation has been requested.
func (t *Token) Cancelled() bool {
	return t.flag.Load()
}

// Done is closed when cancellation is requested.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Context returns a context cancelled together with the token, for work
// that calls context-aware APIs.
func (t *Token) Context() context.Context {
	return t.ctx
}

func (t *Token) trip() {
	t.once.Do(func() {
		t.flag.Store(true)
		close(t.done)
		t.cancel()
	})
}

// release frees the context without marking the run cancelled.
func (t *Token) release() {
	t.cancel()
}
