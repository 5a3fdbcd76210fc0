package pool

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Test helpers

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rt.Shutdown(time.Second) })
	return rt
}

func mustSubmit(t *testing.T, rt *Runtime, payload string, priority int) string {
	t.Helper()
	id, err := rt.Submit([]byte(payload), priority)
	if err != nil {
		t.Fatalf("submit %q: %v", payload, err)
	}
	return id
}

func awaitOutcome(t *testing.T, rt *Runtime, id string) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	out, err := rt.Await(ctx, id)
	if err != nil {
		t.Fatalf("await %s: %v", id, err)
	}
	return out
}

// gate is a processor that parks payloads equal to "block" until released
// and reports when a blocked payload has started.
type gate struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gate) Process(ctx context.Context, payload []byte) ([]byte, error) {
	if string(payload) == "block" {
		g.started <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return payload, nil
}

func (g *gate) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking task never started")
	}
}

func (g *gate) open() {
	g.once.Do(func() { close(g.release) })
}

// eventually polls cond until it holds or fails the test after two seconds.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
