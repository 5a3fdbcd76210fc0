package pool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var upper = ProcessorFunc(func(_ context.Context, in []byte) ([]byte, error) {
	return bytes.ToUpper(in), nil
})

func TestRuntime_SubmitAndGetResult(t *testing.T) {
	rt := newTestRuntime(t, WithWorkerThreads(2), WithProcessor(upper))

	id := mustSubmit(t, rt, "hello", 0)
	out := awaitOutcome(t, rt, id)

	if out.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %v", out.Status)
	}
	if string(out.Payload) != "HELLO" {
		t.Errorf("expected HELLO, got %q", out.Payload)
	}

	again, err := rt.GetResult(id)
	if err != nil || string(again.Payload) != "HELLO" {
		t.Errorf("GetResult after completion = %q, %v", again.Payload, err)
	}
}

func TestRuntime_SubmitCopiesPayload(t *testing.T) {
	g := newGate()
	rt := newTestRuntime(t, WithWorkerThreads(1), WithProcessor(g))
	defer g.open()

	mustSubmit(t, rt, "block", 0)
	g.waitStarted(t)

	buf := []byte("original")
	id, err := rt.Submit(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	copy(buf, "mutated!")
	g.open()

	if out := awaitOutcome(t, rt, id); string(out.Payload) != "original" {
		t.Errorf("expected the submitted bytes, got %q", out.Payload)
	}
}

func TestRuntime_GetResultStates(t *testing.T) {
	g := newGate()
	rt := newTestRuntime(t, WithWorkerThreads(1), WithProcessor(g))
	defer g.open()

	t.Run("unknown id", func(t *testing.T) {
		_, err := rt.GetResult("no-such-task")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("running and queued tasks report processing", func(t *testing.T) {
		running := mustSubmit(t, rt, "block", 0)
		g.waitStarted(t)
		queued := mustSubmit(t, rt, "next", 0)

		for _, id := range []string{running, queued} {
			out, err := rt.GetResult(id)
			if err != nil {
				t.Fatalf("GetResult(%s): %v", id, err)
			}
			if out.Status != StatusProcessing || out.Done() {
				t.Errorf("expected processing, got %v", out.Status)
			}
		}

		g.open()
		if out := awaitOutcome(t, rt, queued); out.Status != StatusSucceeded {
			t.Errorf("expected succeeded, got %v", out.Status)
		}
	})
}

func TestRuntime_PriorityOrder(t *testing.T) {
	g := newGate()
	var (
		mu    sync.Mutex
		order []string
	)
	rt := newTestRuntime(t,
		WithWorkerThreads(1),
		WithProcessor(g),
		WithBeforeTaskStart(func(task Task) {
			mu.Lock()
			order = append(order, string(task.Payload))
			mu.Unlock()
		}),
	)
	defer g.open()

	mustSubmit(t, rt, "block", 0)
	g.waitStarted(t)

	ids := []string{
		mustSubmit(t, rt, "low", 1),
		mustSubmit(t, rt, "high", 9),
		mustSubmit(t, rt, "mid-a", 5),
		mustSubmit(t, rt, "mid-b", 5),
	}
	g.open()
	for _, id := range ids {
		awaitOutcome(t, rt, id)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"block", "high", "mid-a", "mid-b", "low"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("expected order %v, got %v", want, order)
	}
}

func TestRuntime_CapacityExceeded(t *testing.T) {
	t.Run("queue full", func(t *testing.T) {
		g := newGate()
		rt := newTestRuntime(t, WithWorkerThreads(1), WithQueueCapacity(2), WithProcessor(g))
		defer g.open()

		mustSubmit(t, rt, "block", 0)
		g.waitStarted(t)
		mustSubmit(t, rt, "a", 0)
		mustSubmit(t, rt, "b", 0)

		_, err := rt.Submit([]byte("c"), 100)
		if !errors.Is(err, ErrCapacityExceeded) {
			t.Fatalf("expected ErrCapacityExceeded, got %v", err)
		}

		stats := rt.Stats()
		if stats.QueueSize != 2 || stats.Rejected != 1 {
			t.Errorf("unexpected stats %+v", stats)
		}
		if stats.PendingCount != 3 {
			t.Errorf("rejected task must not stay pending, got %d pending", stats.PendingCount)
		}
	})

	t.Run("payload larger than memory limit", func(t *testing.T) {
		rt := newTestRuntime(t, WithMemoryLimitMB(1))
		_, err := rt.Submit(make([]byte, 1<<20+1), 0)
		if !errors.Is(err, ErrCapacityExceeded) {
			t.Errorf("expected ErrCapacityExceeded, got %v", err)
		}
		if _, err := rt.Submit(make([]byte, 1<<20), 0); err != nil {
			t.Errorf("payload at the limit should be accepted, got %v", err)
		}
	})
}

func TestRuntime_FailedOutcome(t *testing.T) {
	rt := newTestRuntime(t, WithWorkerThreads(1), WithProcessor(ProcessorFunc(
		func(_ context.Context, in []byte) ([]byte, error) {
			if string(in) == "panic" {
				panic("processor exploded")
			}
			if string(in) == "bad" {
				return nil, errors.New("malformed input")
			}
			return in, nil
		})))

	t.Run("processor error", func(t *testing.T) {
		out := awaitOutcome(t, rt, mustSubmit(t, rt, "bad", 0))
		if out.Status != StatusFailed {
			t.Fatalf("expected failed, got %v", out.Status)
		}
		if !errors.Is(out.Failure(), ErrProcessingFailure) {
			t.Errorf("expected ErrProcessingFailure, got %v", out.Failure())
		}
		if !strings.Contains(out.Err, "malformed input") {
			t.Errorf("expected error text, got %q", out.Err)
		}
	})

	t.Run("panic becomes failure and worker survives", func(t *testing.T) {
		out := awaitOutcome(t, rt, mustSubmit(t, rt, "panic", 0))
		if out.Status != StatusFailed || !strings.Contains(out.Err, "worker panic: processor exploded") {
			t.Fatalf("unexpected outcome %+v", out)
		}

		next := awaitOutcome(t, rt, mustSubmit(t, rt, "fine", 0))
		if next.Status != StatusSucceeded {
			t.Errorf("worker did not survive the panic: %+v", next)
		}
	})

	if s := rt.Stats(); s.Failed != 2 || s.Succeeded != 1 {
		t.Errorf("unexpected counters %+v", s)
	}
}

func TestRuntime_ResultExpiry(t *testing.T) {
	rt := newTestRuntime(t,
		WithResultTTL(50*time.Millisecond),
		WithSweepInterval(10*time.Millisecond),
	)

	id := mustSubmit(t, rt, "short-lived", 0)
	awaitOutcome(t, rt, id)

	eventually(t, "sweeper to drop the outcome", func() bool {
		return rt.Stats().ResultsCount == 0
	})
	if _, err := rt.GetResult(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestRuntime_ClearAll(t *testing.T) {
	g := newGate()
	var ended atomic.Int32
	rt := newTestRuntime(t,
		WithWorkerThreads(1),
		WithProcessor(g),
		WithOnTaskEnd(func(Task, Outcome, time.Duration) { ended.Add(1) }),
	)
	defer g.open()

	done := mustSubmit(t, rt, "done", 0)
	awaitOutcome(t, rt, done)

	running := mustSubmit(t, rt, "block", 0)
	g.waitStarted(t)
	queued := []string{mustSubmit(t, rt, "q1", 0), mustSubmit(t, rt, "q2", 0)}

	rt.ClearAll()

	stats := rt.Stats()
	if stats.QueueSize != 0 || stats.ResultsCount != 0 || stats.PendingCount != 0 {
		t.Errorf("expected empty runtime, got %+v", stats)
	}
	for _, id := range append([]string{done, running}, queued...) {
		if _, err := rt.GetResult(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", id, err)
		}
	}

	g.open()
	eventually(t, "running task to finish", func() bool { return ended.Load() == 2 })
	if _, err := rt.GetResult(running); !errors.Is(err, ErrNotFound) {
		t.Errorf("outcome of a cleared task reappeared: %v", err)
	}
	eventually(t, "dropped outcome to be counted", func() bool { return rt.Stats().Dropped == 1 })
	if s := rt.Stats(); s.Succeeded != 1 || s.Failed != 0 {
		t.Errorf("only settled outcomes should count as completed, got %+v", s)
	}
}

func TestRuntime_ClearAllRacingSubmit(t *testing.T) {
	g := newGate()
	rt := newTestRuntime(t,
		WithWorkerThreads(1),
		WithQueueCapacity(100_000),
		WithProcessor(g),
	)
	defer g.open()

	// park the only worker so every later submission stays queued
	mustSubmit(t, rt, "block", 0)
	g.waitStarted(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				rt.ClearAll()
			}
		}
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if _, err := rt.Submit([]byte("q"), 0); err != nil {
					t.Errorf("submit: %v", err)
					return
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()

	// every queued task must still be known to the store
	s := rt.Stats()
	if s.PendingCount < s.QueueSize {
		t.Fatalf("queued tasks lost their pending mark: queue=%d pending=%d", s.QueueSize, s.PendingCount)
	}

	id := mustSubmit(t, rt, "after", 0)
	if out, err := rt.GetResult(id); err != nil || out.Status != StatusProcessing {
		t.Errorf("fresh submission: %+v, %v", out, err)
	}
}

func TestRuntime_Stats(t *testing.T) {
	rt := newTestRuntime(t,
		WithWorkerThreads(3),
		WithQueueCapacity(50),
		WithResultTTL(time.Minute),
		WithMemoryLimitMB(2),
	)

	awaitOutcome(t, rt, mustSubmit(t, rt, "abcd", 0))
	s := rt.Stats()

	if s.WorkerThreads != 3 || s.QueueCapacity != 50 {
		t.Errorf("unexpected sizing %+v", s)
	}
	if s.MemoryLimitBytes != 2<<20 || s.ResultTTL != time.Minute {
		t.Errorf("unexpected limits %+v", s)
	}
	if s.ResultsCount != 1 || s.MemoryUsedBytes != 4 || s.Submitted != 1 {
		t.Errorf("unexpected usage %+v", s)
	}
}

func TestRuntime_Defaults(t *testing.T) {
	rt := newTestRuntime(t)
	s := rt.Stats()
	if s.WorkerThreads != 8 || s.QueueCapacity != 1000 ||
		s.ResultTTL != time.Hour || s.MemoryLimitBytes != 1024<<20 {
		t.Errorf("unexpected defaults %+v", s)
	}

	out := awaitOutcome(t, rt, mustSubmit(t, rt, "echo", 0))
	if string(out.Payload) != "echo" {
		t.Errorf("default processor should echo, got %q", out.Payload)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"zero workers", WithWorkerThreads(0)},
		{"zero capacity", WithQueueCapacity(0)},
		{"negative ttl", WithResultTTL(-time.Second)},
		{"zero memory", WithMemoryLimitMB(0)},
		{"negative sweep", WithSweepInterval(-time.Second)},
		{"nil processor", WithProcessor(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := New(tt.opt)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if rt != nil {
				t.Error("expected no runtime")
			}
		})
	}
}

func TestInit_Idempotent(t *testing.T) {
	if _, err := Init(WithWorkerThreads(-1)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := Default(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized after failed init, got %v", err)
	}

	first, err := Init(WithWorkerThreads(2))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = first.Shutdown(time.Second) })
	second, err := Init(WithWorkerThreads(5))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("second Init should return the existing runtime")
	}
	if n := second.Stats().WorkerThreads; n != 2 {
		t.Errorf("second Init must not reconfigure, got %d workers", n)
	}

	def, err := Default()
	if err != nil || def != first {
		t.Errorf("Default() = %p, %v", def, err)
	}
}

func TestRuntime_Await(t *testing.T) {
	g := newGate()
	rt := newTestRuntime(t, WithWorkerThreads(1), WithProcessor(g))
	defer g.open()

	id := mustSubmit(t, rt, "block", 0)
	g.waitStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := rt.Await(ctx, id)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if out.Status != StatusProcessing {
		t.Errorf("expected processing snapshot, got %v", out.Status)
	}

	if _, err := rt.Await(context.Background(), "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRuntime_Shutdown(t *testing.T) {
	t.Run("drains queued work", func(t *testing.T) {
		rt, err := New(WithWorkerThreads(1), WithProcessor(ProcessorFunc(
			func(_ context.Context, in []byte) ([]byte, error) {
				time.Sleep(5 * time.Millisecond)
				return in, nil
			})))
		if err != nil {
			t.Fatal(err)
		}

		var ids []string
		for i := range 5 {
			ids = append(ids, mustSubmit(t, rt, fmt.Sprint(i), 0))
		}
		if err := rt.Shutdown(2 * time.Second); err != nil {
			t.Fatalf("shutdown: %v", err)
		}

		for _, id := range ids {
			out, err := rt.GetResult(id)
			if err != nil || out.Status != StatusSucceeded {
				t.Errorf("%s: expected succeeded after drain, got %v %v", id, out.Status, err)
			}
		}

		if _, err := rt.Submit([]byte("late"), 0); !errors.Is(err, ErrShutdown) {
			t.Errorf("expected ErrShutdown, got %v", err)
		}
		if err := rt.Shutdown(time.Second); !errors.Is(err, ErrShutdown) {
			t.Errorf("expected ErrShutdown on second call, got %v", err)
		}
	})

	t.Run("times out on stuck work", func(t *testing.T) {
		g := newGate()
		rt, err := New(WithWorkerThreads(1), WithProcessor(g))
		if err != nil {
			t.Fatal(err)
		}
		defer g.open()

		mustSubmit(t, rt, "block", 0)
		g.waitStarted(t)

		if err := rt.Shutdown(20 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
			t.Errorf("expected ErrShutdownTimeout, got %v", err)
		}
	})
}

func TestRuntime_ConcurrentSubmitters(t *testing.T) {
	var calls sync.Map
	rt := newTestRuntime(t,
		WithWorkerThreads(8),
		WithQueueCapacity(2000),
		WithProcessor(ProcessorFunc(func(_ context.Context, in []byte) ([]byte, error) {
			n, _ := calls.LoadOrStore(string(in), new(atomic.Int32))
			n.(*atomic.Int32).Add(1)
			return in, nil
		})),
	)

	const producers, perProducer = 4, 250
	ids := make([][]string, producers)
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				id, err := rt.Submit([]byte(fmt.Sprintf("%d-%d", p, i)), i%7)
				if err != nil {
					t.Errorf("submit: %v", err)
					return
				}
				ids[p] = append(ids[p], id)
			}
		}()
	}
	wg.Wait()

	for p := range producers {
		for i, id := range ids[p] {
			out := awaitOutcome(t, rt, id)
			if want := fmt.Sprintf("%d-%d", p, i); string(out.Payload) != want {
				t.Fatalf("task %s: expected %q, got %q", id, want, out.Payload)
			}
		}
	}

	calls.Range(func(key, value any) bool {
		if n := value.(*atomic.Int32).Load(); n != 1 {
			t.Errorf("payload %v processed %d times", key, n)
		}
		return true
	})
}
