package pool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkers_RetryPolicy(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		var calls atomic.Int32
		var (
			mu       sync.Mutex
			attempts []int
		)
		rt := newTestRuntime(t,
			WithWorkerThreads(1),
			WithRetryPolicy(3, time.Millisecond),
			WithOnRetry(func(_ Task, attempt int, err error) {
				mu.Lock()
				attempts = append(attempts, attempt)
				mu.Unlock()
			}),
			WithProcessor(ProcessorFunc(func(_ context.Context, in []byte) ([]byte, error) {
				if calls.Add(1) < 3 {
					return nil, errors.New("transient")
				}
				return in, nil
			})),
		)

		out := awaitOutcome(t, rt, mustSubmit(t, rt, "flaky", 0))
		if out.Status != StatusSucceeded {
			t.Fatalf("expected success after retries, got %+v", out)
		}
		if calls.Load() != 3 {
			t.Errorf("expected 3 calls, got %d", calls.Load())
		}

		mu.Lock()
		defer mu.Unlock()
		if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
			t.Errorf("unexpected retry attempts %v", attempts)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls atomic.Int32
		rt := newTestRuntime(t,
			WithWorkerThreads(1),
			WithRetryPolicy(2, time.Millisecond),
			WithBackoff(BackoffDecorrelated, time.Millisecond, 5*time.Millisecond, 0),
			WithProcessor(ProcessorFunc(func(context.Context, []byte) ([]byte, error) {
				calls.Add(1)
				return nil, errors.New("permanent")
			})),
		)

		out := awaitOutcome(t, rt, mustSubmit(t, rt, "x", 0))
		if out.Status != StatusFailed || !strings.Contains(out.Err, "permanent") {
			t.Errorf("unexpected outcome %+v", out)
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 calls, got %d", calls.Load())
		}
	})

	t.Run("waits between attempts", func(t *testing.T) {
		var calls atomic.Int32
		rt := newTestRuntime(t,
			WithWorkerThreads(1),
			WithRetryPolicy(3, 20*time.Millisecond),
			WithProcessor(ProcessorFunc(func(context.Context, []byte) ([]byte, error) {
				calls.Add(1)
				return nil, errors.New("nope")
			})),
		)

		start := time.Now()
		awaitOutcome(t, rt, mustSubmit(t, rt, "x", 0))
		// 20ms then 40ms of exponential backoff
		if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
			t.Errorf("expected backoff delays, finished in %v", elapsed)
		}
	})
}

func TestWorkers_RateLimit(t *testing.T) {
	rt := newTestRuntime(t,
		WithWorkerThreads(4),
		WithRateLimit(20, 1),
	)

	start := time.Now()
	var ids []string
	for range 5 {
		ids = append(ids, mustSubmit(t, rt, "tick", 0))
	}
	for _, id := range ids {
		awaitOutcome(t, rt, id)
	}

	// burst of one, then one token every 50ms
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("rate limit not applied, 5 tasks took %v", elapsed)
	}
}

func TestWorkers_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	rt := newTestRuntime(t,
		WithWorkerThreads(1),
		WithCircuitBreaker(2, time.Hour),
		WithProcessor(ProcessorFunc(func(context.Context, []byte) ([]byte, error) {
			calls.Add(1)
			return nil, errors.New("backend down")
		})),
	)

	var outcomes []Outcome
	for range 5 {
		outcomes = append(outcomes, awaitOutcome(t, rt, mustSubmit(t, rt, "req", 0)))
	}

	if calls.Load() != 2 {
		t.Errorf("expected the breaker to stop calls after 2 failures, got %d", calls.Load())
	}
	for i, out := range outcomes {
		if out.Status != StatusFailed {
			t.Errorf("outcome %d: expected failed, got %v", i, out.Status)
		}
	}
	if !strings.Contains(outcomes[4].Err, "circuit breaker is open") {
		t.Errorf("expected open-breaker failure, got %q", outcomes[4].Err)
	}
}

func TestWorkers_Hooks(t *testing.T) {
	var started, ended atomic.Int32
	var failed atomic.Int32
	rt := newTestRuntime(t,
		WithWorkerThreads(4),
		WithBeforeTaskStart(func(Task) { started.Add(1) }),
		WithOnTaskEnd(func(_ Task, out Outcome, elapsed time.Duration) {
			ended.Add(1)
			if out.Status == StatusFailed {
				failed.Add(1)
			}
			if elapsed < 0 {
				t.Errorf("negative elapsed %v", elapsed)
			}
		}),
		WithProcessor(ProcessorFunc(func(_ context.Context, in []byte) ([]byte, error) {
			if string(in) == "bad" {
				return nil, errors.New("bad")
			}
			return in, nil
		})),
	)

	var ids []string
	for i := range 20 {
		payload := "ok"
		if i%5 == 0 {
			payload = "bad"
		}
		ids = append(ids, mustSubmit(t, rt, payload, 0))
	}
	for _, id := range ids {
		awaitOutcome(t, rt, id)
	}

	eventually(t, "end hooks", func() bool { return ended.Load() == 20 })
	if started.Load() != 20 || failed.Load() != 4 {
		t.Errorf("started=%d failed=%d", started.Load(), failed.Load())
	}
}

func TestWorkers_MemoryEviction(t *testing.T) {
	var (
		mu      sync.Mutex
		evicted []string
		reasons []EvictReason
	)
	rt := newTestRuntime(t,
		WithWorkerThreads(1),
		WithMemoryLimitMB(1),
		WithEvictHook(func(id string, reason EvictReason) {
			mu.Lock()
			evicted = append(evicted, id)
			reasons = append(reasons, reason)
			mu.Unlock()
		}),
	)

	chunk := strings.Repeat("x", 400<<10)
	first := awaitOutcome(t, rt, mustSubmit(t, rt, chunk, 0)).TaskID
	second := awaitOutcome(t, rt, mustSubmit(t, rt, chunk, 0)).TaskID
	third := awaitOutcome(t, rt, mustSubmit(t, rt, chunk, 0)).TaskID

	mu.Lock()
	if len(evicted) != 1 || evicted[0] != first || reasons[0] != EvictMemory {
		t.Errorf("expected %s evicted for memory, got %v %v", first, evicted, reasons)
	}
	mu.Unlock()

	if _, err := rt.GetResult(first); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected oldest outcome evicted, got %v", err)
	}
	for _, id := range []string{second, third} {
		if _, err := rt.GetResult(id); err != nil {
			t.Errorf("%s should survive: %v", id, err)
		}
	}
}

func TestWorkers_ThreadAffinity(t *testing.T) {
	rt := newTestRuntime(t, WithWorkerThreads(2), WithThreadAffinity())

	out := awaitOutcome(t, rt, mustSubmit(t, rt, "pinned", 0))
	if out.Status != StatusSucceeded {
		t.Errorf("expected success with pinned workers, got %+v", out)
	}
}
