package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Benchmark Workloads
// =============================================================================

// cpuBoundWork spins over the payload a fixed number of times.
func cpuBoundWork(iterations int) ProcessorFunc {
	return func(_ context.Context, payload []byte) ([]byte, error) {
		var acc byte
		for i := 0; i < iterations; i++ {
			for _, b := range payload {
				acc += b ^ byte(i)
			}
		}
		return []byte{acc}, nil
	}
}

// ioBoundWork waits for delay, honouring cancellation.
func ioBoundWork(delay time.Duration) ProcessorFunc {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		select {
		case <-time.After(delay):
			return payload, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// submitAndAwait pushes n tasks from producers goroutines and waits for all
// of their outcomes.
func submitAndAwait(b *testing.B, rt *Runtime, n, producers int, payload []byte) {
	b.Helper()
	var wg sync.WaitGroup
	per := (n + producers - 1) / producers
	for p := 0; p < producers; p++ {
		count := min(per, n-p*per)
		if count <= 0 {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, 0, count)
			for i := 0; i < count; i++ {
				id, err := rt.Submit(payload, i%4)
				if err != nil {
					b.Errorf("submit: %v", err)
					return
				}
				ids = append(ids, id)
			}
			for _, id := range ids {
				if _, err := rt.Await(context.Background(), id); err != nil {
					b.Errorf("await: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

// =============================================================================
// Throughput Benchmarks
// =============================================================================

func BenchmarkRuntime_WorkerScaling(b *testing.B) {
	const taskCount = 5000
	payload := make([]byte, 64)

	for _, workers := range []int{1, 2, 4, 8, 16} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			rt, err := New(
				WithWorkerThreads(workers),
				WithQueueCapacity(taskCount),
				WithProcessor(cpuBoundWork(50)),
			)
			if err != nil {
				b.Fatal(err)
			}
			defer func() { _ = rt.Shutdown(0) }()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				submitAndAwait(b, rt, taskCount, 8, payload)
				rt.ClearAll()
			}
			b.ReportMetric(float64(taskCount*b.N)/b.Elapsed().Seconds(), "tasks/sec")
		})
	}
}

func BenchmarkRuntime_IOBound(b *testing.B) {
	const taskCount = 500
	rt, err := New(
		WithWorkerThreads(32),
		WithQueueCapacity(taskCount),
		WithProcessor(ioBoundWork(time.Millisecond)),
	)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = rt.Shutdown(0) }()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		submitAndAwait(b, rt, taskCount, 4, []byte("io"))
		rt.ClearAll()
	}
}

func BenchmarkRuntime_Submit(b *testing.B) {
	rt, err := New(
		WithWorkerThreads(4),
		WithQueueCapacity(1<<20),
	)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = rt.Shutdown(0) }()
	payload := make([]byte, 128)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := rt.Submit(payload, 0); err != nil {
				rt.ClearAll()
			}
		}
	})
}
