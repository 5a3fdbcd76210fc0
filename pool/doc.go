// Package pool is the execution core: a bounded priority queue feeding a
// fixed set of OS-thread-locked workers, and a result store from which
// callers collect outcomes asynchronously.
//
// The primary type is Runtime. A host submits opaque byte payloads with a
// priority, gets back a task id immediately, and later polls GetResult (or
// blocks in Await) for the outcome. Higher priority tasks are picked first;
// equal priorities run in submission order.
//
// # Basic Usage
//
//	rt, err := pool.New(
//	    pool.WithWorkerThreads(4),
//	    pool.WithProcessor(pool.ProcessorFunc(func(ctx context.Context, in []byte) ([]byte, error) {
//	        return bytes.ToUpper(in), nil
//	    })),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Shutdown(5 * time.Second)
//
//	id, err := rt.Submit([]byte("hello"), 10)
//	out, err := rt.Await(ctx, id)
//
// # Result lifecycle
//
// GetResult reports StatusProcessing for accepted tasks without an outcome
// and ErrNotFound for ids that were never issued, have expired, or were
// evicted. Outcomes expire WithResultTTL after they were produced; when the
// stored outcomes exceed WithMemoryLimitMB the oldest are evicted first.
//
// # Process-wide runtime
//
// Init creates a single shared Runtime for hosts that expect one per
// process. Calling it again returns the existing handle and ignores the
// new options.
//
// # Configuration Options
//
//   - WithWorkerThreads(n): number of worker threads (default 8)
//   - WithQueueCapacity(n): pending task bound (default 1000)
//   - WithResultTTL(d): outcome lifetime, zero disables expiry (default 1h)
//   - WithMemoryLimitMB(n): outcome memory budget (default 1024)
//   - WithRetryPolicy / WithBackoff: retry failed processing
//   - WithRateLimit(tasksPerSecond, burst): throttle processing
//   - WithCircuitBreaker(failures, cooldown): fail fast on a broken processor
//   - WithThreadAffinity(): pin each worker thread to a CPU (Linux only)
package pool
