package pool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/utkarsh5026/offload/internal/scheduler"
	"github.com/utkarsh5026/offload/internal/store"
	"github.com/utkarsh5026/offload/internal/types"
)

// Stats is a point-in-time view of a Runtime.
type Stats struct {
	QueueSize        int
	QueueCapacity    int
	ResultsCount     int
	PendingCount     int
	WorkerThreads    int
	MemoryUsedBytes  int64
	MemoryLimitBytes int64
	ResultTTL        time.Duration

	Submitted uint64
	Rejected  uint64
	Succeeded uint64
	Failed    uint64
	// Dropped counts finished tasks whose outcome was discarded by ClearAll.
	Dropped uint64
}

type counters struct {
	submitted atomic.Uint64
	rejected  atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Runtime owns the task queue, the worker threads and the result store.
// All methods are safe for concurrent use.
type Runtime struct {
	cfg     *config
	queue   *scheduler.JobQueue
	results *store.Store
	workers *workerPool
	stats   counters
	log     *zap.Logger

	// clearMu orders ClearAll against the MarkPending+Enqueue pair of Submit.
	clearMu sync.RWMutex

	cancel    context.CancelFunc
	sweepDone chan struct{}
	shutdown  atomic.Bool
}

// New validates opts, starts the worker threads and returns the Runtime.
// Invalid options yield an error wrapping ErrInvalidConfig.
func New(opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:   cfg,
		queue: scheduler.NewJobQueue(cfg.queueCapacity),
		log:   cfg.logger,
		results: store.New(
			store.WithTTL(cfg.resultTTL),
			store.WithMemoryLimit(cfg.memoryLimitBytes()),
			store.WithLogger(cfg.logger),
			store.WithEvictHook(cfg.onEvict),
		),
		sweepDone: make(chan struct{}),
	}
	rt.workers = newWorkerPool(cfg, rt.queue, rt.results, &rt.stats)

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	rt.workers.start(ctx)
	go rt.sweep(ctx)

	rt.log.Info("runtime started",
		zap.Int("worker_threads", cfg.workerThreads),
		zap.Int("queue_capacity", cfg.queueCapacity),
		zap.Duration("result_ttl", cfg.resultTTL),
		zap.Int64("memory_limit_mb", cfg.memoryLimitMB))
	return rt, nil
}

var (
	defaultMu      sync.Mutex
	defaultRuntime *Runtime
)

// Init creates the process-wide Runtime on first use. Later calls return the
// same handle and ignore opts. A failed Init leaves nothing behind, so it
// may be retried with corrected options.
func Init(opts ...Option) (*Runtime, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultRuntime != nil {
		return defaultRuntime, nil
	}
	rt, err := New(opts...)
	if err != nil {
		return nil, err
	}
	defaultRuntime = rt
	return rt, nil
}

// Default returns the Runtime created by Init.
func Default() (*Runtime, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultRuntime == nil {
		return nil, ErrNotInitialized
	}
	return defaultRuntime, nil
}

// Submit queues payload with the given priority and returns the task id.
// The payload is copied. It fails with ErrCapacityExceeded when the queue
// is full or the payload alone exceeds the memory budget, and with
// ErrShutdown after Shutdown.
func (rt *Runtime) Submit(payload []byte, priority int) (string, error) {
	if rt.shutdown.Load() {
		return "", ErrShutdown
	}
	if limit := rt.cfg.memoryLimitBytes(); int64(len(payload)) > limit {
		rt.stats.rejected.Add(1)
		return "", fmt.Errorf("payload of %d bytes exceeds memory limit of %d bytes: %w",
			len(payload), limit, ErrCapacityExceeded)
	}

	task := types.Task{
		ID:          uuid.NewString(),
		Payload:     bytes.Clone(payload),
		Priority:    priority,
		SubmittedAt: time.Now(),
	}

	rt.clearMu.RLock()
	// mark first so a fast worker always finds the id pending
	rt.results.MarkPending(task.ID)
	_, err := rt.queue.Enqueue(task)
	if err != nil {
		rt.results.Forget(task.ID)
	}
	rt.clearMu.RUnlock()

	if err != nil {
		rt.stats.rejected.Add(1)
		if errors.Is(err, types.ErrQueueClosed) {
			return "", ErrShutdown
		}
		return "", fmt.Errorf("queue full (%d tasks): %w", rt.queue.Cap(), err)
	}

	rt.stats.submitted.Add(1)
	return task.ID, nil
}

// GetResult returns the current outcome for id without blocking. An
// accepted task that has not finished yields StatusProcessing.
func (rt *Runtime) GetResult(id string) (Outcome, error) {
	return rt.results.Get(id)
}

// Await blocks until id has a final outcome or ctx ends.
func (rt *Runtime) Await(ctx context.Context, id string) (Outcome, error) {
	for {
		ready := rt.results.Watch(id)
		out, err := rt.results.Get(id)
		if err != nil || out.Done() {
			rt.results.Unwatch(id, ready)
			return out, err
		}

		select {
		case <-ready:
		case <-ctx.Done():
			rt.results.Unwatch(id, ready)
			return out, ctx.Err()
		}
	}
}

// Stats returns counters and configured limits.
func (rt *Runtime) Stats() Stats {
	return Stats{
		QueueSize:        rt.queue.Len(),
		QueueCapacity:    rt.queue.Cap(),
		ResultsCount:     rt.results.Len(),
		PendingCount:     rt.results.PendingLen(),
		WorkerThreads:    rt.cfg.workerThreads,
		MemoryUsedBytes:  rt.results.MemoryUsed(),
		MemoryLimitBytes: rt.results.MemoryLimit(),
		ResultTTL:        rt.results.TTL(),
		Submitted:        rt.stats.submitted.Load(),
		Rejected:         rt.stats.rejected.Load(),
		Succeeded:        rt.stats.succeeded.Load(),
		Failed:           rt.stats.failed.Load(),
		Dropped:          rt.stats.dropped.Load(),
	}
}

// ClearAll drops queued tasks, pending ids and stored outcomes. Tasks already
// running finish but their outcomes are discarded.
func (rt *Runtime) ClearAll() {
	rt.clearMu.Lock()
	dropped := rt.queue.Clear()
	rt.results.ClearAll()
	rt.clearMu.Unlock()

	rt.log.Info("runtime cleared", zap.Int("queued_dropped", len(dropped)))
}

// Shutdown stops accepting tasks, lets the workers drain the queue and
// waits for them up to timeout (zero waits forever). On timeout the
// processor context is cancelled and ErrShutdownTimeout is returned without
// waiting further. Outcomes stay readable afterwards.
func (rt *Runtime) Shutdown(timeout time.Duration) error {
	if !rt.shutdown.CompareAndSwap(false, true) {
		return fmt.Errorf("runtime already shut down: %w", ErrShutdown)
	}

	rt.queue.Close()
	err := waitUntil(rt.workers.done, timeout)
	rt.cancel()
	<-rt.sweepDone

	rt.log.Info("runtime stopped", zap.Error(err))
	return err
}

func (rt *Runtime) sweep(ctx context.Context) {
	defer close(rt.sweepDone)
	if rt.cfg.sweepInterval == 0 || rt.cfg.resultTTL == 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(rt.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := rt.results.Sweep(); n > 0 {
				rt.log.Debug("expired outcomes swept", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// waitUntil blocks until d is closed or timeout elapses.
func waitUntil(d <-chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		<-d
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-d:
		return nil
	case <-timer.C:
		return ErrShutdownTimeout
	}
}
