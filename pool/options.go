package pool

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/utkarsh5026/offload/internal/algorithms"
)

// Defaults applied by New and Init.
const (
	DefaultWorkerThreads = 8
	DefaultQueueCapacity = 1000
	DefaultResultTTL     = time.Hour
	DefaultMemoryLimitMB = 1024
	DefaultSweepInterval = time.Second
)

// BackoffType selects the delay strategy between retries.
type BackoffType = algorithms.Kind

const (
	// BackoffExponential doubles the delay on each retry (default).
	BackoffExponential = algorithms.Exponential
	// BackoffJittered randomizes the exponential delay by the jitter factor.
	BackoffJittered = algorithms.Jittered
	// BackoffDecorrelated spreads retries of concurrent tasks apart.
	BackoffDecorrelated = algorithms.Decorrelated
)

// Option is a functional option for configuring a Runtime.
type Option func(*config)

type breakerSettings struct {
	failures uint32
	cooldown time.Duration
}

type config struct {
	workerThreads int
	queueCapacity int
	resultTTL     time.Duration
	memoryLimitMB int64
	sweepInterval time.Duration

	processor Processor
	logger    *zap.Logger

	maxAttempts    int
	backoffType    BackoffType
	backoffInitial time.Duration
	backoffMax     time.Duration
	backoffJitter  float64

	rateLimiter *rate.Limiter
	breaker     *breakerSettings
	pinThreads  bool

	beforeTaskStart func(Task)
	onTaskEnd       func(Task, Outcome, time.Duration)
	onRetry         func(Task, int, error)
	onEvict         func(id string, reason EvictReason)
}

func defaultConfig() *config {
	return &config{
		workerThreads:  DefaultWorkerThreads,
		queueCapacity:  DefaultQueueCapacity,
		resultTTL:      DefaultResultTTL,
		memoryLimitMB:  DefaultMemoryLimitMB,
		sweepInterval:  DefaultSweepInterval,
		processor:      echo,
		logger:         zap.NewNop(),
		maxAttempts:    1,
		backoffType:    BackoffExponential,
		backoffInitial: 100 * time.Millisecond,
		backoffMax:     5 * time.Second,
		backoffJitter:  0.1,
	}
}

func (c *config) validate() error {
	switch {
	case c.workerThreads <= 0:
		return fmt.Errorf("worker_threads must be positive, got %d: %w", c.workerThreads, ErrInvalidConfig)
	case c.queueCapacity <= 0:
		return fmt.Errorf("queue_capacity must be positive, got %d: %w", c.queueCapacity, ErrInvalidConfig)
	case c.resultTTL < 0:
		return fmt.Errorf("result_ttl must not be negative, got %v: %w", c.resultTTL, ErrInvalidConfig)
	case c.memoryLimitMB <= 0:
		return fmt.Errorf("memory_limit_mb must be positive, got %d: %w", c.memoryLimitMB, ErrInvalidConfig)
	case c.sweepInterval < 0:
		return fmt.Errorf("sweep_interval must not be negative, got %v: %w", c.sweepInterval, ErrInvalidConfig)
	case c.processor == nil:
		return fmt.Errorf("processor must not be nil: %w", ErrInvalidConfig)
	}
	return nil
}

func (c *config) memoryLimitBytes() int64 {
	return c.memoryLimitMB << 20
}

// WithWorkerThreads sets the number of worker threads. It is fixed for the
// life of the Runtime.
func WithWorkerThreads(n int) Option {
	return func(c *config) {
		c.workerThreads = n
	}
}

// WithQueueCapacity bounds the number of tasks waiting for a worker.
// Submit fails with ErrCapacityExceeded once the bound is reached.
func WithQueueCapacity(n int) Option {
	return func(c *config) {
		c.queueCapacity = n
	}
}

// WithResultTTL sets how long an outcome stays retrievable after it was
// produced. Zero keeps outcomes until they are evicted or cleared.
func WithResultTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.resultTTL = ttl
	}
}

// WithMemoryLimitMB sets the budget for stored outcome payloads.
func WithMemoryLimitMB(mb int64) Option {
	return func(c *config) {
		c.memoryLimitMB = mb
	}
}

// WithSweepInterval sets how often expired outcomes are actively removed.
// Zero disables the sweeper; expired outcomes are then only dropped when
// read.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		c.sweepInterval = d
	}
}

// WithProcessor sets the function workers run on each payload.
func WithProcessor(p Processor) Option {
	return func(c *config) {
		c.processor = p
	}
}

// WithLogger sets the logger for worker and store diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryPolicy sets a retry policy for task processing.
// maxAttempts specifies the maximum number of attempts for each task.
// initialDelay specifies the delay before the first retry, subsequent
// retries follow the configured backoff.
func WithRetryPolicy(maxAttempts int, initialDelay time.Duration) Option {
	return func(c *config) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if initialDelay > 0 {
			c.backoffInitial = initialDelay
		}
	}
}

// WithBackoff configures the retry delay strategy. It has no effect unless
// WithRetryPolicy allows more than one attempt.
//
// Example:
//
//	WithBackoff(BackoffDecorrelated, 50*time.Millisecond, 2*time.Second, 0)
func WithBackoff(kind BackoffType, initialDelay, maxDelay time.Duration, jitterFactor float64) Option {
	return func(c *config) {
		c.backoffType = kind
		if initialDelay > 0 {
			c.backoffInitial = initialDelay
		}
		if maxDelay > 0 {
			c.backoffMax = maxDelay
		}
		c.backoffJitter = jitterFactor
	}
}

// WithRateLimit caps how many tasks per second the workers start, shared
// across all workers.
//
// Example:
//
//	WithRateLimit(10, 5) // 10 tasks/sec with a burst of 5
func WithRateLimit(tasksPerSecond float64, burst int) Option {
	return func(c *config) {
		if tasksPerSecond > 0 && burst > 0 {
			c.rateLimiter = rate.NewLimiter(rate.Limit(tasksPerSecond), burst)
		}
	}
}

// WithCircuitBreaker opens a breaker around the processor after the given
// number of consecutive failures. While open, tasks fail immediately
// without reaching the processor; after cooldown a single probe is let
// through.
func WithCircuitBreaker(consecutiveFailures uint32, cooldown time.Duration) Option {
	return func(c *config) {
		if consecutiveFailures > 0 {
			c.breaker = &breakerSettings{failures: consecutiveFailures, cooldown: cooldown}
		}
	}
}

// WithThreadAffinity pins each worker thread to its own CPU where the
// platform supports it. Workers are always locked to an OS thread.
func WithThreadAffinity() Option {
	return func(c *config) {
		c.pinThreads = true
	}
}

// WithBeforeTaskStart registers a hook called on the worker thread right
// before a task is processed.
func WithBeforeTaskStart(fn func(Task)) Option {
	return func(c *config) {
		c.beforeTaskStart = fn
	}
}

// WithOnTaskEnd registers a hook called after a task's outcome is known,
// with the time spent processing it.
func WithOnTaskEnd(fn func(Task, Outcome, time.Duration)) Option {
	return func(c *config) {
		c.onTaskEnd = fn
	}
}

// WithOnRetry registers a hook called before each retry with the number of
// the attempt that just failed (starting at 1) and its error.
func WithOnRetry(fn func(task Task, attempt int, err error)) Option {
	return func(c *config) {
		c.onRetry = fn
	}
}

// WithEvictHook registers a hook called for each outcome removed by expiry
// or by the memory budget.
func WithEvictHook(fn func(id string, reason EvictReason)) Option {
	return func(c *config) {
		c.onEvict = fn
	}
}
