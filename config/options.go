package config

import (
	"go.uber.org/zap"

	"github.com/utkarsh5026/offload/pool"
)

// Options converts the runtime section into pool options. extra options
// are appended last and therefore win.
func (c *Config) Options(logger *zap.Logger, extra ...pool.Option) []pool.Option {
	r := c.Runtime
	opts := []pool.Option{
		pool.WithWorkerThreads(r.WorkerThreads),
		pool.WithQueueCapacity(r.QueueCapacity),
		pool.WithResultTTL(r.ResultTTL()),
		pool.WithMemoryLimitMB(r.MemoryLimitMB),
		pool.WithSweepInterval(r.SweepInterval),
		pool.WithLogger(logger),
		pool.WithRetryPolicy(r.Retry.MaxAttempts, r.Retry.InitialDelay),
		pool.WithBackoff(backoffType(r.Retry.Backoff), r.Retry.InitialDelay, r.Retry.MaxDelay, r.Retry.Jitter),
	}
	if r.ThreadAffinity {
		opts = append(opts, pool.WithThreadAffinity())
	}
	if r.RateLimit.PerSecond > 0 {
		opts = append(opts, pool.WithRateLimit(r.RateLimit.PerSecond, max(r.RateLimit.Burst, 1)))
	}
	if r.Breaker.Failures > 0 {
		opts = append(opts, pool.WithCircuitBreaker(r.Breaker.Failures, r.Breaker.Cooldown))
	}
	return append(opts, extra...)
}

func backoffType(name string) pool.BackoffType {
	switch name {
	case "jittered":
		return pool.BackoffJittered
	case "decorrelated":
		return pool.BackoffDecorrelated
	default:
		return pool.BackoffExponential
	}
}
