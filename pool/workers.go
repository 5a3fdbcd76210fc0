package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/offload/internal/algorithms"
	"github.com/utkarsh5026/offload/internal/cpu"
	"github.com/utkarsh5026/offload/internal/scheduler"
	"github.com/utkarsh5026/offload/internal/store"
	"github.com/utkarsh5026/offload/internal/types"
)

// workerPool runs a fixed number of loops that move tasks from the queue
// through the processor into the store.
type workerPool struct {
	cfg     *config
	queue   *scheduler.JobQueue
	results *store.Store
	backoff algorithms.Backoff
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
	stats   *counters
	done    chan struct{}
}

func newWorkerPool(cfg *config, queue *scheduler.JobQueue, results *store.Store, stats *counters) *workerPool {
	p := &workerPool{
		cfg:     cfg,
		queue:   queue,
		results: results,
		backoff: algorithms.New(cfg.backoffType, cfg.backoffInitial, cfg.backoffMax, cfg.backoffJitter),
		log:     cfg.logger,
		stats:   stats,
		done:    make(chan struct{}),
	}

	if bs := cfg.breaker; bs != nil {
		p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "processor",
			MaxRequests: 1,
			Timeout:     bs.cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= bs.failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				p.log.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
			},
		})
	}
	return p
}

// start launches the worker loops. done is closed once every loop returned.
func (p *workerPool) start(ctx context.Context) {
	var g errgroup.Group
	for i := range p.cfg.workerThreads {
		g.Go(func() error {
			return p.loop(ctx, i)
		})
	}

	go func() {
		if err := g.Wait(); err != nil {
			p.log.Error("worker pool stopped", zap.Error(err))
		}
		close(p.done)
	}()
}

func (p *workerPool) loop(ctx context.Context, workerID int) error {
	binding, release := cpu.Bind(workerID, p.cfg.pinThreads)
	defer release()
	if binding.Err != nil {
		p.log.Warn("cpu pinning failed", zap.Int("worker", workerID), zap.Error(binding.Err))
	}

	log := p.log.With(zap.Int("worker", workerID))
	log.Debug("worker started", zap.Int("cpu", binding.CPU))

	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, types.ErrQueueClosed) || ctx.Err() != nil {
				log.Debug("worker stopped")
				return nil
			}
			return fmt.Errorf("worker %d: %w", workerID, err)
		}
		p.execute(ctx, log, task)
	}
}

// execute runs one task and settles its outcome. It never returns an error:
// every failure, including a panic, becomes a Failed outcome.
func (p *workerPool) execute(ctx context.Context, log *zap.Logger, task types.Task) {
	if p.cfg.beforeTaskStart != nil {
		p.cfg.beforeTaskStart(task)
	}

	start := time.Now()
	output, err := p.processWithRecovery(ctx, task)
	elapsed := time.Since(start)

	var outcome types.Outcome
	if err != nil {
		outcome = types.NewFailure(task.ID, err)
		log.Debug("task failed", zap.String("task_id", task.ID), zap.Error(err))
	} else {
		outcome = types.NewSuccess(task.ID, output)
	}

	switch {
	case !p.results.Settle(outcome):
		p.stats.dropped.Add(1)
		log.Debug("outcome dropped, task was cleared", zap.String("task_id", task.ID))
	case outcome.Status == types.StatusFailed:
		p.stats.failed.Add(1)
	default:
		p.stats.succeeded.Add(1)
	}

	if p.cfg.onTaskEnd != nil {
		p.cfg.onTaskEnd(task, outcome, elapsed)
	}
}

// processWithRecovery executes a task with panic recovery and retry logic.
// A panic is converted to an error carrying the stack trace.
func (p *workerPool) processWithRecovery(ctx context.Context, task types.Task) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("worker panic: %v\nstack trace:\n%s", r, buf[:n])
			p.log.Error("task panicked", zap.String("task_id", task.ID), zap.Any("panic", r))
		}
	}()

	return p.processWithRetry(ctx, task)
}

func (p *workerPool) processWithRetry(ctx context.Context, task types.Task) ([]byte, error) {
	var (
		output []byte
		err    error
		delay  time.Duration
	)
	maxAttempts := max(p.cfg.maxAttempts, 1)

	for attempt := range maxAttempts {
		if attempt > 0 {
			delay = p.backoff.Next(attempt-1, delay)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				}
			}
		}

		if err := p.wait(ctx); err != nil {
			return nil, err
		}

		output, err = p.call(ctx, task.Payload)
		if err == nil {
			return output, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, err
		}

		if attempt < maxAttempts-1 && p.cfg.onRetry != nil {
			p.cfg.onRetry(task, attempt+1, err)
		}
	}

	return nil, err
}

// wait blocks on the shared rate limiter, if any.
func (p *workerPool) wait(ctx context.Context) error {
	if p.cfg.rateLimiter == nil {
		return nil
	}
	if err := p.cfg.rateLimiter.Wait(ctx); err != nil {
		// the limiter's error does not wrap the context error
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (p *workerPool) call(ctx context.Context, payload []byte) ([]byte, error) {
	if p.breaker == nil {
		return p.cfg.processor.Process(ctx, payload)
	}

	v, err := p.breaker.Execute(func() (interface{}, error) {
		return p.cfg.processor.Process(ctx, payload)
	})
	if err != nil {
		return nil, err
	}
	out, _ := v.([]byte)
	return out, nil
}
