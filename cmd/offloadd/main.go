// Command offloadd serves an offload runtime over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/utkarsh5026/offload/config"
	"github.com/utkarsh5026/offload/internal/httpapi"
	"github.com/utkarsh5026/offload/observability"
	"github.com/utkarsh5026/offload/pool"
	"github.com/utkarsh5026/offload/supervisor"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (default: search ./offload.yaml, ./configs, ~/.offload)")
	reportEvery := flag.Duration("report", 30*time.Second, "Interval between stats log lines (0 disables)")
	drain := flag.Duration("drain", 30*time.Second, "How long shutdown waits for queued tasks")
	flag.Parse()

	if err := run(*configPath, *reportEvery, *drain); err != nil {
		fmt.Fprintf(os.Stderr, "offloadd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, reportEvery, drain time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	extra := append(metrics.Options(), pool.WithProcessor(pool.ProcessorFunc(transform)))
	rt, err := pool.Init(cfg.Options(logger, extra...)...)
	if err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	if err := metrics.Observe(rt); err != nil {
		return fmt.Errorf("register runtime gauges: %w", err)
	}

	sup := supervisor.New(supervisor.WithLogger(logger))
	if reportEvery > 0 {
		sup.Spawn(reporter(rt, logger, reportEvery))
	}

	srv, err := httpapi.NewServer(rt, httpapi.Options{
		Addr:        cfg.HTTP.Listen,
		MetricsPath: cfg.HTTP.MetricsPath,
		Registry:    reg,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := srv.Run(ctx)

	supCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Shutdown(supCtx); err != nil {
		logger.Warn("background tasks did not stop", zap.Error(err))
	}
	if err := rt.Shutdown(drain); err != nil {
		logger.Warn("runtime shutdown", zap.Error(err))
	}
	return serveErr
}

// reporter logs a stats line every interval until cancelled.
func reporter(rt *pool.Runtime, logger *zap.Logger, interval time.Duration) supervisor.Work {
	return func(tok *supervisor.Token) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-tok.Done():
				return nil
			case <-ticker.C:
				st := rt.Stats()
				logger.Info("runtime stats",
					zap.Int("queue_size", st.QueueSize),
					zap.Int("pending", st.PendingCount),
					zap.Int("results", st.ResultsCount),
					zap.Int64("memory_used_bytes", st.MemoryUsedBytes),
					zap.Uint64("submitted", st.Submitted),
					zap.Uint64("succeeded", st.Succeeded),
					zap.Uint64("failed", st.Failed),
					zap.Uint64("rejected", st.Rejected))
			}
		}
	}
}
