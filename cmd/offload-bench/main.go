// Command offload-bench measures submit-to-result throughput of an
// in-process runtime across worker thread counts.
package main

import (
	"cmp"
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/offload/pool"
)

var (
	bold  = color.New(color.Bold)
	red   = color.New(color.FgRed)
	green = color.New(color.FgGreen)
)

type benchConfig struct {
	tasks       int
	payloadSize int
	rounds      int
	producers   int
	priorities  int
}

type result struct {
	Workers    int
	Total      time.Duration
	TasksPerS  float64
	P50Wait    time.Duration
	P99Wait    time.Duration
	Rejections int64
	Failures   int64
	Rank       int
}

// hashRounds is the CPU-bound processor used for every run.
func hashRounds(rounds int) pool.ProcessorFunc {
	return func(_ context.Context, payload []byte) ([]byte, error) {
		sum := sha256.Sum256(payload)
		for range rounds - 1 {
			sum = sha256.Sum256(sum[:])
		}
		return sum[:], nil
	}
}

func runOnce(ctx context.Context, workers int, cfg benchConfig, bar *progressbar.ProgressBar) (result, error) {
	rt, err := pool.New(
		pool.WithWorkerThreads(workers),
		pool.WithQueueCapacity(max(cfg.tasks, 1)),
		pool.WithProcessor(hashRounds(cfg.rounds)),
	)
	if err != nil {
		return result{}, err
	}
	defer func() { _ = rt.Shutdown(0) }()

	payload := make([]byte, cfg.payloadSize)
	perProducer := make([][]time.Duration, cfg.producers)
	var rejected, failed atomic.Int64

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	per := (cfg.tasks + cfg.producers - 1) / cfg.producers
	for p := range cfg.producers {
		lo, hi := p*per, min((p+1)*per, cfg.tasks)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			accepted := make([]time.Duration, 0, hi-lo)
			defer func() { perProducer[p] = accepted }()
			for i := lo; i < hi; i++ {
				submitted := time.Now()
				id, err := rt.Submit(payload, i%max(cfg.priorities, 1))
				if err != nil {
					rejected.Add(1)
					continue
				}
				out, err := rt.Await(gctx, id)
				if err != nil {
					return fmt.Errorf("await %s: %w", id, err)
				}
				if out.Status == pool.StatusFailed {
					failed.Add(1)
				}
				accepted = append(accepted, time.Since(submitted))
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}
	total := time.Since(start)

	r := summarize(workers, total, slices.Concat(perProducer...))
	r.Rejections = rejected.Load()
	r.Failures = failed.Load()
	return r, nil
}

// summarize derives throughput and wait percentiles from the latencies of
// accepted tasks only.
func summarize(workers int, total time.Duration, latencies []time.Duration) result {
	slices.Sort(latencies)
	r := result{
		Workers: workers,
		Total:   total,
		P50Wait: percentile(latencies, 0.50),
		P99Wait: percentile(latencies, 0.99),
	}
	if total > 0 {
		r.TasksPerS = float64(len(latencies)) / total.Seconds()
	}
	return r
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func parseWorkers(raw string) ([]int, error) {
	if raw == "" {
		var out []int
		for n := 1; n <= runtime.NumCPU(); n *= 2 {
			out = append(out, n)
		}
		return out, nil
	}

	var out []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid worker count %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func printResults(results []result) {
	slices.SortFunc(results, func(a, b result) int {
		return cmp.Compare(a.Total, b.Total)
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	fastest := results[0].Total

	fmt.Println()
	_, _ = bold.Println("THROUGHPUT RESULTS")
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Rank", "Workers", "Time", "Tasks/sec", "p50", "p99", "Rejected", "vs Fastest")
	for _, r := range results {
		vs := fmt.Sprintf("%.2fx", float64(r.Total)/float64(fastest))
		if r.Rank == 1 {
			vs = "baseline"
		}
		_ = table.Append(
			strconv.Itoa(r.Rank),
			strconv.Itoa(r.Workers),
			r.Total.Round(time.Millisecond).String(),
			fmt.Sprintf("%.0f", r.TasksPerS),
			r.P50Wait.Round(time.Microsecond).String(),
			r.P99Wait.Round(time.Microsecond).String(),
			strconv.FormatInt(r.Rejections, 10),
			vs,
		)
	}
	_ = table.Render()
}

func makeProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Running"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func main() {
	tasksFlag := flag.Int("tasks", 100_000, "Tasks submitted per run")
	payloadFlag := flag.Int("payload", 256, "Payload size in bytes")
	roundsFlag := flag.Int("rounds", 16, "SHA-256 rounds per task")
	producersFlag := flag.Int("producers", 64, "Concurrent submitting goroutines")
	prioritiesFlag := flag.Int("priorities", 1, "Distinct priorities cycled through by submitters")
	workersFlag := flag.String("workers", "", "Comma separated worker thread counts (default: powers of two up to NumCPU)")
	flag.Parse()

	cfg := benchConfig{
		tasks:       *tasksFlag,
		payloadSize: *payloadFlag,
		rounds:      max(*roundsFlag, 1),
		producers:   max(*producersFlag, 1),
		priorities:  *prioritiesFlag,
	}
	if cfg.tasks <= 0 {
		_, _ = red.Println("Error: -tasks must be positive")
		os.Exit(1)
	}
	workerCounts, err := parseWorkers(*workersFlag)
	if err != nil {
		_, _ = red.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	_, _ = bold.Println("Configuration:")
	fmt.Printf("  Tasks:      %d per run\n", cfg.tasks)
	fmt.Printf("  Payload:    %d bytes, %d SHA-256 rounds\n", cfg.payloadSize, cfg.rounds)
	fmt.Printf("  Producers:  %d\n", cfg.producers)
	fmt.Printf("  Workers:    %v (%d CPU cores)\n", workerCounts, runtime.NumCPU())
	fmt.Println()

	ctx := context.Background()
	results := make([]result, 0, len(workerCounts))
	for _, n := range workerCounts {
		bar := makeProgressBar(cfg.tasks)
		bar.Describe(fmt.Sprintf("Workers: %d", n))

		r, err := runOnce(ctx, n, cfg, bar)
		_ = bar.Finish()
		if err != nil {
			_, _ = red.Printf("Run with %d workers failed: %v\n", n, err)
			os.Exit(1)
		}
		if r.Failures > 0 {
			_, _ = red.Printf("  %d tasks failed\n", r.Failures)
		}
		results = append(results, r)
		runtime.GC()
	}

	printResults(results)
	_, _ = green.Println("\nDone.")
}
