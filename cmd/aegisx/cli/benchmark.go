package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegisx/aegisx/internal/apikey"
)

func newBenchmarkCmd() *cobra.Command {
	var (
		costs       []int
		duration    time.Duration
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Benchmark API key verification latency",
		Long: `Measure bcrypt verification throughput and latency at one or more work factors.
Use it to pick auth.bcrypt_cost and auth.hash_workers for the machine that runs the server.`,
		Example: `  aegisx benchmark
  aegisx benchmark --cost 10,12,14 --duration 10s --concurrency 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd.Context(), cmd.OutOrStdout(), costs, duration, concurrency)
		},
	}

	cmd.Flags().IntSliceVar(&costs, "cost", []int{10, 11, 12}, "bcrypt costs to measure")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "Duration per cost")
	cmd.Flags().IntVar(&concurrency, "concurrency", runtime.GOMAXPROCS(0), "Concurrent verifications (hash workers)")

	return cmd
}

type benchResult struct {
	cost     int
	total    int64
	failures int64
	qps      float64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	max      time.Duration
}

func runBenchmark(ctx context.Context, out io.Writer, costs []int, duration time.Duration, concurrency int) error {
	if concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}
	for _, c := range costs {
		if c < bcrypt.MinCost || c > bcrypt.MaxCost {
			return fmt.Errorf("cost %d out of range [%d, %d]", c, bcrypt.MinCost, bcrypt.MaxCost)
		}
	}

	fmt.Fprintln(out, "aegisx API key verification benchmark")
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(out, "Duration: %s per cost | Concurrency: %d | CPUs: %d\n", duration, concurrency, runtime.NumCPU())
	fmt.Fprintln(out)

	fmt.Fprintf(out, "%-6s %-10s %-10s %-12s %-12s %-12s %-12s\n", "COST", "VERIFIES", "PER SEC", "P50", "P95", "P99", "MAX")
	for _, cost := range costs {
		res, err := benchmarkCost(ctx, cost, duration, concurrency)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-6d %-10d %-10.1f %-12s %-12s %-12s %-12s\n",
			res.cost, res.total, res.qps, res.p50, res.p95, res.p99, res.max)
		if res.failures > 0 {
			fmt.Fprintf(out, "       %d verifications failed\n", res.failures)
		}
	}
	return nil
}

func benchmarkCost(ctx context.Context, cost int, duration time.Duration, concurrency int) (benchResult, error) {
	hasher := apikey.NewHasher(cost, concurrency)
	cred, err := hasher.Issue(ctx)
	if err != nil {
		return benchResult{}, fmt.Errorf("issue benchmark key: %w", err)
	}

	var (
		total     atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, 1024)
		latencyMu sync.Mutex
		wg        sync.WaitGroup
	)

	deadline := time.Now().Add(duration)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) && ctx.Err() == nil {
				start := time.Now()
				ok := hasher.Verify(ctx, cred.FullSecret, cred.Hash)
				elapsed := time.Since(start)
				if !ok {
					failures.Add(1)
					continue
				}
				total.Add(1)
				latencyMu.Lock()
				latencies = append(latencies, elapsed)
				latencyMu.Unlock()
			}
		}()
	}
	wg.Wait()

	res := benchResult{
		cost:     cost,
		total:    total.Load(),
		failures: failures.Load(),
		qps:      float64(total.Load()) / duration.Seconds(),
	}
	if n := len(latencies); n > 0 {
		slices.Sort(latencies)
		res.p50 = latencies[n*50/100]
		res.p95 = latencies[n*95/100]
		res.p99 = latencies[n*99/100]
		res.max = latencies[n-1]
	}
	return res, nil
}
