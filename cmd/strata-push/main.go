package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/core"
	"github.com/anvil-platform/strata/internal/remote"
	"github.com/anvil-platform/strata/internal/storage"
)

var (
	target      string
	count       int
	concurrency int
	model       string
	caFile      string
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "strata-push",
	Short: "Push records to a strata node and report latency",
	Long: `strata-push sends records to the remote service of one node, the same
path peers use, and prints latency percentiles once every push finished.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&target, "target", "127.0.0.1:11800", "host:port of the node's gRPC server")
	rootCmd.Flags().IntVar(&count, "count", 1000, "number of records to push")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 16, "pushes in flight")
	rootCmd.Flags().StringVar(&model, "model", "segment", "record model")
	rootCmd.Flags().StringVar(&caFile, "ca-file", "", "CA bundle; enables TLS")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "timeout of one push")
}

func parseTarget(s string) (cluster.Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return cluster.Address{}, errors.Wrapf(err, "parse target %q", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return cluster.Address{}, errors.Wrapf(err, "parse port of %q", s)
	}
	return cluster.NewAddress(host, port), nil
}

func run(cmd *cobra.Command, args []string) error {
	if count <= 0 || concurrency <= 0 {
		return errors.New("--count and --concurrency must be positive")
	}
	addr, err := parseTarget(target)
	if err != nil {
		return err
	}
	client := remote.NewGRPCClient(addr, remote.GRPCClientOptions{Timeout: timeout, CAFile: caFile})
	defer client.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Pushing %d %s records to %s with concurrency %d\n", count, model, addr, concurrency)

	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, count)
		failed    atomic.Int64
	)
	start := time.Now()
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(concurrency)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			payload, err := json.Marshal(core.RecordPayload{
				Model:      model,
				TimeBucket: storage.TimeBucket(time.Now()),
				ID:         uuid.NewString(),
				Value:      json.RawMessage(strconv.Itoa(i)),
			})
			if err != nil {
				return err
			}
			pushStart := time.Now()
			if err := client.Push(ctx, core.RecordWorkerName, payload); err != nil {
				failed.Add(1)
				fmt.Fprintf(os.Stderr, "push %d: %v\n", i, err)
				return nil
			}
			mu.Lock()
			latencies = append(latencies, time.Since(pushStart))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	total := time.Since(start)

	if len(latencies) == 0 {
		return errors.Newf("all %d pushes failed", count)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Fprintf(out, "Completed in %v: %d ok, %d failed, %.0f records/s\n",
		total, len(latencies), failed.Load(), float64(len(latencies))/total.Seconds())
	fmt.Fprintf(out, "Latency p50=%v p90=%v p99=%v max=%v\n",
		percentile(latencies, 0.50), percentile(latencies, 0.90), percentile(latencies, 0.99), latencies[len(latencies)-1])
	return nil
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(q*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
