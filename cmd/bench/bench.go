package bench

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/lockfree"
	"github.com/tphakala/audiostream/internal/scheduler"
)

type options struct {
	items     int
	producers int
}

// result is one benchmark phase.
type result struct {
	name    string
	items   int
	elapsed time.Duration
}

func (r result) throughput() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.items) / r.elapsed.Seconds()
}

// Command stresses the worker pool and the lock-free structures.
func Command(rt *app.Runtime) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Stress the worker pool and lock-free queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.items < 1 {
				return fmt.Errorf("items must be positive, got %d", opts.items)
			}
			if opts.producers < 1 {
				return fmt.Errorf("producers must be positive, got %d", opts.producers)
			}
			return run(cmd.Context(), cmd.OutOrStdout(), rt, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.items, "items", "n", 100_000, "items per phase")
	cmd.Flags().IntVarP(&opts.producers, "producers", "p", 4, "concurrent producers, and consumers where a phase has them")

	return cmd
}

func run(ctx context.Context, out io.Writer, rt *app.Runtime, opts options) error {
	pool, err := rt.NewPool()
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	fmt.Fprintf(out, "Workers: %d  Producers: %d  Items: %d\n\n", pool.Workers(), opts.producers, opts.items)

	phases := []func(context.Context, options) (result, error){
		func(ctx context.Context, o options) (result, error) { return benchPool(ctx, pool, o) },
		benchDeque,
		benchSkipList,
	}

	fmt.Fprintf(out, "Phase          Elapsed        Throughput\n")
	fmt.Fprintf(out, "─────────────  ─────────────  ──────────────────────\n")
	for _, phase := range phases {
		res, err := phase(ctx, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-13s  %13s  %12.0f items/sec\n", res.name, res.elapsed.Round(time.Microsecond), res.throughput())
	}

	stats := pool.Stats()
	fmt.Fprintf(out, "\nPool: completed %d, cancelled %d, panicked %d, priority moves %d\n",
		stats.Completed, stats.Cancelled, stats.Panicked, stats.Moved)

	reportResources(out)
	return nil
}

// benchPool queues items from concurrent producers with random priorities
// and waits for the pool to run them all.
func benchPool(ctx context.Context, pool *scheduler.Pool, opts options) (result, error) {
	var ran atomic.Int64
	work := func(*scheduler.Token) { ran.Add(1) }

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := range opts.producers {
		n := share(opts.items, opts.producers, p)
		g.Go(func() error {
			for i := range n {
				if err := gctx.Err(); err != nil {
					return err
				}
				prio := rand.Float64() * 100
				if _, err := pool.Go("bench", work, scheduler.WithPriority(prio)); err != nil {
					return fmt.Errorf("producer %d item %d: %w", p, i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}
	if err := pool.Flush(ctx); err != nil {
		return result{}, err
	}
	if got := ran.Load(); got != int64(opts.items) {
		return result{}, fmt.Errorf("pool ran %d of %d items", got, opts.items)
	}
	return result{name: "pool", items: opts.items, elapsed: time.Since(start)}, nil
}

// benchDeque runs producers and consumers against one deque until every
// pushed value has been popped exactly once.
func benchDeque(ctx context.Context, opts options) (result, error) {
	d := lockfree.NewDeque[int]()
	var popped atomic.Int64
	total := int64(opts.items)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := range opts.producers {
		n := share(opts.items, opts.producers, p)
		g.Go(func() error {
			for i := range n {
				if i%2 == 0 {
					d.PushBack(i)
				} else {
					d.PushFront(i)
				}
			}
			return nil
		})
		g.Go(func() error {
			for popped.Load() < total {
				if err := gctx.Err(); err != nil {
					return err
				}
				if _, ok := d.TryPopFront(); ok {
					popped.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}
	return result{name: "deque", items: opts.items, elapsed: time.Since(start)}, nil
}

// benchSkipList inserts random priorities concurrently and then drains the
// list with concurrent takers.
func benchSkipList(ctx context.Context, opts options) (result, error) {
	list := lockfree.NewSkipList[float64, int](lockfree.MaxFirst)
	var taken atomic.Int64

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := range opts.producers {
		n := share(opts.items, opts.producers, p)
		g.Go(func() error {
			for i := range n {
				list.Insert(rand.Float64(), i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}

	g, gctx = errgroup.WithContext(ctx)
	for range opts.producers {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				if _, _, ok := list.Take(); !ok {
					return nil
				}
				taken.Add(1)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}
	if got := taken.Load(); got != int64(opts.items) {
		return result{}, fmt.Errorf("skip list yielded %d of %d items", got, opts.items)
	}
	return result{name: "skiplist", items: opts.items, elapsed: time.Since(start)}, nil
}

// share splits total across n workers, giving the remainder to the first ones.
func share(total, n, i int) int {
	s := total / n
	if i < total%n {
		s++
	}
	return s
}

func reportResources(out io.Writer) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		fmt.Fprintf(out, "process stats unavailable: %v\n", err)
		return
	}
	cpuPercent, _ := proc.CPUPercent()
	threads, _ := proc.NumThreads()

	var rssMB float64
	if info, err := proc.MemoryInfo(); err == nil && info != nil {
		rssMB = float64(info.RSS) / 1024 / 1024
	}
	fmt.Fprintf(out, "Process: CPU %.1f%%  RSS %.1f MB  threads %d\n", cpuPercent, rssMB, threads)

	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(out, "System memory: %.1f%% of %.1f GB used\n", vm.UsedPercent, float64(vm.Total)/1024/1024/1024)
	}
}
