package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weiihann/parbench/chaindata"
	"github.com/weiihann/parbench/state"
)

// SweepPlan is the grid of configurations measured by Sweep.
type SweepPlan struct {
	Threads []int
	Delays  []time.Duration
	Trials  int
	ChainID uint64
}

// DefaultSweepPlan returns the 1..8 threads by 0/5/10/20/50μs grid.
func DefaultSweepPlan() SweepPlan {
	return SweepPlan{
		Threads: []int{1, 2, 3, 4, 5, 6, 7, 8},
		Delays: []time.Duration{
			0,
			5 * time.Microsecond,
			10 * time.Microsecond,
			20 * time.Microsecond,
			50 * time.Microsecond,
		},
		Trials:  DefaultTrials,
		ChainID: DefaultChainID,
	}
}

// SweepRow is one measured point of a sweep.
type SweepRow struct {
	Parallelism int     `json:"parallelism"`
	DelayUs     int64   `json:"ssd_delay"`
	TPS         float64 `json:"tps"`
}

// Sweep runs the benchmark for every (threads, delay) pair of plan. A
// parallelism of one is reported as sequential throughput; every other
// point reports the parallel engine's.
func (r *Runner) Sweep(
	ctx context.Context,
	plan SweepPlan,
	block *chaindata.Block,
	snapshot *state.Cache,
) ([]SweepRow, error) {
	rows := make([]SweepRow, 0, len(plan.Threads)*len(plan.Delays))

	for _, threads := range plan.Threads {
		for _, delay := range plan.Delays {
			cfg := Config{
				Delay:      delay,
				Workers:    threads,
				Trials:     plan.Trials,
				Sequential: threads == 1,
				ChainID:    plan.ChainID,
			}

			res, err := r.Run(ctx, cfg, block, snapshot)
			if err != nil {
				return nil, fmt.Errorf("sweep threads=%d delay=%s: %w", threads, delay, err)
			}

			tps := res.ParallelTPS
			if cfg.Sequential {
				tps = res.SequentialTPS
			}

			r.Logger.InfoContext(ctx, "sweep point",
				slog.Int("parallelism", threads),
				slog.Int64("ssd_delay_us", delay.Microseconds()),
				slog.Float64("tps", tps),
			)

			rows = append(rows, SweepRow{
				Parallelism: threads,
				DelayUs:     delay.Microseconds(),
				TPS:         tps,
			})
		}
	}

	return rows, nil
}
