package harness

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/weiihann/parbench/chaindata"
	"github.com/weiihann/parbench/execution"
	"github.com/weiihann/parbench/state"
)

// Runner benchmarks one machine over one block.
type Runner struct {
	Machine execution.Machine
	Logger  *slog.Logger
}

// NewRunner creates a Runner executing transactions with machine.
func NewRunner(machine execution.Machine, logger *slog.Logger) *Runner {
	return &Runner{
		Machine: machine,
		Logger:  logger,
	}
}

// Run times cfg.Trials parallel executions of block and, when requested,
// as many sequential replays, then verifies the results. snapshot is the
// pre-block state; it is read by the parallel engine and cloned for every
// sequential replay, never modified.
//
// There is no cancellation: ctx only scopes logging.
func (r *Runner) Run(
	ctx context.Context,
	cfg Config,
	block *chaindata.Block,
	snapshot *state.Cache,
) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	txs := len(block.Transactions)
	res := &Result{
		BlockNumber:  block.Number,
		Transactions: txs,
		DelayUs:      cfg.Delay.Microseconds(),
		Workers:      cfg.Workers,
		Trials:       cfg.Trials,
		Sequential:   cfg.Sequential,
	}

	r.Logger.InfoContext(ctx, "starting benchmark",
		slog.Uint64("block", block.Number),
		slog.Int("transactions", txs),
		slog.Duration("delay", cfg.Delay),
		slog.Int("workers", cfg.Workers),
		slog.Int("trials", cfg.Trials),
		slog.Bool("sequential", cfg.Sequential),
	)

	view := state.NewSlow(snapshot, cfg.Delay)

	parMean, last, err := r.timeTrials(ctx, PathParallel, cfg.Trials, func() (trial, error) {
		return parallelTrial(r.Machine, cfg, block, view)
	})
	if err != nil {
		return nil, err
	}
	if err := VerifyComplete(PathParallel, last.results, txs); err != nil {
		return nil, err
	}

	res.ParallelMean = parMean
	res.ParallelTPS = throughput(txs, parMean)
	res.Reexecuted = last.reexecuted

	if cfg.Sequential {
		seqMean, seqLast, err := r.timeTrials(ctx, PathSequential, cfg.Trials, func() (trial, error) {
			return sequentialTrial(r.Machine, cfg, block, snapshot)
		})
		if err != nil {
			return nil, err
		}
		if err := VerifyComplete(PathSequential, seqLast.results, txs); err != nil {
			return nil, err
		}
		if err := VerifyEqual(last.results, seqLast.results); err != nil {
			return nil, err
		}

		res.SequentialMean = seqMean
		res.SequentialTPS = throughput(txs, seqMean)
		res.SpeedupPercent, res.SpeedupMultiplier = speedup(seqMean, parMean)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	res.PeakMemoryBytes = m.Sys

	r.Logger.InfoContext(ctx, "benchmark finished",
		slog.Duration("parallel_mean", res.ParallelMean),
		slog.Duration("sequential_mean", res.SequentialMean),
		slog.Int("reexecuted", res.Reexecuted),
	)

	return res, nil
}

// timeTrials runs fn n times and returns the mean elapsed time together with
// the last trial.
func (r *Runner) timeTrials(
	ctx context.Context,
	path string,
	n int,
	fn func() (trial, error),
) (time.Duration, trial, error) {
	var (
		total time.Duration
		last  trial
	)

	for i := range n {
		t, err := fn()
		if err != nil {
			return 0, trial{}, fmt.Errorf("%s trial %d: %w", path, i, err)
		}

		r.Logger.DebugContext(ctx, "trial finished",
			slog.String("path", path),
			slog.Int("trial", i),
			slog.Duration("elapsed", t.elapsed),
		)

		total += t.elapsed
		last = t
	}

	return total / time.Duration(n), last, nil
}
