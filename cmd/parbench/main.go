// Package main provides the CLI entry point for parbench, a differential
// benchmark of parallel block execution against sequential replay under
// simulated storage latency.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/parbench/chaindata"
	"github.com/weiihann/parbench/gethvm"
	"github.com/weiihann/parbench/harness"
	"github.com/weiihann/parbench/report"
	"github.com/weiihann/parbench/snapshot"
	"github.com/weiihann/parbench/state"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	root := newRootCmd(logger, level)
	if err := root.Execute(); err != nil {
		logger.Error("parbench failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "parbench",
		Short: "Parallel versus sequential block execution benchmark",
		Long: `Parbench executes the transactions of one block with a parallel
engine and, optionally, with plain sequential replay, reading state through a
view that sleeps before every storage read. It reports mean wall-clock time,
throughput and speedup, and checks that both paths produce identical results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				level.Set(slog.LevelDebug)
			}
		},
	}

	root.PersistentFlags().BoolVar(&verbose, "verbose", false,
		"Log individual trial timings")

	root.AddCommand(newRunCmd(logger))
	root.AddCommand(newSweepCmd(logger))
	root.AddCommand(newGenerateCmd(logger))

	return root
}

// sourceFlags selects where the block and its pre-state come from.
type sourceFlags struct {
	block       uint64
	chainID     uint64
	rpcURL      string
	blockFile   string
	snapshotDir string
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Uint64Var(&s.block, "block", harness.DefaultBlock,
		"Block number to benchmark")
	flags.Uint64Var(&s.chainID, "chain-id", harness.DefaultChainID,
		"Chain id used to select the EVM fork rules")
	flags.StringVar(&s.rpcURL, "rpc-url", os.Getenv("PARBENCH_RPC_URL"),
		"JSON-RPC endpoint to fetch the block from (default $PARBENCH_RPC_URL)")
	flags.StringVar(&s.blockFile, "block-file", "",
		"Read the block from a JSON file instead of RPC")
	flags.StringVar(&s.snapshotDir, "snapshot-dir", "db",
		"Directory holding cache_db_<block>.json snapshots")
}

// load fetches the block and its snapshot.
func (s *sourceFlags) load(ctx context.Context, logger *slog.Logger) (*chaindata.Block, *state.Cache, error) {
	block, err := s.fetchBlock(ctx)
	if err != nil {
		return nil, nil, err
	}

	logger.InfoContext(ctx, "block fetched",
		slog.Uint64("block", block.Number),
		slog.Int("transactions", len(block.Transactions)),
	)

	db, err := snapshot.Load(s.snapshotDir, block.Number)
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}

	logger.InfoContext(ctx, "snapshot loaded",
		slog.String("path", snapshot.Path(s.snapshotDir, block.Number)),
		slog.Int("accounts", db.Len()),
	)

	return block, db, nil
}

func (s *sourceFlags) fetchBlock(ctx context.Context) (*chaindata.Block, error) {
	if s.blockFile != "" {
		block, err := chaindata.ReadBlock(s.blockFile)
		if err != nil {
			return nil, fmt.Errorf("fetch block: %w", err)
		}

		return block, nil
	}

	if s.rpcURL == "" {
		return nil, fmt.Errorf("no block source: set --rpc-url, $PARBENCH_RPC_URL or --block-file")
	}

	provider, err := chaindata.DialRPC(ctx, s.rpcURL, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	defer provider.Close()

	block, err := provider.BlockByNumber(ctx, s.block)
	if err != nil {
		return nil, fmt.Errorf("fetch block %d: %w", s.block, err)
	}

	return block, nil
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		source     sourceFlags
		delayUs    int64
		threads    int
		trials     int
		sequential bool
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark one block at one delay and thread count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			block, db, err := source.load(ctx, logger)
			if err != nil {
				return err
			}

			cfg := harness.Config{
				Delay:      time.Duration(delayUs) * time.Microsecond,
				Workers:    threads,
				Trials:     trials,
				Sequential: sequential,
				ChainID:    source.chainID,
			}

			res, err := harness.NewRunner(gethvm.NewMachine(), logger).Run(ctx, cfg, block, db)
			if err != nil {
				return fmt.Errorf("benchmark block %d: %w", block.Number, err)
			}

			if outputJSON {
				if err := report.GenerateJSON(os.Stdout, res); err != nil {
					return fmt.Errorf("generate JSON report: %w", err)
				}

				return nil
			}

			report.PrintRun(os.Stdout, res)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int64VarP(&delayUs, "delay-us", "d", 0,
		"Simulated storage read delay in microseconds")
	flags.IntVarP(&threads, "threads", "t", harness.DefaultWorkers(),
		"Worker threads for the parallel engine")
	flags.IntVar(&trials, "trials", harness.DefaultTrials,
		"Timed executions per path")
	flags.BoolVarP(&sequential, "sequential", "s", false,
		"Also time sequential replay and verify equivalence")
	flags.BoolVar(&outputJSON, "json", false,
		"Output the result as JSON")
	source.register(cmd)

	_ = cmd.MarkFlagRequired("delay-us")

	return cmd
}
