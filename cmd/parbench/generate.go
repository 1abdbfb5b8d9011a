package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/parbench/chaindata"
	"github.com/weiihann/parbench/snapshot"
	"github.com/weiihann/parbench/workload"
)

type generateConfig struct {
	workload workload.Config
	outDir   string
}

func newGenerateCmd(logger *slog.Logger) *cobra.Command {
	var cfg generateConfig

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic block and its pre-state snapshot",
		Long: fmt.Sprintf(`Generate a deterministic block of transfers, counter-contract calls
and contract creations together with the snapshot it executes against. Run it
with: parbench run --block-file <out-dir>/block_<n>.json --snapshot-dir <out-dir> --chain-id %d`,
			workload.ChainID),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return generateWorkload(cmd.Context(), logger, cfg)
		},
	}

	wl := &cfg.workload
	flags := cmd.Flags()
	flags.IntVar(&wl.NumAccounts, "accounts", 1000,
		"Number of funded EOA accounts")
	flags.IntVar(&wl.NumContracts, "contracts", 100,
		"Number of counter contracts")
	flags.IntVar(&wl.Transfers, "transfers", 200,
		"Value transfers in the block")
	flags.IntVar(&wl.Calls, "calls", 200,
		"Counter-contract calls in the block")
	flags.IntVar(&wl.Creates, "creates", 20,
		"Contract creations in the block")
	flags.IntVar(&wl.MaxSlots, "max-slots", 1000,
		"Maximum storage slots per contract")
	flags.IntVar(&wl.MinSlots, "min-slots", 1,
		"Minimum storage slots per contract")
	flags.StringVar(&wl.Distribution, "distribution", "power-law",
		"Storage slot distribution: power-law, uniform, exponential")
	flags.Int64Var(&wl.Seed, "seed", 0,
		"Random seed (0 = use current time)")
	flags.Uint64Var(&wl.BlockNumber, "block", 1,
		"Number of the generated block")
	flags.StringVar(&cfg.outDir, "out-dir", "db",
		"Directory to write the block and snapshot to")

	return cmd
}

func generateWorkload(ctx context.Context, logger *slog.Logger, cfg generateConfig) error {
	wcfg := cfg.workload
	if wcfg.Seed == 0 {
		wcfg.Seed = time.Now().UnixNano()
	}

	w, err := workload.NewGenerator(wcfg).Generate()
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	snapPath, err := snapshot.Save(cfg.outDir, w.Snapshot)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	blockPath, err := chaindata.WriteBlock(cfg.outDir, w.Block)
	if err != nil {
		return fmt.Errorf("save block: %w", err)
	}

	logger.InfoContext(ctx, "workload generated",
		slog.String("block", blockPath),
		slog.String("snapshot", snapPath),
		slog.Int64("seed", wcfg.Seed),
		slog.Int("transactions", w.Summary.Transactions),
		slog.Int("transfers", w.Summary.Transfers),
		slog.Int("calls", w.Summary.Calls),
		slog.Int("creates", w.Summary.Creates),
		slog.Int("accounts", w.Summary.AccountsCreated),
		slog.Int("contracts", w.Summary.ContractsCreated),
		slog.Int("storage_slots", w.Summary.StorageSlots),
	)

	return nil
}
