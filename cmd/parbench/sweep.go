package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/parbench/gethvm"
	"github.com/weiihann/parbench/harness"
	"github.com/weiihann/parbench/report"
)

func newSweepCmd(logger *slog.Logger) *cobra.Command {
	var (
		source    sourceFlags
		threads   []int
		delaysUs  []int
		trials    int
		csvPath   string
		chartPath string
		fromCSV   string
	)

	defaults := harness.DefaultSweepPlan()
	defaultDelays := make([]int, len(defaults.Delays))
	for i, d := range defaults.Delays {
		defaultDelays[i] = int(d.Microseconds())
	}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Measure TPS over a grid of thread counts and storage delays",
		Long: `Sweep runs the benchmark for every thread count and delay pair and
writes one parallelism,ssd_delay,tps row per pair. A thread count of one is
measured with sequential replay. With --from-csv no benchmark runs and the
chart is rendered from an earlier sweep.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if fromCSV != "" {
				f, err := os.Open(fromCSV)
				if err != nil {
					return fmt.Errorf("open %s: %w", fromCSV, err)
				}
				defer f.Close()

				rows, err := report.ReadCSV(f)
				if err != nil {
					return fmt.Errorf("parse %s: %w", fromCSV, err)
				}

				return writeChart(chartPath, rows)
			}

			block, db, err := source.load(ctx, logger)
			if err != nil {
				return err
			}

			plan := harness.SweepPlan{
				Threads: threads,
				Trials:  trials,
				ChainID: source.chainID,
			}
			for _, d := range delaysUs {
				plan.Delays = append(plan.Delays, time.Duration(d)*time.Microsecond)
			}

			rows, err := harness.NewRunner(gethvm.NewMachine(), logger).Sweep(ctx, plan, block, db)
			if err != nil {
				return err
			}

			out := os.Stdout
			if csvPath != "" {
				f, err := os.Create(csvPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", csvPath, err)
				}
				defer f.Close()

				out = f
			}

			if err := report.GenerateCSV(out, rows); err != nil {
				return fmt.Errorf("write sweep csv: %w", err)
			}

			logger.InfoContext(ctx, "sweep complete", slog.Int("points", len(rows)))

			return writeChart(chartPath, rows)
		},
	}

	flags := cmd.Flags()
	flags.IntSliceVar(&threads, "threads", defaults.Threads,
		"Thread counts to measure")
	flags.IntSliceVar(&delaysUs, "delays", defaultDelays,
		"Storage read delays in microseconds")
	flags.IntVar(&trials, "trials", harness.DefaultTrials,
		"Timed executions per point")
	flags.StringVar(&csvPath, "csv", "",
		"Write rows to this CSV file instead of stdout")
	flags.StringVar(&chartPath, "chart", "",
		"Render an HTML chart to this file")
	flags.StringVar(&fromCSV, "from-csv", "",
		"Chart an existing sweep CSV without running the benchmark")
	source.register(cmd)

	return cmd
}

func writeChart(path string, rows []harness.SweepRow) error {
	if path == "" {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := report.Chart(f, rows); err != nil {
		f.Close()

		return fmt.Errorf("render chart: %w", err)
	}

	return f.Close()
}
