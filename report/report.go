// Package report formats benchmark results for the console, markdown, JSON
// and CSV.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/weiihann/parbench/harness"
)

// PrintRun writes the human-readable summary of one run.
func PrintRun(w io.Writer, r *harness.Result) {
	fmt.Fprintf(w, "SSD read delay: %dμs\n", r.DelayUs)
	fmt.Fprintf(w, "Fetched block number: %d\n", r.BlockNumber)
	fmt.Fprintf(w, "Found %d transactions.\n", r.Transactions)
	fmt.Fprintf(w, "Number of trials: %d\n", r.Trials)
	fmt.Fprintf(w, "Parallel execution time with %d threads: %s\n", r.Workers, r.ParallelMean)
	fmt.Fprintf(w, "Transactions per second (TPS): %.2f\n", r.ParallelTPS)

	if !r.Sequential {
		return
	}

	fmt.Fprintf(w, "Sequential execution time: %s\n", r.SequentialMean)
	fmt.Fprintf(w, "Parallel execution is %.2f%% faster than sequential execution.\n", r.SpeedupPercent)
	fmt.Fprintf(w, "Parallel execution is %.2fx faster than sequential execution.\n", r.SpeedupMultiplier)
	fmt.Fprintf(w, "Sequential transactions per second (STPS): %.2f\n", r.SequentialTPS)
}

// Generate writes a markdown table for the given results.
func Generate(w io.Writer, results []harness.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to report")
	}

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)

	if allVerified(results) {
		fmt.Fprintln(w, "Equivalence: **parallel matches sequential**")
	} else {
		fmt.Fprintln(w, "Equivalence: **not checked** (run with --sequential)")
	}

	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Block | Txs | Delay | Threads | Parallel | TPS "+
		"| Sequential | STPS | Speedup | Re-executed | Peak Mem |")
	fmt.Fprintln(w, "|-------|-----|-------|---------|----------|-----"+
		"|------------|------|---------|-------------|----------|")

	for _, r := range results {
		seqMean, stps, speedup := "-", "-", "-"
		if r.Sequential {
			seqMean = formatDuration(r.SequentialMean)
			stps = fmt.Sprintf("%.2f", r.SequentialTPS)
			speedup = fmt.Sprintf("%.2fx", r.SpeedupMultiplier)
		}

		fmt.Fprintf(w, "| %d | %d | %dμs | %d | %s | %.2f | %s | %s | %s | %d | %s |\n",
			r.BlockNumber,
			r.Transactions,
			r.DelayUs,
			r.Workers,
			formatDuration(r.ParallelMean),
			r.ParallelTPS,
			seqMean,
			stps,
			speedup,
			r.Reexecuted,
			formatBytes(r.PeakMemoryBytes),
		)
	}

	return nil
}

// GenerateJSON writes v as indented JSON to w.
func GenerateJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func allVerified(results []harness.Result) bool {
	for _, r := range results {
		if !r.Sequential {
			return false
		}
	}

	return true
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dμs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatBytes(b uint64) string {
	if b == 0 {
		return "-"
	}

	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(b)
	unit := 0

	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	formatted := fmt.Sprintf("%.1f", size)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")

	return formatted + " " + units[unit]
}
