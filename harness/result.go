// Package harness benchmarks a parallel block executor against sequential
// replay of the same block and checks that both produce the same results.
package harness

import "time"

// Result holds the measurements of one benchmark run.
type Result struct {
	BlockNumber  uint64 `json:"block_number"`
	Transactions int    `json:"transactions"`
	DelayUs      int64  `json:"delay_us"`
	Workers      int    `json:"workers"`
	Trials       int    `json:"trials"`

	ParallelMean time.Duration `json:"parallel_mean_ns"`
	ParallelTPS  float64       `json:"parallel_tps"`
	// Reexecuted counts transactions the parallel engine ran twice in its
	// last trial.
	Reexecuted int `json:"reexecuted"`

	Sequential        bool          `json:"sequential"`
	SequentialMean    time.Duration `json:"sequential_mean_ns,omitempty"`
	SequentialTPS     float64       `json:"sequential_tps,omitempty"`
	SpeedupPercent    float64       `json:"speedup_percent,omitempty"`
	SpeedupMultiplier float64       `json:"speedup_multiplier,omitempty"`

	PeakMemoryBytes uint64 `json:"peak_memory_bytes"`
}

// throughput returns transactions per second for the given mean latency.
func throughput(txs int, mean time.Duration) float64 {
	if mean <= 0 {
		return 0
	}

	return float64(txs) / mean.Seconds()
}

// speedup compares the two mean latencies. Both results are zero when either
// mean is not positive.
func speedup(seq, par time.Duration) (percent, multiplier float64) {
	if seq <= 0 || par <= 0 {
		return 0, 0
	}

	s, p := seq.Seconds(), par.Seconds()

	return (s - p) / s * 100, s / p
}
